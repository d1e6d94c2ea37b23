package translate

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llamad/pkg/types"
)

const dataPrefix = "data: "

// zlog is an optional structured logger for skipped backend fragments.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the translation layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// Result summarizes a finished translation for metrics accounting.
type Result struct {
	Usage        types.Usage
	FinishReason string
	// Time to first generated token. Zero when no token arrived.
	TTFT time.Duration
	// Full assistant text, accumulated for non-streaming responses.
	Text string
}

// Stream translates the native /completion SSE byte stream into OpenAI chunk
// events. Feed accepts arbitrary byte slices: partial lines are buffered
// until their terminating newline arrives, so chunked reads split mid-line
// or mid-rune produce the same output as a single contiguous read.
type Stream struct {
	id      string
	model   string
	created int64
	now     func() time.Time

	buf          bytes.Buffer
	roleSent     bool
	done         bool
	startAt      time.Time
	firstTokenAt time.Time
	draftEvents  int
	skipped      int
	text         strings.Builder
	usage        types.Usage
	finishReason string
}

// NewStream begins a translation session for one request. now is injectable
// for deterministic latency tests.
func NewStream(model string, now func() time.Time) *Stream {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Stream{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: t.Unix(),
		now:     now,
		startAt: t,
	}
}

// ID returns the chat completion ID shared by every emitted chunk.
func (s *Stream) ID() string { return s.id }

// Done reports whether the native stream signalled its final event.
func (s *Stream) Done() bool { return s.done }

// Feed consumes raw bytes from the native stream and returns the OpenAI
// chunks they complete. A data line that fails to parse is logged and
// skipped; one junk fragment never ends an otherwise healthy generation.
func (s *Stream) Feed(p []byte) []types.ChatCompletionChunk {
	s.buf.Write(p)
	var chunks []types.ChatCompletionChunk
	for {
		line, ok := s.nextLine()
		if !ok {
			return chunks
		}
		if s.done {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			// Comment lines and empty keep-alives are legal SSE.
			continue
		}
		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == "[DONE]" {
			continue
		}
		var ev nativeEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			s.skipped++
			if zlog != nil {
				zlog.Warn().Err(err).Str("line", clip(payload, 200)).Msg("skipping unparseable backend event")
			}
			continue
		}
		chunks = append(chunks, s.apply(&ev)...)
	}
}

// Skipped reports how many unparseable data lines were dropped.
func (s *Stream) Skipped() int { return s.skipped }

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (s *Stream) nextLine() (string, bool) {
	b := s.buf.Bytes()
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(b[:i], "\r"))
	s.buf.Next(i + 1)
	return strings.TrimSpace(line), true
}

func (s *Stream) apply(ev *nativeEvent) []types.ChatCompletionChunk {
	var chunks []types.ChatCompletionChunk
	if ev.Draft {
		s.draftEvents++
	}
	if ev.Content != "" {
		if s.firstTokenAt.IsZero() {
			s.firstTokenAt = s.now()
		}
		s.text.WriteString(ev.Content)
		delta := types.MessageDelta{Content: ev.Content}
		if !s.roleSent {
			delta.Role = "assistant"
			s.roleSent = true
		}
		chunks = append(chunks, s.chunk(types.StreamChoice{Delta: delta}))
	}
	if ev.Stop {
		s.done = true
		s.finishReason = ev.finishReason()
		s.usage = s.usageFrom(ev)
		reason := s.finishReason
		chunks = append(chunks, s.chunk(types.StreamChoice{FinishReason: &reason}))
	}
	return chunks
}

// usageFrom derives token counts from the final event. The timings block is
// authoritative when present; top-level counters are the fallback. Draft
// attribution prefers timings.draft_n_accepted and falls back to counting
// per-event draft markers.
func (s *Stream) usageFrom(ev *nativeEvent) types.Usage {
	u := types.Usage{
		PromptTokens:     ev.TokensEvaluated,
		CompletionTokens: ev.TokensPredicted,
		DraftTokens:      s.draftEvents,
	}
	if t := ev.Timings; t != nil {
		if t.PromptN > 0 {
			u.PromptTokens = t.PromptN
		}
		if t.PredictedN > 0 {
			u.CompletionTokens = t.PredictedN
		}
		if t.DraftNAccepted > 0 {
			u.DraftTokens = t.DraftNAccepted
		}
	}
	if u.DraftTokens > u.CompletionTokens {
		u.DraftTokens = u.CompletionTokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func (s *Stream) chunk(choice types.StreamChoice) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.StreamChoice{choice},
	}
}

// UsageChunk is the final frame carrying usage and no choices, emitted after
// the finish chunk.
func (s *Stream) UsageChunk() types.ChatCompletionChunk {
	u := s.usage
	return types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.StreamChoice{},
		Usage:   &u,
	}
}

// ErrorChunk renders an in-band terminal error for a stream that already
// delivered content and cannot change its HTTP status.
func (s *Stream) ErrorChunk(msg string) types.ChatCompletionChunk {
	reason := "error"
	return types.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []types.StreamChoice{{
			Delta:        types.MessageDelta{Content: "\n[error] " + msg},
			FinishReason: &reason,
		}},
	}
}

// Result returns the accumulated accounting. Valid once Done is true, and
// best-effort before that.
func (s *Stream) Result() Result {
	r := Result{
		Usage:        s.usage,
		FinishReason: s.finishReason,
		Text:         s.text.String(),
	}
	if !s.firstTokenAt.IsZero() {
		r.TTFT = s.firstTokenAt.Sub(s.startAt)
	}
	return r
}

// Response assembles the non-streaming response object from a finished
// stream.
func (s *Stream) Response() types.ChatCompletionResponse {
	return types.ChatCompletionResponse{
		ID:      s.id,
		Object:  "chat.completion",
		Created: s.created,
		Model:   s.model,
		Choices: []types.ChatCompletionChoice{{
			Message:      types.ChatMessage{Role: "assistant", Content: s.text.String()},
			FinishReason: s.finishReason,
		}},
		Usage: s.usage,
	}
}
