package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"llamad/pkg/types"
)

// Backend talks to one llama-server instance.
type Backend struct {
	BaseURL string
	Client  *http.Client
	// Now overrides the clock for latency accounting in tests.
	Now func() time.Time
}

type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.body)
}

// IsUpstreamError reports whether err is a non-200 answer from the backend.
func IsUpstreamError(err error) bool {
	_, ok := err.(*upstreamError)
	return ok
}

// open POSTs the native request and returns the SSE body reader.
func (b *Backend) open(ctx context.Context, req types.ChatCompletionRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(buildNativeRequest(req))
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := b.Client.Do(hreq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &upstreamError{status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}
	return resp.Body, nil
}

// ChatStream proxies one streaming chat completion: native SSE in, OpenAI
// SSE out. Errors before the first byte reaches the client are returned so
// the caller can map them to an HTTP status; errors after that are
// terminated in-band with an error chunk and reported as a nil error.
func (b *Backend) ChatStream(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) (Result, error) {
	rc, err := b.open(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer rc.Close()

	s := NewStream(req.Model, b.Now)
	wrote := false
	buf := make([]byte, 4096)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			chunks := s.Feed(buf[:n])
			if werr := writeChunks(w, flush, chunks); werr != nil {
				return s.Result(), nil
			}
			if len(chunks) > 0 {
				wrote = true
			}
		}
		if s.Done() {
			break
		}
		if rerr == io.EOF {
			// Backend closed without a final event: surface it.
			return b.abortStream(s, w, flush, wrote, fmt.Errorf("backend stream ended unexpectedly"))
		}
		if rerr != nil {
			if ctx.Err() != nil {
				// Client went away; nothing left to tell it.
				return s.Result(), nil
			}
			return b.abortStream(s, w, flush, wrote, rerr)
		}
	}

	writeChunks(w, flush, []types.ChatCompletionChunk{s.UsageChunk()})
	writeDone(w, flush)
	return s.Result(), nil
}

// abortStream ends a broken stream. If nothing was written yet the error is
// returned for status mapping; otherwise it goes in-band.
func (b *Backend) abortStream(s *Stream, w io.Writer, flush func(), wrote bool, cause error) (Result, error) {
	if !wrote {
		return s.Result(), cause
	}
	writeChunks(w, flush, []types.ChatCompletionChunk{s.ErrorChunk(cause.Error())})
	writeDone(w, flush)
	return s.Result(), nil
}

// Chat runs a non-streaming chat completion by draining the backend stream
// and assembling the full response object.
func (b *Backend) Chat(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, Result, error) {
	rc, err := b.open(ctx, req)
	if err != nil {
		return types.ChatCompletionResponse{}, Result{}, err
	}
	defer rc.Close()

	s := NewStream(req.Model, b.Now)
	buf := make([]byte, 4096)
	for !s.Done() {
		n, rerr := rc.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if rerr == io.EOF {
			if !s.Done() {
				return types.ChatCompletionResponse{}, s.Result(), fmt.Errorf("backend stream ended unexpectedly")
			}
			break
		}
		if rerr != nil {
			return types.ChatCompletionResponse{}, s.Result(), rerr
		}
	}
	return s.Response(), s.Result(), nil
}

func writeChunks(w io.Writer, flush func(), chunks []types.ChatCompletionChunk) error {
	for _, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
	}
	if len(chunks) > 0 && flush != nil {
		flush()
	}
	return nil
}

func writeDone(w io.Writer, flush func()) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flush != nil {
		flush()
	}
}
