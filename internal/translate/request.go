// Package translate converts between the OpenAI chat-completions dialect and
// the llama-server native completion protocol, in both directions: requests
// are rendered into ChatML prompts, and the native SSE stream is re-emitted
// as OpenAI chunk events with usage accounting.
package translate

import (
	"strings"

	"llamad/pkg/types"
)

// chatMLStop terminates each ChatML block; the backend must treat it as a
// stop sequence or it will happily generate the next turn itself.
const chatMLStop = "<|im_end|>"

// BuildPrompt renders chat messages into a ChatML prompt with a trailing
// open assistant block for the model to complete.
func BuildPrompt(messages []types.ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		b.WriteString("<|im_start|>")
		b.WriteString(role)
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString(chatMLStop)
		b.WriteString("\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// nativeRequest is the llama-server POST /completion body.
type nativeRequest struct {
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	CachePrompt bool     `json:"cache_prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MinP             *float64 `json:"min_p,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// buildNativeRequest maps an OpenAI chat request onto the native body. The
// ChatML stop marker is always appended to the stop list.
func buildNativeRequest(req types.ChatCompletionRequest) nativeRequest {
	nr := nativeRequest{
		Prompt:           BuildPrompt(req.Messages),
		Stream:           true,
		CachePrompt:      true,
		NPredict:         req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		MinP:             req.MinP,
		Seed:             req.Seed,
		RepeatPenalty:    req.RepeatPenalty,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
	}
	nr.Stop = append(nr.Stop, req.Stop...)
	nr.Stop = append(nr.Stop, chatMLStop)
	return nr
}
