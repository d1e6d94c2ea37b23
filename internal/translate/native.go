package translate

// nativeTimings mirrors the llama-server timings block attached to the final
// completion event. draft_n/draft_n_accepted appear only when the server
// runs with a speculative draft model.
type nativeTimings struct {
	PromptN        int     `json:"prompt_n"`
	PredictedN     int     `json:"predicted_n"`
	PromptMS       float64 `json:"prompt_ms"`
	PredictedMS    float64 `json:"predicted_ms"`
	DraftN         int     `json:"draft_n"`
	DraftNAccepted int     `json:"draft_n_accepted"`
}

// nativeEvent is one `data:` frame of the llama-server /completion stream.
type nativeEvent struct {
	Content         string         `json:"content"`
	Stop            bool           `json:"stop"`
	Draft           bool           `json:"draft"`
	TokensPredicted int            `json:"tokens_predicted"`
	TokensEvaluated int            `json:"tokens_evaluated"`
	StoppedEOS      bool           `json:"stopped_eos"`
	StoppedWord     bool           `json:"stopped_word"`
	StoppedLimit    bool           `json:"stopped_limit"`
	Timings         *nativeTimings `json:"timings"`
}

// finishReason maps the native stop flags onto the OpenAI vocabulary.
func (ev *nativeEvent) finishReason() string {
	if ev.StoppedLimit {
		return "length"
	}
	return "stop"
}
