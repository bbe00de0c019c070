package api

import (
	"fmt"

	"github.com/goccy/go-json"
)

// TranslationRequest is the body of POST /v1/translations.
type TranslationRequest struct {
	Input     InputValue `json:"input"`
	BeamWidth *int       `json:"beam_width,omitempty"`
	MaxSteps  *int       `json:"max_steps,omitempty"`
}

// InputValue accepts either a single sentence or an array of sentences.
type InputValue struct {
	String *string
	Items  []string
}

func (v *InputValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return fmt.Errorf("input: nil receiver")
	}
	if len(b) == 0 || string(b) == "null" {
		*v = InputValue{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		v.String = &s
		v.Items = nil
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		v.Items = items
		v.String = nil
		return nil
	default:
		return fmt.Errorf("input: expected string or array of strings")
	}
}

func (v InputValue) MarshalJSON() ([]byte, error) {
	if v.String != nil {
		return json.Marshal(*v.String)
	}
	if v.Items != nil {
		return json.Marshal(v.Items)
	}
	return []byte("null"), nil
}

// TranslationObject is the API shape of one served translation.
type TranslationObject struct {
	ID         string  `json:"id"`
	Object     string  `json:"object"`
	CreatedAt  int64   `json:"created_at"`
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	Score      float64 `json:"score"`
	AvgLogProb float64 `json:"avg_log_prob"`
	TokenCount int     `json:"token_count"`
	Finished   bool    `json:"finished"`
	Cached     bool    `json:"cached"`
}

// TranslationBatch groups the per-item outcomes of an array request.
// Failed items carry an error in place of a translation; the batch
// itself always reports 200.
type TranslationBatch struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	CreatedAt int64       `json:"created_at"`
	Data      []BatchItem `json:"data"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

type BatchItem struct {
	Index       int                `json:"index"`
	Translation *TranslationObject `json:"translation,omitempty"`
	Error       *ResponseError     `json:"error,omitempty"`
}

// ResponseError is the structured error body used on every failure path.
type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type DeleteTranslationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
