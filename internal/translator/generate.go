package translator

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errNotObject = errors.New("request body must be a JSON object")

// LineFunc converts one raw backend line into the bytes written to the
// caller, framing included.
type LineFunc func(line []byte) ([]byte, error)

// GenerateRequest is the freeform payload accepted by the generate route.
// The model field packs "<token> <model-name>"; every other member is
// forwarded to the backend untouched.
type GenerateRequest struct {
	Model   string
	payload map[string]any
}

// UnmarshalJSON implements custom parsing to enforce validation. A missing
// or non-string model field parses successfully with an empty Model, which
// the credential check rejects downstream.
func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode generate request: %w", err)
	}
	if raw == nil {
		return errNotObject
	}

	model, _ := raw["model"].(string)

	r.Model = model
	r.payload = raw
	return nil
}

// Resolve returns the backend payload: the inbound members with the model
// field rewritten to the bare model name.
func (r *GenerateRequest) Resolve(model string) map[string]any {
	out := make(map[string]any, len(r.payload)+1)
	for k, v := range r.payload {
		out[k] = v
	}
	out["model"] = model
	return out
}

// Passthrough frames a backend line unchanged with a single trailing
// newline.
func Passthrough(line []byte) ([]byte, error) {
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	return append(out, '\n'), nil
}
