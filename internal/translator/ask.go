package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingQuestion = errors.New("question must be provided")
	errEmptyQuestion   = errors.New("question must not be empty")
	errMissingToken    = errors.New("token must be provided")
)

// AskRequest is the structured payload accepted by the ask route. The model
// name is fixed by configuration, never derived from the request.
type AskRequest struct {
	Question string
	Token    string
}

// UnmarshalJSON implements custom parsing to enforce validation. An empty
// token parses; it fails the credential check instead of the schema check.
func (r *AskRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Question *string `json:"question"`
		Token    *string `json:"token"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode ask request: %w", err)
	}

	if raw.Question == nil {
		return errMissingQuestion
	}
	if raw.Token == nil {
		return errMissingToken
	}

	r.Question = *raw.Question
	r.Token = *raw.Token
	return r.validate()
}

func (r *AskRequest) validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errEmptyQuestion
	}
	return nil
}

type backendLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type responseLine struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
}

// Reshape parses a backend line, reads the text fragment and the completion
// flag, and re-frames them under the ask wire schema with a trailing
// newline. A line that is not valid JSON aborts the relay.
func Reshape(line []byte) ([]byte, error) {
	var parsed backendLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		return nil, fmt.Errorf("decode backend line: %w", err)
	}

	out, err := json.Marshal(responseLine{Token: parsed.Response, Done: parsed.Done})
	if err != nil {
		return nil, fmt.Errorf("encode response line: %w", err)
	}
	return append(out, '\n'), nil
}
