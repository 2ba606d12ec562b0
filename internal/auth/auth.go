package auth

import "strings"

// Validator checks the shared secret presented by inbound requests.
type Validator struct {
	secret string
}

// NewValidator constructs a validator holding the configured secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: secret}
}

// TokenValid reports whether the candidate credential matches the configured
// secret byte for byte. An invalid credential is a normal outcome, not an
// error; callers decide how to reject.
func (v *Validator) TokenValid(token string) bool {
	return token == v.secret
}

// SplitModelField separates the credential and model name packed into a
// generate-mode model value as "<token> <model-name>". The credential is the
// first whitespace-separated field, the model name the second; either is
// empty when absent, and an empty credential never matches a non-empty
// secret.
func SplitModelField(field string) (token, model string) {
	fields := strings.Fields(field)
	if len(fields) > 0 {
		token = fields[0]
	}
	if len(fields) > 1 {
		model = fields[1]
	}
	return token, model
}
