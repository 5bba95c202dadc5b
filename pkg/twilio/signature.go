package twilio

import (
	"errors"
	"net/url"

	twclient "github.com/twilio/twilio-go/client"
)

const SignatureHeader = "X-Twilio-Signature"

var (
	ErrSignatureMissing = errors.New("signature header missing")
	ErrSignatureInvalid = errors.New("invalid signature")
)

// SignatureValidator checks X-Twilio-Signature on webhook requests.
// A validator with an empty token accepts everything (local development).
type SignatureValidator struct {
	enabled   bool
	validator twclient.RequestValidator
}

func NewSignatureValidator(authToken string, enabled bool) *SignatureValidator {
	return &SignatureValidator{
		enabled:   enabled && authToken != "",
		validator: twclient.NewRequestValidator(authToken),
	}
}

// Verify validates signature against the full request URL and POST form.
func (v *SignatureValidator) Verify(fullURL string, form url.Values, signature string) error {
	if !v.enabled {
		return nil
	}
	if signature == "" {
		return ErrSignatureMissing
	}

	params := make(map[string]string, len(form))
	for k, values := range form {
		if len(values) > 0 {
			params[k] = values[0]
		}
	}
	if !v.validator.Validate(fullURL, params, signature) {
		return ErrSignatureInvalid
	}
	return nil
}
