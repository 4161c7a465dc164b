// Package signature validates webhook authenticity. The provider signs the
// exact raw request bytes with HMAC-SHA256 and sends the hex digest in an
// X-Hub-Signature-256 header as "sha256=<hexdigest>".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrNoSecret           = errors.New("no signing secret configured")
	ErrMismatch           = errors.New("signature mismatch")
)

// SecretSource resolves the signing secret for a channel identified by its
// provider phone id. ok is false when no channel or no secret is known.
type SecretSource func(phoneID string) (secret string, ok bool)

type Verifier struct {
	secrets SecretSource
	// defaultSecret applies only to payloads that carry no
	// channel-identifying field. An empty value means reject those.
	defaultSecret string
}

func NewVerifier(secrets SecretSource, defaultSecret string) *Verifier {
	return &Verifier{secrets: secrets, defaultSecret: defaultSecret}
}

// Verify checks header against the HMAC of body. phoneID is the provider
// phone identifier extracted from the payload, or "" when absent. A signed
// request for a channel with no configured secret is rejected: "no secret"
// is never treated as "trust blindly".
func (v *Verifier) Verify(body []byte, header, phoneID string) error {
	if header == "" {
		return ErrMissingSignature
	}

	digest, ok := strings.CutPrefix(header, "sha256=")
	if !ok || digest == "" {
		return ErrMalformedSignature
	}
	provided, err := hex.DecodeString(digest)
	if err != nil {
		return ErrMalformedSignature
	}

	secret, err := v.resolveSecret(phoneID)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}

func (v *Verifier) resolveSecret(phoneID string) (string, error) {
	if phoneID != "" {
		if secret, ok := v.secrets(phoneID); ok && secret != "" {
			return secret, nil
		}
		return "", ErrNoSecret
	}
	if v.defaultSecret == "" {
		return "", ErrNoSecret
	}
	return v.defaultSecret, nil
}
