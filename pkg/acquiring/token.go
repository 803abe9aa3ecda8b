package acquiring

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// SecretField is the key under which the shared terminal secret joins the signed values.
// It is sorted together with the request's own field names.
const SecretField = "password"

// ErrUnauthorized is returned when a request token does not match its fields.
var ErrUnauthorized = errors.New("acquiring: token mismatch")

// Signable is implemented by every message that carries a token.
type Signable interface {
	// SignableFields returns field name -> canonical string value for every signed field.
	SignableFields() map[string]string
	// RequestToken returns the token carried on the message.
	RequestToken() string
}

// GenerateToken signs fields with secret.
//
// Values (never keys) are concatenated in ascending key order, the secret included under
// SecretField, and the SHA-256 digest of the result is returned hex encoded. The output
// depends only on the inputs, so a merchant and the acquirer compute it independently.
func GenerateToken(fields map[string]string, secret string) string {
	values := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[SecretField] = secret

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(values[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ValidateToken recomputes the token from the message's own fields and compares it with the
// token it carries.
func ValidateToken(msg Signable, secret string) error {
	expected := GenerateToken(msg.SignableFields(), secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(msg.RequestToken())) != 1 {
		return ErrUnauthorized
	}
	return nil
}
