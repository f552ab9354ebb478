package types

import (
	"errors"
	"log/slog"
)

// ErrNotConfigured is returned when a user has no stored portal credentials.
var ErrNotConfigured = errors.New("portal credentials not configured")

// ErrProfileNotFound is returned when a user has no stored profile.
var ErrProfileNotFound = errors.New("user profile not found")

const redacted = "[REDACTED]"

// Secret holds a credential secret. It never prints, logs, or marshals its value.
type Secret struct {
	value string
}

// NewSecret wraps a plaintext secret.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the plaintext. Only the site adapter's login step should call it.
func (s Secret) Reveal() string {
	return s.value
}

// Empty reports whether no secret is set.
func (s Secret) Empty() bool {
	return s.value == ""
}

func (s Secret) String() string {
	return redacted
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Credentials are resolved portal credentials.
type Credentials struct {
	Identity string `json:"identity"`
	Secret   Secret `json:"secret"`
}
