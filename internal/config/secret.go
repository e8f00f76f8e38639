package config

import "strconv"

const redacted = "[REDACTED]"

// Secret holds a token or URL with embedded credentials. Every print and
// encode path yields a placeholder; only Value returns the cleartext.
type Secret string

// IsSet reports whether a value was configured
func (s Secret) IsSet() bool {
	return s != ""
}

// Value returns the cleartext for the one place that needs it
func (s Secret) Value() string {
	return string(s)
}

func (s Secret) placeholder() string {
	if !s.IsSet() {
		return ""
	}
	return redacted
}

func (s Secret) String() string {
	return s.placeholder()
}

// GoString covers %#v
func (s Secret) GoString() string {
	return strconv.Quote(s.placeholder())
}

// MarshalText redacts in every text encoding: JSON, YAML and TOML.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.placeholder()), nil
}
