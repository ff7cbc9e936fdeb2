package id

import "github.com/google/uuid"

// New returns a random request id.
func New() string {
	return uuid.NewString()
}

// FromHeader returns a caller supplied id when it looks sane, or a new one.
func FromHeader(value string) string {
	if value == "" || len(value) > 128 {
		return New()
	}
	for _, r := range value {
		if r <= ' ' || r > '~' {
			return New()
		}
	}
	return value
}
