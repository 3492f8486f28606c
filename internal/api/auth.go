package api

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrKeyRequired = errors.New("INTERNAL_API_KEY must be set in production to process workflow jobs")
	ErrKeyInvalid  = errors.New("invalid or missing API key")
)

// ValidateInternalKey guards the internal endpoints. Production requires a
// configured key; whenever a key is configured the caller must present it.
func ValidateInternalKey(isProduction bool, expectedKey, providedKey string) error {
	expected := strings.TrimSpace(expectedKey)
	if isProduction && expected == "" {
		return ErrKeyRequired
	}
	if expected != "" && providedKey != expected {
		return ErrKeyInvalid
	}
	return nil
}
