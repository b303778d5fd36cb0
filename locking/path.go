package locking

import (
	"regexp"

	"github.com/pkg/errors"
)

// Valid resource key expression.
var validKeyExpr = regexp.MustCompile(`^[\w\-]+(?:\/[\w\-]+)*$`)

// ErrKeyInvalid is returned for a malformed resource key.
var ErrKeyInvalid = errors.New("invalid resource key")

// ValidateResourceKey cleans and validates a resource key, returning an
// error if the key is not valid.
//
// A resource key is a slash-delimited path, e.g. "tenants/42/accounts/7",
// the same grammar a key-value store uses for its own keys.
func ValidateResourceKey(key string) (string, error) {
	// Strip leading slashes.
	for len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}

	// The key must not end in a trailing slash and must not contain empty
	// segments.
	if !validKeyExpr.MatchString(key) {
		return key, ErrKeyInvalid
	}

	return key, nil
}
