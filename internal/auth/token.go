package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// BearerHeader formats a token for the Authorization header.
func BearerHeader(token string) string {
	return "Bearer " + strings.TrimSpace(token)
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) string {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// TokenFromCallback reads the token the backend appends to the OAuth
// redirect, either as ?token= or as #token= in the fragment.
func TokenFromCallback(query url.Values, fragment string) (string, error) {
	token := strings.TrimSpace(query.Get("token"))
	if token == "" && fragment != "" {
		values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
		if err != nil {
			return "", ErrInvalidToken
		}
		token = strings.TrimSpace(values.Get("token"))
	}
	if token == "" {
		return "", ErrMissingToken
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return "", ErrInvalidToken
	}
	return token, nil
}

// Fingerprint returns a short, log-safe identifier for a token.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum[:6])
}
