package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// EncodeCursor turns an opaque driver page state into a URL-safe token.
// An empty page state means there are no more pages.
func EncodeCursor(pageState []byte) string {
	if len(pageState) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(pageState)
}

// DecodeCursor reverses EncodeCursor. An empty token starts from the
// first page.
func DecodeCursor(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cursor", apperrors.ErrValidation)
	}
	return data, nil
}
