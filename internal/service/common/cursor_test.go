package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	state := []byte{0x00, 0xff, 0x10, '/', '+'}
	token := EncodeCursor(state)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestEmptyCursor(t *testing.T) {
	assert.Empty(t, EncodeCursor(nil))

	got, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvalidCursor(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
