package auth

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTokenValueFormat(t *testing.T) {
	value, err := newTokenValue()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(value, tokenPrefix))

	// 20 random bytes hex-encoded after the prefix.
	require.Len(t, value, len(tokenPrefix)+40)
	_, err = hex.DecodeString(strings.TrimPrefix(value, tokenPrefix))
	require.NoError(t, err)
}

func TestNewTokenValueUnique(t *testing.T) {
	a, err := newTokenValue()
	require.NoError(t, err)
	b, err := newTokenValue()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
