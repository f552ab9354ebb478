package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	box, err := FromBase64(key)
	require.NoError(t, err)
	return box
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal([]byte("hunter2"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("hunter2")))

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	box := newTestBox(t)
	a, err := box.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := box.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpen_Failures(t *testing.T) {
	box := newTestBox(t)
	sealed, err := box.Seal([]byte("hunter2"))
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := newTestBox(t).Open(sealed)
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := box.Open(tampered)
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := box.Open(sealed[:10])
		assert.ErrorIs(t, err, ErrOpen)
	})
}

func TestFromBase64_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "not base64", key: "!!!"},
		{name: "wrong length", key: "c2hvcnQ="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromBase64(tt.key)
			assert.Error(t, err)
		})
	}
}
