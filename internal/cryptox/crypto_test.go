package cryptox

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	data1, err := RandomBytes(32)
	require.NoError(t, err)
	data2, err := RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, data1, data2)
	assert.Len(t, data1, 32)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestDeriveKey_DifferentInputs(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKey(password, []byte("salt-1"))
	key2 := DeriveKey(password, []byte("salt-2"))

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(DeriveKey([]byte("queue-secret"), []byte("salt")))
	require.NoError(t, err)

	tok1, err := s.Seal([]byte("Bearer abc"))
	require.NoError(t, err)
	tok2, err := s.Seal([]byte("Bearer abc"))
	require.NoError(t, err)

	assert.True(t, IsSealed(tok1))
	assert.NotEqual(t, tok1, tok2, "nonce must differ per seal")
	assert.NotContains(t, tok1, "Bearer")

	got, err := s.Open(tok1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", string(got))
}

func TestSealer_OpenErrors(t *testing.T) {
	s, err := NewSealer(DeriveKey([]byte("one"), []byte("salt")))
	require.NoError(t, err)
	other, err := NewSealer(DeriveKey([]byte("two"), []byte("salt")))
	require.NoError(t, err)

	tok, err := s.Seal([]byte("token"))
	require.NoError(t, err)

	_, err = other.Open(tok)
	assert.Error(t, err, "wrong key")

	_, err = s.Open("Bearer plain")
	assert.ErrorIs(t, err, ErrNotSealed)

	_, err = s.Open("enc:v1:!!")
	assert.Error(t, err)

	_, err = s.Open("enc:v1:" + strings.Repeat("A", 4))
	assert.Error(t, err)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	Wipe(nil)
}
