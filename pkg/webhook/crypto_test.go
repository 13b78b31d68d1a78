package webhook

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr/broker/internal/apierr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCipher_EmptyKeyGeneratesRandom(t *testing.T) {
	c, err := NewCipher("", discardLogger())
	require.NoError(t, err)
	assert.Len(t, c.key, 32)
}

func TestNewCipher_ValidHexKey(t *testing.T) {
	hexKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	c, err := NewCipher(hexKey, discardLogger())
	require.NoError(t, err)
	assert.Len(t, c.key, 32)
}

func TestNewCipher_InvalidHex(t *testing.T) {
	_, err := NewCipher("not-hex-at-all!!", discardLogger())
	assert.Error(t, err)
}

func TestNewCipher_WrongLength(t *testing.T) {
	_, err := NewCipher("abcd", discardLogger())
	assert.Error(t, err)
}

func TestCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)

	plaintext := "https://example.com/webhooks/incoming"
	encoded, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encoded)

	decoded, err := c.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestCipher_Decrypt_TamperedCiphertext(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)

	encoded, err := c.Encrypt("secret-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.EncryptionFailure, ae.Kind)
}

func TestCipher_Decrypt_UnsupportedVersion(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)

	raw := []byte{0xFF}
	raw = append(raw, make([]byte, 12)...)
	raw = append(raw, []byte("somebytes")...)
	encoded := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(encoded)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.EncryptionFailure, ae.Kind)
}

func TestCipher_Decrypt_TooShort(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte{}))
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.EncryptionFailure, ae.Kind)
}

func TestCipher_Decrypt_InvalidBase64(t *testing.T) {
	c, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)

	_, err = c.Decrypt("not valid base64!!!")
	require.Error(t, err)
}

func TestCipher_KeysDifferDecryptionFails(t *testing.T) {
	c1, err := NewCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", discardLogger())
	require.NoError(t, err)
	c2, err := NewCipher("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", discardLogger())
	require.NoError(t, err)

	encoded, err := c1.Encrypt("payload")
	require.NoError(t, err)

	_, err = c2.Decrypt(encoded)
	assert.Error(t, err)
}
