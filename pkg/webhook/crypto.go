// C10: webhook secret encryption. Sensitive subscription fields (url,
// auth_header) are stored as version_byte || nonce(12) || ciphertext ||
// tag(16), base64 for transport. Only AES-256-GCM (version 0x01) is
// supported; the 32-byte key comes from configuration as 64 hex chars.
package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/brokkr/broker/internal/apierr"
)

const gcmVersionAESGCM byte = 0x01

// Cipher encrypts and decrypts webhook secret fields.
type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from a 64-hex-char (32 byte) key. If hexKey is
// empty, a random key is generated and a warning logged — ciphertexts will
// not survive a restart.
func NewCipher(hexKey string, logger *slog.Logger) (*Cipher, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating random webhook encryption key: %w", err)
		}
		logger.Warn("WEBHOOK_ENCRYPTION_KEY not set; using a random per-process key (ciphertexts will not survive restart)")
		return &Cipher{key: key}, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding webhook encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("webhook encryption key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return &Cipher{key: key}, nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns the base64-transport form: version || nonce || ciphertext
// || tag, with a fresh random nonce and no associated data.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", apierr.Wrap(apierr.EncryptionFailure, "initializing cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", apierr.Wrap(apierr.EncryptionFailure, "generating nonce", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, 1+len(nonce)+len(sealed))
	out = append(out, gcmVersionAESGCM)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any tampering with version, nonce, ciphertext,
// or tag causes EncryptionFailure.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apierr.Wrap(apierr.EncryptionFailure, "decoding ciphertext", err)
	}
	if len(raw) < 1 {
		return "", apierr.New(apierr.EncryptionFailure, "ciphertext too short")
	}
	if raw[0] != gcmVersionAESGCM {
		return "", apierr.New(apierr.EncryptionFailure, "unsupported ciphertext version")
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", apierr.Wrap(apierr.EncryptionFailure, "initializing cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < 1+nonceSize {
		return "", apierr.New(apierr.EncryptionFailure, "ciphertext too short")
	}
	nonce := raw[1 : 1+nonceSize]
	ciphertext := raw[1+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apierr.Wrap(apierr.EncryptionFailure, "decrypting ciphertext", err)
	}
	return string(plaintext), nil
}
