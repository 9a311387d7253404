package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// secretCipher is an AES-256-GCM envelope around the webhook secrets this
// package stores. The original Python service made this optional via an
// injected CredentialVault (Fernet symmetric encryption) and fell back to
// storing only a bcrypt hash when no vault was configured
// (test_create_config_no_vault_skips_encryption). A bcrypt hash alone
// cannot be reversed, so it cannot back HMAC signature verification on a
// later push event — something this package must do. No Fernet-equivalent
// library appears anywhere in the retrieval pack, so encryption here is
// always-on and built on stdlib crypto/aes + crypto/cipher (AES-GCM is the
// standard modern substitute for Fernet's authenticated-encryption
// guarantee) rather than left optional.
type secretCipher struct {
	gcm cipher.AEAD
}

// ErrInvalidKeyLength is returned when the configured master key is not
// exactly 32 bytes (AES-256).
var ErrInvalidKeyLength = errors.New("webhook: master key must be 32 bytes")

func newSecretCipher(key []byte) (*secretCipher, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &secretCipher{gcm: gcm}, nil
}

func (c *secretCipher) encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *secretCipher) decrypt(ciphertext []byte) (string, error) {
	nonceSize := c.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("webhook: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
