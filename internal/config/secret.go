package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	secretKeyEnv = "MEETSUM_SECRET_KEY"
	secretPrefix = "enc:"
)

var (
	errMalformedSecret = errors.New("malformed sealed value")
	errSecretMismatch  = errors.New("sealed value does not open with " + secretKeyEnv)
)

// secretCipher seals API keys kept in config files.
type secretCipher struct {
	aead cipher.AEAD
}

func newSecretCipher(raw string) (*secretCipher, error) {
	key, err := decodeKey(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", secretKeyEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &secretCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *secretCipher) seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	return secretPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// open reverses seal. A value that is not base64 or is shorter than a nonce is
// malformed; one that fails authentication was sealed under another key.
func (c *secretCipher) open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, secretPrefix))
	if err != nil || len(data) < c.aead.NonceSize() {
		return "", errMalformedSecret
	}
	nonce, body := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", errSecretMismatch
	}
	return string(plain), nil
}

// SealSecret produces an "enc:" value suitable for api_key fields.
func SealSecret(key, plain string) (string, error) {
	c, err := newSecretCipher(key)
	if err != nil {
		return "", err
	}
	return c.seal(plain)
}

// resolveSecrets decrypts every "enc:" credential in place and names the field
// that failed. Plain values pass through.
func (c *Config) resolveSecrets(lookup func(string) (string, bool)) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"summarization.api_key", &c.Summarization.APIKey},
		{"transcription.remote.api_key", &c.Transcription.Remote.APIKey},
		{"redis.password", &c.Redis.Password},
	}
	var cph *secretCipher
	for _, f := range fields {
		if !strings.HasPrefix(*f.value, secretPrefix) {
			continue
		}
		if cph == nil {
			raw, ok := lookup(secretKeyEnv)
			if !ok || strings.TrimSpace(raw) == "" {
				return fmt.Errorf("config: %s is encrypted but %s is not set", f.name, secretKeyEnv)
			}
			var err error
			if cph, err = newSecretCipher(raw); err != nil {
				return fmt.Errorf("config: %w", err)
			}
		}
		plain, err := cph.open(*f.value)
		if err != nil {
			return fmt.Errorf("config: decrypt %s: %w", f.name, err)
		}
		*f.value = plain
	}
	return nil
}
