package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Provider API tokens are sealed with a key-encryption key before they touch Postgres. The KEK is a 256-bit key
// supplied as standard base64 in configuration.

// SealProviderToken encrypts a provider token using AES-256-GCM. The returned string is
// base64(nonce || ciphertext || tag); a fresh nonce makes repeated seals of the same plaintext distinct.
func SealProviderToken(token, b64Key string) (string, error) {
	gcm, err := kekCipher(b64Key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenProviderToken decrypts a token sealed by SealProviderToken. Any tampering with the blob fails authentication.
func OpenProviderToken(sealed, b64Key string) (string, error) {
	gcm, err := kekCipher(b64Key)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed token: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("sealed token too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}

	return string(plaintext), nil
}

func kekCipher(b64Key string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("decode KEK: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("KEK must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return gcm, nil
}
