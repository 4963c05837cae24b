package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Gateway tokens are shown to the gateway daemon exactly once, at provision time. Only a keyed MAC of the token is
// persisted, so the gateways table never holds a live credential.

const gatewayTokenBytes = 32

// NewGatewayToken mints a random gateway bearer token together with its storable hash. The plaintext is base64url
// without padding; the hash is hex(HMAC-SHA256(salt, plaintext)).
func NewGatewayToken(hexSalt string) (plaintext, hash string, err error) {
	raw := make([]byte, gatewayTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}

	plaintext = base64.RawURLEncoding.EncodeToString(raw)
	hash, err = HashGatewayToken(plaintext, hexSalt)
	if err != nil {
		return "", "", err
	}
	return plaintext, hash, nil
}

// HashGatewayToken computes the storable MAC of a presented token using the hex-encoded salt key.
func HashGatewayToken(token, hexSalt string) (string, error) {
	key, err := hex.DecodeString(hexSalt)
	if err != nil {
		return "", fmt.Errorf("decode token salt: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyGatewayToken reports whether a presented token matches the stored hash. Rehashing the candidate and comparing
// MACs with hmac.Equal keeps the comparison time independent of where the inputs first differ.
func VerifyGatewayToken(token, storedHash, hexSalt string) bool {
	computed, err := HashGatewayToken(token, hexSalt)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(computed), []byte(storedHash))
}
