package auth

import (
	"encoding/base64"
	"testing"
)

// testTokenSalt is a valid 64 hex character (32 byte) salt used across token tests.
const testTokenSalt = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNewGatewayToken(t *testing.T) {
	t.Parallel()

	plaintext, hash, err := NewGatewayToken(testTokenSalt)
	if err != nil {
		t.Fatalf("NewGatewayToken() error = %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(plaintext)
	if err != nil {
		t.Fatalf("plaintext is not base64url: %v", err)
	}
	if len(raw) != gatewayTokenBytes {
		t.Errorf("token length = %d bytes, want %d", len(raw), gatewayTokenBytes)
	}

	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64 hex characters", len(hash))
	}

	if !VerifyGatewayToken(plaintext, hash, testTokenSalt) {
		t.Error("VerifyGatewayToken() = false for freshly minted token")
	}
}

func TestNewGatewayTokenDistinct(t *testing.T) {
	t.Parallel()

	p1, h1, err := NewGatewayToken(testTokenSalt)
	if err != nil {
		t.Fatalf("NewGatewayToken() error = %v", err)
	}
	p2, h2, err := NewGatewayToken(testTokenSalt)
	if err != nil {
		t.Fatalf("NewGatewayToken() error = %v", err)
	}

	if p1 == p2 {
		t.Error("NewGatewayToken() produced identical plaintexts")
	}
	if h1 == h2 {
		t.Error("NewGatewayToken() produced identical hashes")
	}
}

func TestNewGatewayTokenInvalidSalt(t *testing.T) {
	t.Parallel()

	_, _, err := NewGatewayToken("not-hex")
	if err == nil {
		t.Error("NewGatewayToken() with invalid hex salt should return error")
	}
}

func TestHashGatewayTokenDeterministic(t *testing.T) {
	t.Parallel()

	h1, err := HashGatewayToken("some-token", testTokenSalt)
	if err != nil {
		t.Fatalf("HashGatewayToken() error = %v", err)
	}
	h2, err := HashGatewayToken("some-token", testTokenSalt)
	if err != nil {
		t.Fatalf("HashGatewayToken() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("HashGatewayToken() not deterministic: %q != %q", h1, h2)
	}
}

func TestVerifyGatewayToken(t *testing.T) {
	t.Parallel()

	plaintext, hash, err := NewGatewayToken(testTokenSalt)
	if err != nil {
		t.Fatalf("NewGatewayToken() error = %v", err)
	}

	// Candidates that differ from the real token at the first and at the last position exercise both ends of the
	// comparison.
	firstByteOff := "A" + plaintext[1:]
	if firstByteOff == plaintext {
		firstByteOff = "B" + plaintext[1:]
	}
	lastByteOff := plaintext[:len(plaintext)-1] + "A"
	if lastByteOff == plaintext {
		lastByteOff = plaintext[:len(plaintext)-1] + "B"
	}

	otherSalt := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

	tests := []struct {
		name  string
		token string
		hash  string
		salt  string
		want  bool
	}{
		{name: "correct token", token: plaintext, hash: hash, salt: testTokenSalt, want: true},
		{name: "differs at first byte", token: firstByteOff, hash: hash, salt: testTokenSalt, want: false},
		{name: "differs at last byte", token: lastByteOff, hash: hash, salt: testTokenSalt, want: false},
		{name: "empty token", token: "", hash: hash, salt: testTokenSalt, want: false},
		{name: "wrong salt", token: plaintext, hash: hash, salt: otherSalt, want: false},
		{name: "invalid salt", token: plaintext, hash: hash, salt: "not-hex", want: false},
		{name: "tampered hash", token: plaintext, hash: "00" + hash[2:], salt: testTokenSalt, want: false},
		{name: "truncated hash", token: plaintext, hash: hash[:32], salt: testTokenSalt, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := VerifyGatewayToken(tt.token, tt.hash, tt.salt); got != tt.want {
				t.Errorf("VerifyGatewayToken() = %v, want %v", got, tt.want)
			}
		})
	}
}
