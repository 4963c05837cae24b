package host

import (
	"errors"
	"strings"
	"testing"
)

func TestValidStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusProvisioning, true},
		{StatusActive, true},
		{StatusOff, true},
		{StatusDeleting, true},
		{StatusProvisioningTimeout, true},
		{Status("running"), false},
		{Status(""), false},
		{Status("PROVISIONING"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			if got := ValidStatus(tt.status); got != tt.want {
				t.Errorf("ValidStatus(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   *string
		wantErr bool
	}{
		{"nil is a no-op", nil, false},
		{"single char", ptr("a"), false},
		{"64 chars", ptr(strings.Repeat("a", 64)), false},
		{"65 chars", ptr(strings.Repeat("a", 65)), true},
		{"empty", ptr(""), true},
		{"whitespace only", ptr("   "), true},
		{"64 multibyte runes", ptr(strings.Repeat("ü", 64)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNameLength) {
				t.Errorf("ValidateName() error = %v, want ErrNameLength", err)
			}
		})
	}

	t.Run("trims whitespace in place", func(t *testing.T) {
		t.Parallel()
		name := ptr("  my box  ")
		if err := ValidateName(name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *name != "my box" {
			t.Errorf("expected trimmed value %q, got %q", "my box", *name)
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrNameLength", ErrNameLength},
		{"ErrInvalidStatus", ErrInvalidStatus},
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				if !errors.Is(a.err, b.err) {
					t.Errorf("errors.Is(%s, %s) = false, want true", a.name, b.name)
				}
			} else {
				if errors.Is(a.err, b.err) {
					t.Errorf("errors.Is(%s, %s) = true, want false", a.name, b.name)
				}
			}
		}
	}
}

func ptr(s string) *string { return &s }
