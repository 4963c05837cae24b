package gateway

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	if errors.Is(ErrNotFound, ErrAlreadyExists) {
		t.Error("ErrNotFound and ErrAlreadyExists must be distinct")
	}
	if !errors.Is(ErrNotFound, ErrNotFound) {
		t.Error("errors.Is(ErrNotFound, ErrNotFound) = false")
	}
}

func TestCreateParamsZeroValue(t *testing.T) {
	t.Parallel()

	var p CreateParams
	if p.ID != "" || p.HostID != "" || p.AuthTokenHash != "" {
		t.Error("CreateParams zero value should have empty strings")
	}
}
