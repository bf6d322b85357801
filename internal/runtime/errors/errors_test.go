package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := map[string]error{
		"ErrAdapterRequired":  ErrAdapterRequired,
		"ErrContractRequired": ErrContractRequired,
		"ErrHandlerExists":    ErrHandlerExists,
		"ErrNotConnected":     ErrNotConnected,
		"ErrClientNotFound":   ErrClientNotFound,
		"ErrRoleCycle":        ErrRoleCycle,
	}

	for name, err := range sentinels {
		t.Run(name, func(t *testing.T) {
			if !strings.HasPrefix(err.Error(), "contractflow: ") {
				t.Errorf("Error() = %q, want contractflow prefix", err.Error())
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "contractflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("expected wrapped error to match inner")
		}
	})
}
