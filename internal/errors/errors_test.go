package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSchedErrorFormat(t *testing.T) {
	err := NewPolicyError(ErrCodePolicyNotFound, "policy \"cfq\" not registered",
		"Run 'blksched policies' to list registered policies")

	msg := err.Error()
	if !strings.Contains(msg, "BLKSCHED-P001") {
		t.Errorf("message missing code: %q", msg)
	}
	if !strings.Contains(msg, "To fix:") {
		t.Errorf("message missing remediation: %q", msg)
	}
}

func TestErrorIs(t *testing.T) {
	err := NewSchedError(ErrCodeSwitchFailed, "switch to deadline failed")
	wrapped := fmt.Errorf("switching: %w", err)

	if !errors.Is(wrapped, &SchedError{Code: ErrCodeSwitchFailed}) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(wrapped, &SchedError{Code: ErrCodePolicyNotFound}) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("device reset")
	err := NewDeviceError(ErrCodeDeviceError, "I/O failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via Unwrap")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"sched error", NewSchedError(ErrCodeRequestKilled, "killed"), ErrCodeRequestKilled},
		{"wrapped", fmt.Errorf("x: %w", NewInternalError(ErrCodeAccounting, "bad count")), ErrCodeAccounting},
		{"plain error", errors.New("plain"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
