package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestQAError_Error(t *testing.T) {
	err := &QAError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "ticket not found",
	}

	expected := "NOT_FOUND: ticket not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("days must be positive")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "days must be positive" {
		t.Errorf("Message = %q, want %q", err.Message, "days must be positive")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("ticket 42")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "ticket 42" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "ticket 42")
	}
}

func TestNewConfig(t *testing.T) {
	err := NewConfig([]string{"ZD_SUBDOMAIN", "ZD_API_TOKEN"})

	if err.Code != ErrConfig {
		t.Errorf("Code = %q, want %q", err.Code, ErrConfig)
	}
	if err.Message != "missing configuration: ZD_SUBDOMAIN, ZD_API_TOKEN" {
		t.Errorf("Message = %q", err.Message)
	}
	if missing, ok := err.Details["missing"].([]string); !ok || len(missing) != 2 {
		t.Errorf("Details[missing] = %v, want 2 entries", err.Details["missing"])
	}
}

func TestNewRemotePermanent(t *testing.T) {
	cause := fmt.Errorf("helpdesk: HTTP 403: forbidden")
	err := NewRemotePermanent(403, cause)

	if err.Code != ErrRemotePermanent {
		t.Errorf("Code = %q, want %q", err.Code, ErrRemotePermanent)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Details["remote_status"] != 403 {
		t.Errorf("Details[remote_status] = %v, want 403", err.Details["remote_status"])
	}
	if !stderrors.Is(err, cause) {
		t.Error("RemotePermanent should unwrap to its cause")
	}
}

func TestNewIngestFailed(t *testing.T) {
	cause := fmt.Errorf("HTTP 503")
	err := NewIngestFailed("ticket 7", 6, cause)

	if err.Code != ErrIngestFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrIngestFailed)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if err.Details["attempts"] != 6 {
		t.Errorf("Details[attempts] = %v, want 6", err.Details["attempts"])
	}
	if !stderrors.Is(err, cause) {
		t.Error("IngestFailed should unwrap to its cause")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q", err.Details["internal_error"])
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("x"), ErrConfig) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain"), ErrNotFound) {
			t.Error("Is() = true, want false for plain error")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("slice 3: %w", NewIngestFailed("search", 6, nil))
		if !Is(wrapped, ErrIngestFailed) {
			t.Error("Is() = false, want true for wrapped QAError")
		}
		if _, ok := As(wrapped); !ok {
			t.Error("As() should find wrapped QAError")
		}
	})
}
