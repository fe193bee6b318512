package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorFormatting(t *testing.T) {
	err := New(CodePreferenceNotFound, "preference does not exist", http.StatusNotFound)
	want := "PREFERENCE_NOT_FOUND: preference does not exist"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(ErrNotFound, CodePreferenceNotFound, "preference does not exist", http.StatusNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
}

func TestIsAppErrorThroughWrapping(t *testing.T) {
	base := BadRequest(CodeAncestorInvalid, "ancestor context is not an ancestor")
	chained := fmt.Errorf("saving preference: %w", base)

	appErr, ok := IsAppError(chained)
	if !ok {
		t.Fatal("IsAppError() = false, want true")
	}
	if appErr.Code != CodeAncestorInvalid {
		t.Fatalf("Code = %q, want %q", appErr.Code, CodeAncestorInvalid)
	}
	if appErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("HTTPStatus = %d, want %d", appErr.HTTPStatus, http.StatusBadRequest)
	}
}

func TestWithParams(t *testing.T) {
	err := BadRequest(CodePayloadKeyMissing, "missing payload key").
		WithParams(map[string]interface{}{"key": "seminar_event_id"})
	if err.Params["key"] != "seminar_event_id" {
		t.Fatalf("Params[key] = %v, want seminar_event_id", err.Params["key"])
	}

	var nilErr *AppError
	if got := nilErr.WithParams(map[string]interface{}{"a": 1}); got != nil {
		t.Fatalf("nil.WithParams() = %v, want nil", got)
	}
}
