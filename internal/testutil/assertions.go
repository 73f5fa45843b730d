package testutil

import (
	"errors"
	"testing"

	apperrors "agriplan/internal/errors"
)

// AssertAppError checks that err is an *AppError carrying expectedCode and
// returns it for further checks.
func AssertAppError(t *testing.T, err error, expectedCode string) *apperrors.AppError {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s, got nil", expectedCode)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
	return appErr
}

// AssertFieldErrors checks the code of err and that every named field has at
// least one message. The full field map is returned.
func AssertFieldErrors(t *testing.T, err error, expectedCode string, fields ...string) map[string][]string {
	t.Helper()

	appErr := AssertAppError(t, err, expectedCode)
	for _, f := range fields {
		if len(appErr.Fields[f]) == 0 {
			t.Errorf("expected a %q field error, got %v", f, appErr.Fields)
		}
	}
	return appErr.Fields
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
