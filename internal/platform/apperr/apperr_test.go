package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Table(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindBusinessRule, http.StatusBadRequest},
		{KindValidation, http.StatusUnprocessableEntity},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindInternal, http.StatusInternalServerError},
		{Kind(99), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.kind))
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("assign: %w", BusinessRule("Invalid ID or State"))
	assert.Equal(t, KindBusinessRule, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestHTTP_BusinessRulePreservesMessage(t *testing.T) {
	he := HTTP(BusinessRule("Invalid ID or State"))
	require.NotNil(t, he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Equal(t, "Invalid ID or State", he.Message)
}

func TestHTTP_Validation(t *testing.T) {
	he := HTTP(Validation([]FieldError{{Field: "suggestion", Message: "suggestion is required"}}))
	require.NotNil(t, he)
	assert.Equal(t, http.StatusUnprocessableEntity, he.Code)

	body, ok := he.Message.(ValidationBody)
	require.True(t, ok, "expected ValidationBody, got %T", he.Message)
	assert.Equal(t, "Validation failed", body.Message)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "suggestion", body.Errors[0].Field)
}

func TestHTTP_UnknownErrorHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	he := HTTP(cause)
	require.NotNil(t, he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, "internal server error", he.Message)
	assert.ErrorIs(t, he.Internal, cause)
}

func TestHTTP_PassesEchoErrors(t *testing.T) {
	orig := echo.NewHTTPError(http.StatusForbidden, "required role: DOCTOR")
	assert.Same(t, orig, HTTP(orig))
	assert.Nil(t, HTTP(nil))
}
