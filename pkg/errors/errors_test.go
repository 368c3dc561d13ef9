package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	e := NotFound("cart", "user-1")
	assert.Contains(t, e.Error(), "NOT_FOUND")
	assert.Contains(t, e.Error(), "cart with id user-1 not found")
}

func TestAppError_Unwrap(t *testing.T) {
	assert.ErrorIs(t, NotFound("cart", "u"), ErrNotFound)
	assert.ErrorIs(t, InvalidInput("bad"), ErrInvalidInput)
	assert.ErrorIs(t, Conflict("stale"), ErrConflict)
	assert.ErrorIs(t, ServiceUnavailable("down"), ErrServiceUnavail)
}

func TestNotFoundWithCode(t *testing.T) {
	e := NotFoundWithCode("PRODUCT_NOT_FOUND", "product 42 not found")
	assert.Equal(t, "PRODUCT_NOT_FOUND", e.Code)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.ErrorIs(t, e, ErrNotFound)
}

func TestInvalidInputWithCode(t *testing.T) {
	e := InvalidInputWithCode("INVALID_QUANTITY", "quantity must be positive")
	assert.Equal(t, "INVALID_QUANTITY", e.Code)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.ErrorIs(t, e, ErrInvalidInput)
}

func TestHTTPStatus_AppError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("cart", "u")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(AlreadyExists("cart", "user_id", "u")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal(errors.New("boom"))))
}

func TestHTTPStatus_WrappedSentinel(t *testing.T) {
	err := fmt.Errorf("load cart: %w", ErrNotFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))

	err = fmt.Errorf("save cart: %w", ErrConflict)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestHTTPStatus_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("mystery")))
}

func TestWrap(t *testing.T) {
	err := Wrap(ErrNotFound, "load cart")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "load cart")
}
