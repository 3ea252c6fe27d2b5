package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInputError("bad envelope")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFoundError("no job")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(WrapError(ErrStorage, "listing failed")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("anything else")))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NewAppError("NOT_FOUND", "no document job", ErrNotFound)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "no document job")
}
