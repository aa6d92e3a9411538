package errors

import (
	"database/sql"
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.True(t, stdErrors.Is(err, sql.ErrConnDone))
}

func TestCloneMatchesByCode(t *testing.T) {
	err := Clone(ErrOverpayment, "remaining 60000")
	assert.True(t, stdErrors.Is(err, ErrOverpayment))
	assert.False(t, stdErrors.Is(err, ErrInvalidAmount))
	assert.Equal(t, "remaining 60000", err.Error())
	assert.Equal(t, "payment exceeds outstanding amount", ErrOverpayment.Message)
}

func TestFromErrorNil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}
