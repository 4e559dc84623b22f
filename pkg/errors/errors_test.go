package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesOriginalByCode(t *testing.T) {
	err := Clone(ErrAlreadyEnrolled, "student s1 already enrolled")
	wrapped := fmt.Errorf("decide: %w", err)

	assert.True(t, errors.Is(wrapped, ErrAlreadyEnrolled))
	assert.False(t, errors.Is(wrapped, ErrRequestAlreadyPending))
	assert.Equal(t, "student s1 already enrolled", err.Message)
	assert.Equal(t, http.StatusConflict, err.Status)
}

func TestFromErrorNormalisesUnknownErrors(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)

	typed := FromError(Wrap(sql.ErrTxDone, ErrInvalidTransition.Code, ErrInvalidTransition.Status, "late"))
	assert.Equal(t, ErrInvalidTransition.Code, typed.Code)
	assert.Nil(t, FromError(nil))
}
