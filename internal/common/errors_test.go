package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError(t *testing.T) {
	t.Run("wraps an underlying error", func(t *testing.T) {
		underlying := errors.New("disk on fire")
		err := NewUserError("could not save the match", underlying)

		assert.Equal(t, "could not save the match: disk on fire", err.Error())
		assert.ErrorIs(t, err, underlying)

		var userErr *UserError
		assert.ErrorAs(t, err, &userErr)
		assert.Equal(t, "could not save the match", userErr.UserMessage)
	})

	t.Run("message only", func(t *testing.T) {
		err := NewUserError("unknown resolution", nil)
		assert.Equal(t, "unknown resolution", err.Error())
	})
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("%w: document inv-1", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}
