package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to TransactionStatus }{
		{StatusPending, StatusAuthorized},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusAuthorized, StatusCaptured},
		{StatusAuthorized, StatusFailed},
		{StatusAuthorized, StatusCancelled},
		{StatusCaptured, StatusCaptured},
		{StatusCaptured, StatusRefunded},
		{StatusCaptured, StatusCancelled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to TransactionStatus }{
		{StatusPending, StatusCaptured},
		{StatusPending, StatusRefunded},
		{StatusAuthorized, StatusAuthorized},
		{StatusCaptured, StatusAuthorized},
		{StatusFailed, StatusAuthorized},
		{StatusFailed, StatusCancelled},
		{StatusCancelled, StatusPending},
		{StatusRefunded, StatusCaptured},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusRefunded))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusAuthorized))
	assert.False(t, IsTerminal(StatusCaptured))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusPending, StatusAuthorized))

	err := ValidateTransition(StatusCaptured, StatusAuthorized)
	assert.Error(t, err)
	var ite *InvalidTransitionError
	assert.True(t, errors.As(err, &ite))
	assert.Equal(t, StatusCaptured, ite.From)
	assert.Equal(t, StatusAuthorized, ite.To)
}
