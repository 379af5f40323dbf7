package ringerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsMatchByCode(t *testing.T) {
	err := New(CodeNoHostsAvailable, "query plan exhausted after %d attempts", 3)

	require.ErrorIs(t, err, ErrNoHostsAvailable)
	require.NotErrorIs(t, err, ErrRequestQueueFull)
	require.Equal(t, "NO_HOSTS_AVAILABLE: query plan exhausted after 3 attempts", err.Error())
}

func TestErrorsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("execute: %w", New(CodeRequestQueueFull, "capacity 4"))

	require.ErrorIs(t, err, ErrRequestQueueFull)

	var coded *Error
	require.True(t, errors.As(err, &coded))
	require.Equal(t, CodeRequestQueueFull, coded.Code())
}

func TestSentinelMessage(t *testing.T) {
	require.Equal(t, "UNABLE_TO_SET_KEYSPACE", ErrUnableToSetKeyspace.Error())
}
