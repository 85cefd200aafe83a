// File: internal/session/context_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

func TestCombineContextCancelsWithEither(t *testing.T) {
	t.Run("secondary cancellation propagates", func(t *testing.T) {
		primary := context.Background()
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe secondary cancellation")
		}
	})

	t.Run("primary cancellation propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe primary cancellation")
		}
	})
}

func TestCombineContextInheritsPrimaryValues(t *testing.T) {
	key := ctxKey("conn")
	primary := context.WithValue(context.Background(), key, "cdp-target")

	combined, cancel := CombineContext(primary, context.Background())
	defer cancel()

	assert.Equal(t, "cdp-target", combined.Value(key))
}

func TestDetach(t *testing.T) {
	key := ctxKey("conn")
	parent, cancelParent := context.WithCancel(
		context.WithValue(context.Background(), key, "cdp-target"))

	detached := Detach(parent)
	cancelParent()

	require.NoError(t, detached.Err(), "detached context ignores parent cancellation")
	assert.Nil(t, detached.Done())
	assert.Equal(t, "cdp-target", detached.Value(key), "values survive detachment")

	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
}
