package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_SweepsUntilCanceled(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.login(t)
	f.clock.Advance(8 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewJanitor(f.svc, 5*time.Millisecond, nil).Run(ctx) }()

	require.Eventually(t, func() bool { return f.creds.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestJanitor_DisabledReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, NewJanitor(f.svc, 0, nil).Run(context.Background()))
}
