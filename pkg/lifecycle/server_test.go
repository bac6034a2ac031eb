package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	startErr error
	stopErr  error
	stopped  chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{stopped: make(chan struct{})}
}

func (s *fakeService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}

	<-ctx.Done()

	return nil
}

func (s *fakeService) Stop(context.Context) error {
	close(s.stopped)
	return s.stopErr
}

func TestRunServerStopsOnContextCancel(t *testing.T) {
	svc := newFakeService()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RunServer(ctx, &ServerOptions{ServiceName: "aggregator", Service: svc})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunServer did not return after cancel")
	}

	select {
	case <-svc.stopped:
	default:
		t.Fatal("service was not stopped")
	}
}

func TestRunServerPropagatesServiceError(t *testing.T) {
	startErr := errors.New("broker unreachable")
	svc := newFakeService()
	svc.startErr = startErr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := RunServer(ctx, &ServerOptions{ServiceName: "aggregator", Service: svc})
	require.Error(t, err)
	assert.ErrorIs(t, err, startErr)
}
