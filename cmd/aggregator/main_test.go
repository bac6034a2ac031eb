package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog records the order of lifecycle calls across the three
// components. The HTTP server starts on its own goroutine, so the log
// is locked.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, call)
}

func (l *callLog) indexOf(want string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.calls {
		if c == want {
			return i
		}
	}

	return -1
}

type fakeTransport struct{ log *callLog }

func (f *fakeTransport) Connect(context.Context) error {
	f.log.record("transport.connect")
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.log.record("transport.disconnect")
	return nil
}

type fakeCore struct{ log *callLog }

func (f *fakeCore) Start(context.Context) error {
	f.log.record("core.start")
	return nil
}

func (f *fakeCore) Stop(context.Context) error {
	f.log.record("core.stop")
	return nil
}

type fakeAPI struct{ log *callLog }

func (f *fakeAPI) Start(string) error {
	f.log.record("api.start")
	return nil
}

func (f *fakeAPI) Shutdown(context.Context) error {
	f.log.record("api.shutdown")
	return nil
}

func newTestApp() (*aggregatorService, *callLog) {
	log := &callLog{}

	return &aggregatorService{
		cfg:    &Config{HouseID: "houseA", ListenAddr: ":0"},
		client: &fakeTransport{log: log},
		svc:    &fakeCore{log: log},
		apiSrv: &fakeAPI{log: log},
	}, log
}

func TestStopWaitsForCoreBeforeDisconnect(t *testing.T) {
	app, log := newTestApp()

	require.NoError(t, app.Stop(context.Background()))

	stop := log.indexOf("core.stop")
	disconnect := log.indexOf("transport.disconnect")
	require.NotEqual(t, -1, stop)
	require.NotEqual(t, -1, disconnect)

	// The core's final snapshot publish needs a live MQTT session.
	assert.Less(t, stop, disconnect)
}

func TestStartConnectsBeforeCore(t *testing.T) {
	app, log := newTestApp()

	require.NoError(t, app.Start(context.Background()))

	connect := log.indexOf("transport.connect")
	start := log.indexOf("core.start")
	require.NotEqual(t, -1, connect)
	require.NotEqual(t, -1, start)
	assert.Less(t, connect, start)
}
