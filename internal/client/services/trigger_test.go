package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// flakyAPI lets tests flip reachability while the trigger is pinging.
type flakyAPI struct {
	*fakeAPI
	mu      sync.Mutex
	pingErr error
}

func (f *flakyAPI) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *flakyAPI) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestTriggerOnlineTransitionRequestsSync(t *testing.T) {
	api := &flakyAPI{fakeAPI: newFakeAPI(), pingErr: errors.New("unreachable")}
	trigger := NewSyncTrigger(api, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trigger.Run(ctx, time.Millisecond, time.Hour)

	waitFor(t, func() bool { return !trigger.Online() })

	api.setPingErr(nil)
	waitFor(t, func() bool { return trigger.Online() })

	select {
	case <-trigger.Requests():
	case <-time.After(2 * time.Second):
		t.Fatal("no sync request after connectivity restored")
	}
}

// Online is read from the REPL goroutine while Run updates it; this test
// exercises both sides concurrently so the race detector covers the access.
func TestTriggerOnlineConcurrentReads(t *testing.T) {
	api := &flakyAPI{fakeAPI: newFakeAPI()}
	trigger := NewSyncTrigger(api, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go trigger.Run(ctx, time.Millisecond, time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			trigger.Online()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			api.setPingErr(errors.New("flap"))
			api.setPingErr(nil)
			trigger.RequestSync()
		}
	}()
	wg.Wait()

	// pings succeed again, so the trigger must settle online
	waitFor(t, func() bool { return trigger.Online() })
	assert.True(t, trigger.Online())
	cancel()
}
