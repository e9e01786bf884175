package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/periscope/pkg/errors"
	"github.com/odvcencio/periscope/pkg/logging"
)

// fakeFetcher serves canned responses and counts calls.
type fakeFetcher struct {
	mu        sync.Mutex
	listCalls int
	fail      bool
	processes []Entity
}

func (f *fakeFetcher) List(ctx context.Context) (*ListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.fail {
		return nil, fmt.Errorf("synthetic fetch failure")
	}
	out := make([]Entity, len(f.processes))
	copy(out, f.processes)
	return &ListResponse{Processes: out, SystemInfo: SystemInfo{LoadAverage: "0.42"}}, nil
}

func (f *fakeFetcher) Detail(ctx context.Context, pid int) (*EntityDetail, error) {
	for _, e := range f.processes {
		if e.PID == pid {
			return &EntityDetail{Entity: e, Environment: map[string]string{"HOME": "/root"}}, nil
		}
	}
	return nil, fmt.Errorf("pid %d not found", pid)
}

func (f *fakeFetcher) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func TestStartFetchesImmediately(t *testing.T) {
	fetcher := &fakeFetcher{processes: []Entity{{PID: 1, Status: "R"}}}
	changed := make(chan struct{}, 16)
	c := NewController(fetcher, ControllerOptions{
		RefreshInterval: time.Hour,
		OnChange:        func() { changed <- struct{}{} },
		Logger:          logging.Nop(),
	})
	defer c.Close()
	c.Start()

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("initial refresh never completed")
	}

	entities, info := c.Snapshot()
	require.Len(t, entities, 1)
	require.NotNil(t, info)
	assert.Equal(t, "0.42", info.LoadAverage)
}

func TestRecurringRefresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := NewController(fetcher, ControllerOptions{
		RefreshInterval: 15 * time.Millisecond,
		Logger:          logging.Nop(),
	})
	defer c.Close()
	c.Start()

	assert.Eventually(t, func() bool {
		return fetcher.calls() >= 3
	}, 2*time.Second, 5*time.Millisecond, "timer should keep refreshing")
}

func TestFetchFailureRetainsLastGoodList(t *testing.T) {
	fetcher := &fakeFetcher{processes: []Entity{{PID: 1, Status: "R"}, {PID: 2, Status: "Z"}}}
	changed := make(chan struct{}, 16)
	errs := make(chan error, 16)
	c := NewController(fetcher, ControllerOptions{
		RefreshInterval: time.Hour,
		OnChange:        func() { changed <- struct{}{} },
		OnError:         func(err error) { errs <- err },
		Logger:          logging.Nop(),
	})
	defer c.Close()
	c.Start()

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("initial refresh never completed")
	}

	fetcher.setFail(true)
	c.Refresh()

	var err error
	select {
	case err = <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("failure was never surfaced")
	}
	assert.True(t, errors.IsCode(err, errors.ErrCodeRequest), "failure surfaces as a RequestError, got %v", err)

	entities, info := c.Snapshot()
	assert.Len(t, entities, 2, "fetch failure must not clear the inventory")
	assert.NotNil(t, info)

	b := c.Buckets()
	assert.Equal(t, 2, b.Total)
	assert.Equal(t, 1, b.Running)
	assert.Equal(t, 1, b.Zombie)
}

func TestManualRefreshResetsTimer(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := NewController(fetcher, ControllerOptions{
		RefreshInterval: 60 * time.Millisecond,
		Logger:          logging.Nop(),
	})
	defer c.Close()
	c.Start()

	assert.Eventually(t, func() bool { return fetcher.calls() >= 1 }, time.Second, 5*time.Millisecond)
	base := fetcher.calls()

	// Keep issuing manual refreshes more often than the interval and
	// count fetches: if manual requests stacked extra timers, the count
	// would grow much faster than one per request plus the timer ticks.
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		c.Refresh()
	}
	assert.Eventually(t, func() bool { return fetcher.calls() >= base+3 }, time.Second, 5*time.Millisecond)

	// Settle, then confirm the recurring timer is still armed (reset,
	// not cancelled) and produces further refreshes.
	settled := fetcher.calls()
	assert.Eventually(t, func() bool {
		return fetcher.calls() > settled
	}, time.Second, 5*time.Millisecond, "recurring timer should still fire after manual refreshes")
}

func TestCloseStopsRefreshing(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := NewController(fetcher, ControllerOptions{
		RefreshInterval: 10 * time.Millisecond,
		Logger:          logging.Nop(),
	})
	c.Start()
	assert.Eventually(t, func() bool { return fetcher.calls() >= 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	after := fetcher.calls()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, fetcher.calls(), "no fetches may happen after Close")

	// Refresh after Close is inert.
	c.Refresh()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fetcher.calls())
}

func TestDetail(t *testing.T) {
	fetcher := &fakeFetcher{processes: []Entity{{PID: 7, Name: "node", Status: "R"}}}
	c := NewController(fetcher, ControllerOptions{RefreshInterval: time.Hour, Logger: logging.Nop()})
	defer c.Close()

	detail, err := c.Detail(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "node", detail.Name)
	assert.Equal(t, "/root", detail.Environment["HOME"])

	_, err = c.Detail(context.Background(), 999)
	assert.Error(t, err)
}
