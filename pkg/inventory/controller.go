package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/periscope/pkg/errors"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/telemetry"
)

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	// RefreshInterval between automatic refreshes. Zero means 5s.
	RefreshInterval time.Duration
	// RequestTimeout bounds one fetch. Zero means 10s.
	RequestTimeout time.Duration
	// OnChange fires after the list was replaced by a successful
	// fetch. Optional.
	OnChange func()
	// OnError fires with a RequestError when a fetch fails. The prior
	// list is retained. Optional.
	OnError func(error)
	// Logger defaults to a stderr logger.
	Logger *logging.Logger
}

// Controller refreshes the process list: once on Start, on a single
// recurring timer, and on manual request. A manual refresh resets the
// timer rather than stacking it, so at most one scheduled refresh is
// ever outstanding. Fetch failures keep the last-good list.
type Controller struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	onChange func()
	onError  func(error)
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timer    *time.Timer
	entities []Entity
	sysInfo  *SystemInfo
	inflight bool
	closed   bool
}

// NewController creates a controller. Call Start to begin refreshing.
func NewController(fetcher Fetcher, opts ControllerOptions) *Controller {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		fetcher:  fetcher,
		interval: opts.RefreshInterval,
		timeout:  opts.RequestTimeout,
		onChange: opts.OnChange,
		onError:  opts.OnError,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start triggers the initial refresh and arms the recurring timer.
func (c *Controller) Start() {
	c.Refresh()
}

// Refresh performs a manual refresh. The pending scheduled refresh is
// cancelled; a new one is armed once this fetch finishes.
func (c *Controller) Refresh() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.inflight {
		// The running fetch reschedules when it finishes.
		c.mu.Unlock()
		return
	}
	c.inflight = true
	c.mu.Unlock()

	go c.fetch()
}

func (c *Controller) fetch() {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	resp, err := c.fetcher.List(ctx)
	cancel()

	c.mu.Lock()
	c.inflight = false
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.entities = resp.Processes
		info := resp.SystemInfo
		c.sysInfo = &info
	}
	c.schedule()
	c.mu.Unlock()

	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		telemetry.RefreshFailures.Inc()
		c.logger.Warn(logging.CategoryInventory, "refresh_failed", err.Error(), nil)
		if c.onError != nil {
			c.onError(errors.Wrap(err, errors.ErrCodeRequest, "inventory refresh").
				WithUserMessage("Failed to refresh processes"))
		}
		return
	}
	if c.onChange != nil {
		c.onChange()
	}
}

// schedule arms the single recurring timer. Caller holds c.mu.
func (c *Controller) schedule() {
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		if c.closed || c.inflight {
			c.mu.Unlock()
			return
		}
		c.inflight = true
		c.mu.Unlock()
		c.fetch()
	})
}

// Snapshot returns the last-good list and system info. Fetch failures
// never clear it.
func (c *Controller) Snapshot() ([]Entity, *SystemInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entities := make([]Entity, len(c.entities))
	copy(entities, c.entities)
	if c.sysInfo == nil {
		return entities, nil
	}
	info := *c.sysInfo
	return entities, &info
}

// Buckets recomputes the status counts from the current list.
func (c *Controller) Buckets() Buckets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CountBuckets(c.entities)
}

// Detail fetches the extended view of one process on demand.
func (c *Controller) Detail(ctx context.Context, pid int) (*EntityDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.fetcher.Detail(ctx, pid)
}

// Close cancels the refresh timer and any in-flight fetch. No fetches
// occur after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.cancel()
}
