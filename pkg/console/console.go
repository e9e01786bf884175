// Package console wires the transport, search session, inventory
// controller, action gate and notification center into one client-side
// session controller.
//
// All controller state is mutated on a single event loop goroutine: UI
// intents, inbound stream messages and timer firings execute as
// callbacks posted to that loop. The presentation layer only triggers
// operations and reads observable state.
package console

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/periscope/pkg/action"
	"github.com/odvcencio/periscope/pkg/config"
	"github.com/odvcencio/periscope/pkg/inventory"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/notify"
	"github.com/odvcencio/periscope/pkg/protocol"
	"github.com/odvcencio/periscope/pkg/search"
	"github.com/odvcencio/periscope/pkg/transport"
)

// Controller is the session controller mediating between the
// presentation surface and the backend.
type Controller struct {
	cfg    *config.Config
	logger *logging.Logger

	transport *transport.Manager
	session   *search.Session
	history   *search.History
	inventory *inventory.Controller
	gate      *action.Gate
	notifier  *notify.Center

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	mu        sync.Mutex
	connState transport.State

	disposeOnce sync.Once
}

// New constructs a controller from configuration. Resources are
// instance-owned: nothing global survives Dispose.
func New(cfg *config.Config, logger *logging.Logger) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewLogger(nil)
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger,
		ops:    make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.notifier = notify.NewCenter(cfg.Notify.TTL)
	c.history = search.NewHistory(cfg.Search.HistoryLimit)

	c.transport = transport.NewManager(cfg.StreamURL(), transport.Options{
		ReconnectDelay: cfg.Transport.ReconnectDelay,
		OnMessage:      c.postMessage,
		OnState: func(s transport.State) {
			c.mu.Lock()
			c.connState = s
			c.mu.Unlock()
		},
		Logger: logger,
	})
	c.session = search.NewSession(c.transport, c.history, logger)

	client := inventory.NewClient(cfg.Server.BaseURL, nil)
	c.inventory = inventory.NewController(client, inventory.ControllerOptions{
		RefreshInterval: cfg.Inventory.RefreshInterval,
		RequestTimeout:  cfg.Inventory.RequestTimeout,
		OnError: func(err error) {
			c.notifier.Show(notify.OutcomeError, displayOf(err), err.Error())
		},
		Logger: logger,
	})

	c.gate = action.NewGate(c.transport, c.notifier, action.Options{
		BulkBypassConfirm: cfg.BulkBypass(),
		ReconcileDelay:    cfg.Action.ReconcileDelay,
		Reconcile:         c.RefreshInventory,
		Logger:            logger,
	})

	go c.loop()
	return c
}

// Start opens the streaming channel and begins inventory refreshes.
func (c *Controller) Start() {
	c.transport.Connect()
	c.inventory.Start()
	c.logger.Info(logging.CategoryConsole, "started", "session controller running", nil)
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.ops:
			fn()
		}
	}
}

// post runs fn on the event loop, dropping it if the controller is
// disposed.
func (c *Controller) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.quit:
	}
}

// call runs fn on the event loop and waits for it.
func (c *Controller) call(fn func()) {
	doneCh := make(chan struct{})
	c.post(func() {
		defer close(doneCh)
		fn()
	})
	select {
	case <-doneCh:
	case <-c.quit:
	}
}

// postMessage routes one decoded inbound message onto the loop.
func (c *Controller) postMessage(msg protocol.Message) {
	c.post(func() {
		switch m := msg.(type) {
		case protocol.GrepStarted, protocol.GrepResult, protocol.GrepCompleted:
			c.session.HandleMessage(msg)
		case protocol.ShellResult:
			c.gate.HandleShellResult(m)
		default:
			c.logger.Warn(logging.CategoryConsole, "unroutable_message", string(msg.Type()), nil)
		}
	})
}

// SubmitSearch starts a new search generation. Blank queries are
// rejected locally with a ValidationError.
func (c *Controller) SubmitSearch(query string, opts protocol.SearchOptions) error {
	var err error
	c.call(func() { err = c.session.Submit(query, opts) })
	return err
}

// ClearSearch resets the search surface.
func (c *Controller) ClearSearch() {
	c.call(func() { c.session.Clear() })
}

// SearchState returns the session lifecycle state.
func (c *Controller) SearchState() search.SessionState {
	var s search.SessionState
	c.call(func() { s = c.session.State() })
	return s
}

// SearchResults returns the accumulated results of the current
// generation.
func (c *Controller) SearchResults() []search.Result {
	var out []search.Result
	c.call(func() { out = c.session.Results() })
	return out
}

// SearchSummary returns the completion summary, or nil.
func (c *Controller) SearchSummary() *search.Summary {
	var s *search.Summary
	c.call(func() { s = c.session.Summary() })
	return s
}

// ToggleResultExpanded flips the view-only expanded flag.
func (c *Controller) ToggleResultExpanded(index int, expanded bool) {
	c.call(func() { c.session.SetExpanded(index, expanded) })
}

// ExportResults renders the displayed results as a CSV artifact.
// Returns nil when there is nothing to export.
func (c *Controller) ExportResults() (*search.Export, error) {
	var (
		artifact *search.Export
		err      error
	)
	c.call(func() { artifact, err = search.ExportCSV(c.session.Results(), time.Now()) })
	return artifact, err
}

// History returns the bounded search history, newest insertion first.
func (c *Controller) History() []search.HistoryEntry {
	var out []search.HistoryEntry
	c.call(func() { out = c.history.Entries() })
	return out
}

// Processes projects the last-good process list through the filter.
func (c *Controller) Processes(filter inventory.Filter) []inventory.Entity {
	entities, _ := c.inventory.Snapshot()
	return inventory.Project(entities, filter)
}

// SystemInfo returns the last-good system summary, or nil before the
// first successful refresh.
func (c *Controller) SystemInfo() *inventory.SystemInfo {
	_, info := c.inventory.Snapshot()
	return info
}

// Buckets recomputes status counts from the current list.
func (c *Controller) Buckets() inventory.Buckets {
	return c.inventory.Buckets()
}

// RefreshInventory triggers a manual refresh, resetting the recurring
// timer.
func (c *Controller) RefreshInventory() {
	c.inventory.Refresh()
}

// EntityDetail fetches the extended view of one process.
func (c *Controller) EntityDetail(ctx context.Context, pid int) (*inventory.EntityDetail, error) {
	return c.inventory.Detail(ctx, pid)
}

// RequestKill arms the confirmation gate for a single-target kill.
func (c *Controller) RequestKill(target inventory.Entity, signal string) error {
	var err error
	c.call(func() { err = c.gate.RequestKill(target, signal) })
	return err
}

// ConfirmKill dispatches the pending destructive command.
func (c *Controller) ConfirmKill() error {
	var err error
	c.call(func() { err = c.gate.Confirm() })
	return err
}

// CancelKill discards the pending destructive command.
func (c *Controller) CancelKill() {
	c.call(func() { c.gate.Cancel() })
}

// KillByName dispatches a bulk kill by process name.
func (c *Controller) KillByName(name string) error {
	var err error
	c.call(func() { err = c.gate.KillByName(name) })
	return err
}

// KillByPort dispatches a bulk kill by listening port.
func (c *Controller) KillByPort(port int) error {
	var err error
	c.call(func() { err = c.gate.KillByPort(port) })
	return err
}

// KillZombies dispatches a kill for every zombie in the current list.
func (c *Controller) KillZombies() error {
	var err error
	c.call(func() {
		entities, _ := c.inventory.Snapshot()
		err = c.gate.KillZombies(entities)
	})
	return err
}

// GateState returns the confirmation workflow state.
func (c *Controller) GateState() action.GateState {
	var s action.GateState
	c.call(func() { s = c.gate.State() })
	return s
}

// PendingAction returns the action awaiting confirmation, or nil.
func (c *Controller) PendingAction() *action.PendingAction {
	var p *action.PendingAction
	c.call(func() { p = c.gate.Pending() })
	return p
}

// Notifications returns the notification center for subscription.
func (c *Controller) Notifications() *notify.Center {
	return c.notifier
}

// ConnectionState reports the streaming channel state.
func (c *Controller) ConnectionState() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Dispose tears the controller down: the event loop stops, the
// streaming channel closes with its reconnect timer, and the refresh
// and notification timers are cancelled. Idempotent.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		close(c.quit)
		c.transport.Close()
		c.inventory.Close()
		c.gate.Close()
		c.notifier.Close()
		<-c.done
		c.logger.Info(logging.CategoryConsole, "disposed", "session controller stopped", nil)
	})
}

func displayOf(err error) string {
	type displayer interface{ Display() string }
	if d, ok := err.(displayer); ok {
		return d.Display()
	}
	return err.Error()
}
