// Package action implements the confirmation-gated workflow for
// destructive process commands. A single-target kill must pass through
// PendingConfirm; bulk variants (by name, by port, all zombies) bypass
// confirmation under the default policy. That bypass preserves the
// source system's documented trade-off and is configurable rather than
// silently hardened.
package action

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/periscope/pkg/errors"
	"github.com/odvcencio/periscope/pkg/inventory"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/notify"
	"github.com/odvcencio/periscope/pkg/protocol"
	"github.com/odvcencio/periscope/pkg/telemetry"
)

// GateState is the confirmation workflow state.
type GateState string

const (
	StateUnarmed        GateState = "unarmed"
	StatePendingConfirm GateState = "pending_confirm"
)

// DispatchState tracks an in-flight destructive command. The optional
// shell_result ack moves Pending to Acked; the reconciling refresh
// marks Reconciled and is the authoritative fallback, because the
// backend does not guarantee the ack.
type DispatchState string

const (
	DispatchPending    DispatchState = "pending"
	DispatchAcked      DispatchState = "acked"
	DispatchReconciled DispatchState = "reconciled"
)

// Command is one destructive request with exactly one populated
// variant.
type Command struct {
	PID        int
	Signal     string // empty means the platform-default signal
	Name       string
	Port       int
	AllZombies bool
}

func (c Command) variant() string {
	switch {
	case c.AllZombies:
		return "zombies"
	case c.Name != "":
		return "name"
	case c.Port > 0:
		return "port"
	default:
		return "pid"
	}
}

func (c Command) describe() string {
	switch {
	case c.AllZombies:
		return "all zombie processes"
	case c.Name != "":
		return fmt.Sprintf("processes named %q", c.Name)
	case c.Port > 0:
		return fmt.Sprintf("process on port %d", c.Port)
	case c.Signal != "":
		return fmt.Sprintf("pid %d (%s)", c.PID, c.Signal)
	default:
		return fmt.Sprintf("pid %d", c.PID)
	}
}

// PendingAction exists only between a confirmation request and its
// decision.
type PendingAction struct {
	ID        string
	Target    *inventory.Entity // nil for bulk variants
	Command   Command
	CreatedAt time.Time
}

// Sender dispatches a message on the streaming channel.
type Sender interface {
	Send(protocol.Message)
}

// Options configure a Gate.
type Options struct {
	// BulkBypassConfirm lets group kills skip the confirmation stage.
	BulkBypassConfirm bool
	// ReconcileDelay before the post-dispatch refresh. Zero means 1s.
	ReconcileDelay time.Duration
	// Reconcile triggers the inventory refresh observing the real
	// effect. Required.
	Reconcile func()
	// Logger defaults to a stderr logger.
	Logger *logging.Logger
}

// Gate converts destructive intents into dispatched commands plus a
// reconciling refresh.
type Gate struct {
	sender    Sender
	notifier  *notify.Center
	bypass    bool
	delay     time.Duration
	reconcile func()
	logger    *logging.Logger

	mu             sync.Mutex
	state          GateState
	pending        *PendingAction
	pendingZombies []int
	dispatch       DispatchState
	reconTmr       *time.Timer
	closed         bool
}

// NewGate creates an unarmed gate.
func NewGate(sender Sender, notifier *notify.Center, opts Options) *Gate {
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil)
	}
	return &Gate{
		sender:    sender,
		notifier:  notifier,
		bypass:    opts.BulkBypassConfirm,
		delay:     opts.ReconcileDelay,
		reconcile: opts.Reconcile,
		logger:    opts.Logger,
		state:     StateUnarmed,
	}
}

// ParsePID validates UI pid input before anything touches the network.
func ParsePID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New(errors.ErrCodeValidation, "pid is required").
			WithUserMessage("Enter a pid")
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, errors.New(errors.ErrCodeValidation, fmt.Sprintf("pid %q is not numeric", s)).
			WithUserMessage("Pid must be a positive number")
	}
	return pid, nil
}

// RequestKill arms the gate for a single-target kill. A protected
// target is rejected immediately: PendingConfirm is unreachable for it.
func (g *Gate) RequestKill(target inventory.Entity, signal string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New(errors.ErrCodeInternal, "gate closed")
	}
	if target.Protected {
		g.logger.Warn(logging.CategoryAction, "protected_rejected", target.Name, map[string]any{"pid": target.PID})
		return errors.New(errors.ErrCodeProtectedTarget, fmt.Sprintf("pid %d is protected", target.PID)).
			WithContext("pid", target.PID).
			WithUserMessage(fmt.Sprintf("%s is protected and cannot be killed", target.Name))
	}
	if target.PID <= 0 {
		return errors.New(errors.ErrCodeValidation, "target has no pid")
	}

	g.pending = &PendingAction{
		ID:        uuid.NewString(),
		Target:    &target,
		Command:   Command{PID: target.PID, Signal: signal},
		CreatedAt: time.Now(),
	}
	g.state = StatePendingConfirm
	return nil
}

// Confirm dispatches the pending command. The executor call carries no
// guaranteed success signal, so success is assumed, a notification is
// shown, and one reconciling refresh is scheduled to observe the real
// effect. The gate returns to Unarmed.
func (g *Gate) Confirm() error {
	g.mu.Lock()
	if g.closed || g.state != StatePendingConfirm || g.pending == nil {
		g.mu.Unlock()
		return errors.New(errors.ErrCodeInternal, "nothing pending confirmation")
	}
	cmd := g.pending.Command
	zombies := g.pendingZombies
	g.pending = nil
	g.pendingZombies = nil
	g.state = StateUnarmed
	g.mu.Unlock()

	if cmd.AllZombies {
		g.dispatchZombies(zombies)
		return nil
	}
	g.dispatchCommand(cmd)
	return nil
}

// Cancel discards the pending action with no side effects.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
	g.pendingZombies = nil
	g.state = StateUnarmed
}

// KillByName kills every process with the given name. Bypasses
// confirmation under the default policy.
func (g *Gate) KillByName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(errors.ErrCodeValidation, "name is required").
			WithUserMessage("Enter a process name")
	}
	return g.requestBulk(Command{Name: name})
}

// KillByPort kills the process listening on the given port. Bypasses
// confirmation under the default policy.
func (g *Gate) KillByPort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.New(errors.ErrCodeValidation, fmt.Sprintf("port %d out of range", port)).
			WithUserMessage("Port must be between 1 and 65535")
	}
	return g.requestBulk(Command{Port: port})
}

// KillZombies kills every zombie in the given list, one dispatch per
// pid. Bypasses confirmation under the default policy.
func (g *Gate) KillZombies(entities []inventory.Entity) error {
	return g.requestBulk(Command{AllZombies: true, PID: 0}, entities...)
}

func (g *Gate) requestBulk(cmd Command, entities ...inventory.Entity) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return errors.New(errors.ErrCodeInternal, "gate closed")
	}
	if !g.bypass {
		g.pending = &PendingAction{
			ID:        uuid.NewString(),
			Command:   cmd,
			CreatedAt: time.Now(),
		}
		if cmd.AllZombies {
			g.pendingZombies = zombiePIDs(entities)
		}
		g.state = StatePendingConfirm
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if cmd.AllZombies {
		g.dispatchZombies(zombiePIDs(entities))
		return nil
	}
	g.dispatchCommand(cmd)
	return nil
}

func zombiePIDs(entities []inventory.Entity) []int {
	var pids []int
	for _, e := range entities {
		if e.Kind() == inventory.StatusZombie {
			pids = append(pids, e.PID)
		}
	}
	return pids
}

// dispatchCommand sends one kill_shell, notifies, and schedules the
// reconciling refresh.
func (g *Gate) dispatchCommand(cmd Command) {
	msg := protocol.KillShell{Kind: protocol.TypeKillShell}
	switch {
	case cmd.Name != "":
		msg.Name = cmd.Name
	case cmd.Port > 0:
		msg.Port = cmd.Port
	default:
		msg.PID = cmd.PID
		msg.Signal = cmd.Signal
	}
	g.sender.Send(msg)
	telemetry.ActionsDispatched.WithLabelValues(cmd.variant()).Inc()
	g.logger.Info(logging.CategoryAction, "dispatched", cmd.describe(), nil)

	g.mu.Lock()
	g.dispatch = DispatchPending
	g.mu.Unlock()

	if g.notifier != nil {
		g.notifier.Show(notify.OutcomeSuccess, "Kill signal sent to "+cmd.describe(), "")
	}
	g.scheduleReconcile()
}

func (g *Gate) dispatchZombies(pids []int) {
	if len(pids) == 0 {
		if g.notifier != nil {
			g.notifier.Show(notify.OutcomeInfo, "No zombie processes found", "")
		}
		return
	}
	for _, pid := range pids {
		g.sender.Send(protocol.KillShell{Kind: protocol.TypeKillShell, PID: pid})
	}
	telemetry.ActionsDispatched.WithLabelValues("zombies").Add(float64(len(pids)))
	g.logger.Info(logging.CategoryAction, "dispatched", "kill all zombies", map[string]any{"count": len(pids)})

	g.mu.Lock()
	g.dispatch = DispatchPending
	g.mu.Unlock()

	if g.notifier != nil {
		g.notifier.Show(notify.OutcomeSuccess, fmt.Sprintf("Kill signal sent to %d zombie processes", len(pids)), "")
	}
	g.scheduleReconcile()
}

// scheduleReconcile arms one delayed refresh. A newer dispatch resets
// the timer; there is never more than one outstanding.
func (g *Gate) scheduleReconcile() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if g.reconTmr != nil {
		g.reconTmr.Stop()
	}
	g.reconTmr = time.AfterFunc(g.delay, func() {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return
		}
		if g.dispatch == DispatchPending || g.dispatch == DispatchAcked {
			g.dispatch = DispatchReconciled
		}
		g.mu.Unlock()
		if g.reconcile != nil {
			g.reconcile()
		}
	})
}

// HandleShellResult consumes the optional async executor ack.
func (g *Gate) HandleShellResult(msg protocol.ShellResult) {
	g.mu.Lock()
	if g.closed || g.dispatch != DispatchPending {
		g.mu.Unlock()
		return
	}
	if msg.Success {
		g.dispatch = DispatchAcked
		g.mu.Unlock()
		return
	}
	g.dispatch = DispatchReconciled
	g.mu.Unlock()

	detail := msg.Error
	if detail == "" {
		detail = msg.Message
	}
	err := errors.New(errors.ErrCodeActionDispatch, "kill_shell failed").
		WithContext("detail", detail).
		WithUserMessage("Kill command failed")
	g.logger.Error(logging.CategoryAction, "dispatch_failed", detail, nil)
	if g.notifier != nil {
		g.notifier.Show(notify.OutcomeError, err.Display(), detail)
	}
}

// State returns the confirmation state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns a copy of the pending action, or nil.
func (g *Gate) Pending() *PendingAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

// Dispatch returns the in-flight dispatch state.
func (g *Gate) Dispatch() DispatchState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dispatch
}

// Close cancels the reconcile timer.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.pending = nil
	g.state = StateUnarmed
	if g.reconTmr != nil {
		g.reconTmr.Stop()
		g.reconTmr = nil
	}
}
