// Package scanqueue sequences scan targets through a single event sink, one
// stream at a time.
package scanqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/efebarandurmaz/giftmap/internal/event"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Stream yields the events produced for one target. Next returns io.EOF once
// the upstream has nothing more to send.
type Stream interface {
	Next(ctx context.Context) (event.Event, error)
	Close() error
}

// Source opens the event stream for a target.
type Source interface {
	Open(ctx context.Context, target string) (Stream, error)
}

// Sink receives every graph event of the active stream, in arrival order.
// Apply runs under the controller lock and must not call back into it.
type Sink interface {
	Apply(ctx context.Context, ev event.Event) error
}

// StreamError is a recoverable fault of one target's stream.
type StreamError struct {
	Target  string
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("stream %s: %v", e.Target, e.Err)
	case e.Message != "":
		return fmt.Sprintf("stream %s: %s", e.Target, e.Message)
	}
	return fmt.Sprintf("stream %s failed", e.Target)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Hooks observe controller transitions. They run outside the controller's
// lock and may call back into it.
type Hooks struct {
	OnStart    func(target string)
	OnComplete func(target string)
	OnFault    func(target string, err *StreamError)
	OnEvent    func(target string, ev event.Event, err error)
	OnStop     func(cancelled string, dropped []string)
	OnIdle     func()
}

// Config configures a Controller.
type Config struct {
	// SettleDelay is the pause after a stream fault before the next target starts.
	SettleDelay time.Duration
	// Autostart begins scanning as soon as targets are enqueued.
	Autostart bool
	Hooks     Hooks
	Logger    *slog.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		SettleDelay: 2 * time.Second,
		Autostart:   true,
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State   State    `json:"state"`
	Current string   `json:"current,omitempty"`
	Queue   []string `json:"queue"`
}

// Controller is the scan queue state machine.
type Controller struct {
	source Source
	sink   Sink
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	current string
	queue   []string
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle controller.
func New(source Source, sink Sink, cfg *Config) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		source: source,
		sink:   sink,
		cfg:    *cfg,
		logger: logger.With("component", "scanqueue"),
		state:  StateIdle,
		done:   done,
	}
}

// Enqueue appends targets to the pending queue. With autostart, an idle or
// stopped controller begins the first one immediately.
func (c *Controller) Enqueue(targets ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			c.queue = append(c.queue, t)
		}
	}
	if c.cfg.Autostart {
		c.startLocked()
	}
}

// Start begins the next queued target when nothing is running. It reports
// whether a stream was started.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

// Remove drops the first pending occurrence of target. The in-flight target
// is never affected.
func (c *Controller) Remove(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.queue {
		if t == target {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Stop cancels the in-flight stream and clears the queue. Once Stop returns,
// no further event from the cancelled stream reaches the sink. OnStop only
// fires when there was something to stop.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancelled := c.current
	dropped := c.queue
	busy := c.state == StateActive || c.state == StateDraining || len(dropped) > 0
	c.queue = nil
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.current = ""
	c.setStateLocked(StateStopped)
	c.mu.Unlock()

	if !busy {
		return
	}
	c.logger.Info("scan stopped", "cancelled", cancelled, "dropped", len(dropped))
	if h := c.cfg.Hooks.OnStop; h != nil {
		h(cancelled, dropped)
	}
}

// Status returns the current state, target and pending queue.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:   c.state,
		Current: c.current,
		Queue:   append([]string{}, c.queue...),
	}
}

// Wait blocks until the controller is idle or stopped.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		select {
		case <-done:
			c.mu.Lock()
			settled := c.state == StateIdle || c.state == StateStopped
			c.mu.Unlock()
			if settled {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state transition", "from", c.state, "to", s)
	c.state = s
	switch s {
	case StateIdle, StateStopped:
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	default:
		select {
		case <-c.done:
			c.done = make(chan struct{})
		default:
		}
	}
}

func (c *Controller) startLocked() bool {
	if c.state == StateActive || c.state == StateDraining || len(c.queue) == 0 {
		return false
	}
	c.launchLocked()
	return true
}

func (c *Controller) launchLocked() {
	target := c.queue[0]
	c.queue = c.queue[1:]
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.current = target
	c.setStateLocked(StateActive)
	go c.run(ctx, c.gen, target)
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) run(ctx context.Context, gen uint64, target string) {
	if !c.isCurrent(gen) {
		return
	}
	c.logger.Info("scan started", "target", target)
	if h := c.cfg.Hooks.OnStart; h != nil {
		h(target)
	}

	err := c.consume(ctx, gen, target)
	c.finish(ctx, gen, target, err)
}

func (c *Controller) consume(ctx context.Context, gen uint64, target string) error {
	stream, err := c.source.Open(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StreamError{Target: target, Err: err}
	}
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, event.ErrMalformed):
			c.logger.Warn("undecodable event", "target", target, "error", err)
			c.notifyEvent(target, nil, err)
			continue
		case err != nil:
			return &StreamError{Target: target, Err: err}
		}

		switch e := ev.(type) {
		case *event.StreamComplete:
			return nil
		case *event.StreamError:
			return &StreamError{Target: target, Message: e.Message}
		}

		accepted, err := c.apply(ctx, gen, ev)
		if !accepted {
			return context.Canceled
		}
		c.notifyEvent(target, ev, err)
	}
}

// apply forwards ev to the sink unless the stream has been superseded. The
// generation check and the sink call share the lock so Stop cannot interleave.
func (c *Controller) apply(ctx context.Context, gen uint64, ev event.Event) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateActive {
		return false, nil
	}
	return true, c.sink.Apply(ctx, ev)
}

func (c *Controller) notifyEvent(target string, ev event.Event, err error) {
	if h := c.cfg.Hooks.OnEvent; h != nil {
		h(target, ev, err)
	}
}

func (c *Controller) finish(ctx context.Context, gen uint64, target string, err error) {
	if !c.isCurrent(gen) {
		return
	}

	var serr *StreamError
	if errors.As(err, &serr) {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.current = ""
		c.setStateLocked(StateDraining)
		c.mu.Unlock()

		c.logger.Warn("scan failed", "target", target, "error", serr)
		if h := c.cfg.Hooks.OnFault; h != nil {
			h(target, serr)
		}
		if c.cfg.SettleDelay > 0 {
			timer := time.NewTimer(c.cfg.SettleDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	} else {
		c.logger.Info("scan completed", "target", target)
		if h := c.cfg.Hooks.OnComplete; h != nil {
			h(target)
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.current = ""
	if len(c.queue) > 0 {
		c.launchLocked()
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.logger.Info("scan queue drained")
	if h := c.cfg.Hooks.OnIdle; h != nil {
		h()
	}
}
