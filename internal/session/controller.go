// Package session implements the recording session state machine.
// A Controller owns the single mutable session record and serializes
// all control operations through one lock; collaborators (region
// selector, capture supervisor, notifier, event sinks, task spawner)
// are injected so the state machine is testable in isolation.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handle is an opaque reference to a running capture process.
type Handle interface {
	Pid() int
}

// Selector picks a screen region to record. It blocks until the user
// confirms or cancels the selection.
type Selector interface {
	Select(ctx context.Context) (string, error)
}

// Recorder supervises the external capture process. Start spawns the
// process for the given region and returns immediately with a live
// handle and the output file path. Stop delivers a graceful interrupt
// and blocks until the process has exited so the container is
// finalized.
type Recorder interface {
	Start(ctx context.Context, region string) (Handle, string, error)
	Stop(h Handle) error
}

// Notifier surfaces recording outcomes to the user. Both methods are
// best-effort: failures are logged by the implementation and never
// reach the control flow. RecordingSaved also runs the notification
// action listener for its lifetime, so it is always invoked through
// the Spawner.
type Notifier interface {
	RecordingSaved(file string)
	RecordingFailed(message string)
}

// Events receives state transition notifications after each successful
// Start or Stop. Implementations must not call back into the
// Controller: events fire while the session lock is held.
type Events interface {
	RecordingStarted(sessionID, file string)
	RecordingStopped(sessionID, file string)
}

// Spawner runs a function as a detached background task.
type Spawner interface {
	Spawn(fn func())
}

// GoSpawner runs tasks on new goroutines.
type GoSpawner struct{}

func (GoSpawner) Spawn(fn func()) { go fn() }

// NopNotifier discards all notifications. Used when desktop
// notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) RecordingSaved(string)  {}
func (NopNotifier) RecordingFailed(string) {}

// Fanout dispatches events to multiple sinks. Sinks are added during
// daemon wiring, before the controller handles any request.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Events
}

// Add registers an event sink.
func (f *Fanout) Add(e Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, e)
}

func (f *Fanout) RecordingStarted(sessionID, file string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.sinks {
		e.RecordingStarted(sessionID, file)
	}
}

func (f *Fanout) RecordingStopped(sessionID, file string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.sinks {
		e.RecordingStopped(sessionID, file)
	}
}

// Controller is the recording state machine. The embedded record
// (recording, currentFile, handle) transitions as a unit under mu:
// either all three are set or none is. Start and Stop hold the
// exclusive lock for their full duration, including the blocking
// subprocess spawn and graceful wait, so concurrent control calls
// serialize entirely through this lock.
type Controller struct {
	mu          sync.RWMutex
	recording   bool
	currentFile string
	handle      Handle
	sessionID   string

	selector Selector
	recorder Recorder
	notifier Notifier
	events   Events
	spawner  Spawner
}

// NewController creates a controller in the idle state.
func NewController(selector Selector, recorder Recorder, notifier Notifier, events Events, spawner Spawner) *Controller {
	return &Controller{
		selector: selector,
		recorder: recorder,
		notifier: notifier,
		events:   events,
		spawner:  spawner,
	}
}

// Start begins a new recording. It returns false without touching the
// record when a recording is already running, when region selection is
// cancelled, or when the capture process cannot be spawned.
func (c *Controller) Start(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		slog.Warn("already recording, ignoring start request")
		return false
	}

	region, err := c.selector.Select(ctx)
	if err != nil {
		slog.Error("region selection failed", "error", err)
		c.notifier.RecordingFailed(err.Error())
		return false
	}

	handle, file, err := c.recorder.Start(ctx, region)
	if err != nil {
		slog.Error("failed to start capture process", "error", err)
		c.notifier.RecordingFailed(err.Error())
		return false
	}

	c.recording = true
	c.currentFile = file
	c.handle = handle
	c.sessionID = uuid.NewString()

	slog.Info("recording started", "file", file, "session_id", c.sessionID, "region", region)
	c.events.RecordingStarted(c.sessionID, file)
	return true
}

// Stop ends the current recording. Returns false when idle. The
// graceful stop of the capture process is best-effort: a failed
// interrupt or wait is logged and the record is reset regardless, so
// the daemon never stays wedged in the recording state. A wedged
// subprocess is leaked by design; its handle is dropped here.
func (c *Controller) Stop(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		slog.Warn("not recording, ignoring stop request")
		return false
	}

	file := c.currentFile
	sessionID := c.sessionID

	if err := c.recorder.Stop(c.handle); err != nil {
		slog.Error("failed to stop capture process", "error", err, "file", file)
	}

	c.recording = false
	c.currentFile = ""
	c.handle = nil
	c.sessionID = ""

	slog.Info("recording stopped", "file", file, "session_id", sessionID)
	c.events.RecordingStopped(sessionID, file)

	c.spawner.Spawn(func() {
		c.notifier.RecordingSaved(file)
	})

	return true
}

// Toggle delegates to Stop when recording, Start otherwise. The read
// and the delegated call are separate lock acquisitions; a racing
// external Start/Stop can make the outcome a no-op, which the guards
// in Start and Stop absorb safely.
func (c *Controller) Toggle(ctx context.Context) bool {
	c.mu.RLock()
	recording := c.recording
	c.mu.RUnlock()

	if recording {
		return c.Stop(ctx)
	}
	return c.Start(ctx)
}

// Recording reports whether a capture process is currently owned by
// the session record.
func (c *Controller) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// CurrentFile returns the output path of the active recording, or the
// empty string when idle.
func (c *Controller) CurrentFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentFile
}

// Status returns the recording flag and current file in one shared
// lock acquisition.
func (c *Controller) Status() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording, c.currentFile
}
