// Package notify sends desktop notifications over D-Bus and correlates
// notification action buttons back to the recording they concern.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/godbus/dbus/v5"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"

	appName = "screencastd"

	// notifyExpireMs is the expiry passed to the notification daemon.
	notifyExpireMs = int32(5000)

	// defaultActionWait bounds each wait for an ActionInvoked signal.
	defaultActionWait = 6 * time.Second
)

// Config tunes the desktop notifier.
type Config struct {
	// BusAddress connects to a custom bus address instead of the
	// session bus. Used by tests.
	BusAddress string
	// OpenCommand overrides the file opener ("open-file" action).
	OpenCommand string
	// ActionWait overrides the per-wait listener timeout.
	ActionWait time.Duration
}

// DesktopNotifier sends notifications via org.freedesktop.Notifications
// and, per completed recording, runs a bounded listener for the user's
// action button press. The sending connection is long-lived and
// reconnects once when the bus drops; each action listener dials its
// own fresh connection.
type DesktopNotifier struct {
	busAddress string
	openCmd    string
	actionWait time.Duration

	mu   sync.Mutex
	conn *dbus.Conn

	// side effects of action dispatch, injectable for tests
	copyText func(string) error
	openFile func(string) error
}

// New connects to the session bus and returns a ready notifier.
func New(cfg Config) (*DesktopNotifier, error) {
	n := &DesktopNotifier{
		busAddress: cfg.BusAddress,
		openCmd:    cfg.OpenCommand,
		actionWait: cfg.ActionWait,
	}
	if n.actionWait <= 0 {
		n.actionWait = defaultActionWait
	}
	n.copyText = clipboard.WriteAll
	n.openFile = func(file string) error { return OpenFile(file, n.openCmd) }

	conn, err := n.dial()
	if err != nil {
		return nil, err
	}
	n.conn = conn
	return n, nil
}

func (n *DesktopNotifier) dial() (*dbus.Conn, error) {
	if n.busAddress != "" {
		conn, err := dbus.Connect(n.busAddress)
		if err != nil {
			return nil, fmt.Errorf("connect to bus %s: %w", n.busAddress, err)
		}
		return conn, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return conn, nil
}

// Close shuts down the sending connection. In-flight action listeners
// run to completion on their own connections.
func (n *DesktopNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
}

// RecordingSaved posts the "Recording Saved" notification with its
// action buttons, then listens for the user's choice. Intended to run
// on a detached task: the listener blocks for up to one action-wait
// window per incoming signal.
func (n *DesktopNotifier) RecordingSaved(file string) {
	id, err := n.notify(
		"Recording Saved",
		"Saved to: "+file,
		"video-x-generic",
		[]string{"copy-path", "Copy Path", "open-file", "Open File"},
	)
	if err != nil {
		slog.Error("failed to send saved notification", "error", err, "file", file)
		return
	}
	slog.Info("saved notification sent", "notification_id", id, "file", file)

	n.listenForAction(id, file)
}

// RecordingFailed posts an error notification. Best-effort: failures
// are logged and swallowed.
func (n *DesktopNotifier) RecordingFailed(message string) {
	if _, err := n.notify("Screen Recorder Error", message, "dialog-error", nil); err != nil {
		slog.Error("failed to send error notification", "error", err)
	}
}

// notify sends a Notify call, reconnecting and retrying once if the
// connection has died.
func (n *DesktopNotifier) notify(summary, body, icon string, actions []string) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id, err := n.doNotify(summary, body, icon, actions)
	if err != nil && errors.Is(err, dbus.ErrClosed) {
		conn, dialErr := n.dial()
		if dialErr != nil {
			return 0, fmt.Errorf("notify: %w (reconnect failed: %v)", err, dialErr)
		}
		n.conn.Close()
		n.conn = conn
		slog.Info("reconnected to notification bus")
		id, err = n.doNotify(summary, body, icon, actions)
	}
	return id, err
}

func (n *DesktopNotifier) doNotify(summary, body, icon string, actions []string) (uint32, error) {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(
		notifyInterface+".Notify",
		0,
		appName,
		uint32(0), // replaces_id: always a new notification
		icon,
		summary,
		body,
		actions,
		map[string]dbus.Variant{},
		notifyExpireMs,
	)
	if call.Err != nil {
		return 0, fmt.Errorf("notify call: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("store notify result: %w", err)
	}
	return id, nil
}

// listenForAction subscribes to ActionInvoked on a fresh connection
// and dispatches at most one matching action. It terminates after one
// dispatch, one timed-out wait, or closure of the signal stream.
func (n *DesktopNotifier) listenForAction(id uint32, file string) {
	conn, err := n.dial()
	if err != nil {
		slog.Error("action listener: connect failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyInterface),
		dbus.WithMatchMember("ActionInvoked"),
	); err != nil {
		slog.Error("action listener: subscribe failed", "error", err)
		return
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	key, ok := awaitAction(signals, id, n.actionWait)
	if !ok {
		return
	}
	n.dispatch(key, file)
}
