package notify

import (
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

// awaitAction waits for an ActionInvoked signal matching the given
// notification id. Every wait gets its own fresh timeout; signals for
// other notifications are ignored and do not extend or reset anything.
// Returns false when a wait times out or the stream closes.
func awaitAction(signals <-chan *dbus.Signal, id uint32, wait time.Duration) (string, bool) {
	for {
		timer := time.NewTimer(wait)
		select {
		case sig, ok := <-signals:
			timer.Stop()
			if !ok {
				slog.Debug("action listener: signal stream closed", "notification_id", id)
				return "", false
			}
			sigID, key, ok := parseActionInvoked(sig)
			if !ok || sigID != id {
				continue
			}
			return key, true
		case <-timer.C:
			slog.Debug("action listener timed out", "notification_id", id)
			return "", false
		}
	}
}

// parseActionInvoked extracts (id, action_key) from an ActionInvoked
// signal. Returns ok=false for any other signal shape.
func parseActionInvoked(sig *dbus.Signal) (uint32, string, bool) {
	if sig.Name != notifyInterface+".ActionInvoked" {
		return 0, "", false
	}
	if len(sig.Body) != 2 {
		return 0, "", false
	}
	id, ok1 := sig.Body[0].(uint32)
	key, ok2 := sig.Body[1].(string)
	if !ok1 || !ok2 {
		return 0, "", false
	}
	return id, key, true
}

// dispatch performs the side effect for a matched action button.
func (n *DesktopNotifier) dispatch(key, file string) {
	switch key {
	case "copy-path":
		if err := n.copyText(file); err != nil {
			slog.Error("failed to copy path to clipboard", "error", err, "file", file)
			return
		}
		slog.Info("copied path to clipboard", "file", file)
	case "open-file":
		if err := n.openFile(file); err != nil {
			slog.Error("failed to open file", "error", err, "file", file)
			return
		}
		slog.Info("opened file", "file", file)
	default:
		slog.Warn("unknown notification action", "action", key)
	}
}
