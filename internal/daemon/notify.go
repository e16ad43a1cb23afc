package daemon

import (
	"log/slog"
	"net"
	"os"
)

// SdNotify sends a state notification (READY=1, STOPPING=1) to systemd
// via NOTIFY_SOCKET. Outside systemd it returns silently; dial failures
// are logged but not returned (fire-and-forget).
func SdNotify(state string) {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return
	}
	conn, err := net.Dial("unixgram", socket)
	if err != nil {
		slog.Warn("sd-notify dial failed", "socket", socket, "error", err)
		return
	}
	defer conn.Close()
	conn.Write([]byte(state)) //nolint:errcheck
}
