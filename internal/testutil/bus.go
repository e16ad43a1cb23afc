// Package testutil provides a private dbus-daemon harness for
// integration tests. Tests point daemon and client connections at the
// returned address instead of the real session bus.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// busConfig is a permissive session-bus configuration. Filesystem
// sockets (not abstract) avoid cross-test collisions.
const busConfig = `<?xml version="1.0"?>
<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <type>session</type>
  <listen>unix:path=%s</listen>
  <policy context="default">
    <allow send_destination="*" eavesdrop="true"/>
    <allow eavesdrop="true"/>
    <allow own="*"/>
  </policy>
</busconfig>`

// StartBus starts a private dbus-daemon and returns its address.
// The daemon is killed when the test finishes. Skips the test when
// dbus-daemon is not installed.
func StartBus(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("dbus-daemon"); err != nil {
		t.Skip("dbus-daemon not available")
	}

	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "test.sock")
	confPath := filepath.Join(tmpDir, "bus.conf")

	conf := []byte(fmt.Sprintf(busConfig, sockPath))
	if err := os.WriteFile(confPath, conf, 0600); err != nil {
		t.Fatalf("write bus config: %v", err)
	}

	cmd := exec.Command("dbus-daemon", "--config-file="+confPath, "--nofork")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start dbus-daemon: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill() //nolint:errcheck
		cmd.Wait()         //nolint:errcheck
	})

	// Wait for the socket to appear (50 * 100ms = 5s max).
	for range 50 {
		if _, err := os.Stat(sockPath); err == nil {
			return "unix:path=" + sockPath
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatal("dbus-daemon socket not created in time")
	return ""
}

// WaitForName polls until the well-known name is registered on the bus
// or the timeout elapses.
func WaitForName(t *testing.T, addr, name string) {
	t.Helper()
	for range 50 {
		conn, err := dbus.Connect(addr)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		obj := conn.BusObject()
		var owners []string
		if err := obj.Call("org.freedesktop.DBus.ListNames", 0).Store(&owners); err != nil {
			conn.Close()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		conn.Close()
		for _, n := range owners {
			if n == name {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("bus name %q not registered in time", name)
}
