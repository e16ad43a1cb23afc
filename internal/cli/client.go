// Package cli implements the D-Bus client side of the recorder
// control commands. Each command connects to the session bus, calls
// one method on the daemon and reports the result.
package cli

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/screencastd/screencastd/internal/daemon"
)

// Client talks to a running screencastd daemon over D-Bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Connect dials the session bus and binds to the daemon's well-known
// name. The daemon does not have to be running yet; name resolution
// happens on the first method call.
func Connect() (*Client, error) {
	return ConnectAddress("")
}

// ConnectAddress is Connect against a specific bus address. Used by
// tests to reach a private dbus-daemon.
func ConnectAddress(address string) (*Client, error) {
	var conn *dbus.Conn
	var err error
	if address == "" {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &Client{
		conn: conn,
		obj:  conn.Object(daemon.BusName, daemon.ObjectPath),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Start asks the daemon to begin a recording. False means the daemon
// refused: either one is already running or region selection failed.
func (c *Client) Start() (bool, error) {
	return c.callBool("StartRecording")
}

// Stop ends the current recording. False means none was running.
func (c *Client) Stop() (bool, error) {
	return c.callBool("StopRecording")
}

// Toggle stops a running recording or starts a new one.
func (c *Client) Toggle() (bool, error) {
	return c.callBool("ToggleRecording")
}

// Status reports whether a recording is in progress and, if so, the
// file it is being written to.
func (c *Client) Status() (recording bool, file string, err error) {
	if err := c.obj.Call(daemon.Interface+".IsRecording", 0).Store(&recording); err != nil {
		return false, "", fmt.Errorf("calling IsRecording: %w", err)
	}
	if err := c.obj.Call(daemon.Interface+".GetCurrentFile", 0).Store(&file); err != nil {
		return false, "", fmt.Errorf("calling GetCurrentFile: %w", err)
	}
	return recording, file, nil
}

func (c *Client) callBool(method string) (bool, error) {
	var ok bool
	if err := c.obj.Call(daemon.Interface+"."+method, 0).Store(&ok); err != nil {
		return false, fmt.Errorf("calling %s: %w", method, err)
	}
	return ok, nil
}
