package cli

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/screencastd/screencastd/internal/daemon"
	"github.com/screencastd/screencastd/internal/testutil"
)

// stubRecorder is a minimal server-side implementation of the
// recorder interface so the client can be tested without a full
// daemon.
type stubRecorder struct {
	recording bool
	file      string
	calls     []string
}

func (s *stubRecorder) StartRecording() (bool, *dbus.Error) {
	s.calls = append(s.calls, "start")
	if s.recording {
		return false, nil
	}
	s.recording = true
	return true, nil
}

func (s *stubRecorder) StopRecording() (bool, *dbus.Error) {
	s.calls = append(s.calls, "stop")
	if !s.recording {
		return false, nil
	}
	s.recording = false
	return true, nil
}

func (s *stubRecorder) ToggleRecording() (bool, *dbus.Error) {
	s.calls = append(s.calls, "toggle")
	s.recording = !s.recording
	return true, nil
}

func (s *stubRecorder) IsRecording() (bool, *dbus.Error) {
	return s.recording, nil
}

func (s *stubRecorder) GetCurrentFile() (string, *dbus.Error) {
	return s.file, nil
}

func startStub(t *testing.T, stub *stubRecorder) string {
	t.Helper()
	addr := testutil.StartBus(t)

	conn, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connecting stub service: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.Export(stub, daemon.ObjectPath, daemon.Interface); err != nil {
		t.Fatalf("exporting stub: %v", err)
	}
	reply, err := conn.RequestName(daemon.BusName, dbus.NameFlagDoNotQueue)
	if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		t.Fatalf("requesting name: reply=%v err=%v", reply, err)
	}
	testutil.WaitForName(t, addr, daemon.BusName)
	return addr
}

func connect(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := ConnectAddress(addr)
	if err != nil {
		t.Fatalf("connecting client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_StartStop(t *testing.T) {
	stub := &stubRecorder{}
	addr := startStub(t, stub)
	c := connect(t, addr)

	ok, err := c.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ok {
		t.Error("Start returned false on idle daemon")
	}

	ok, err = c.Start()
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if ok {
		t.Error("second Start returned true while recording")
	}

	ok, err = c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !ok {
		t.Error("Stop returned false while recording")
	}

	ok, err = c.Stop()
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if ok {
		t.Error("second Stop returned true on idle daemon")
	}
}

func TestClient_Toggle(t *testing.T) {
	stub := &stubRecorder{}
	addr := startStub(t, stub)
	c := connect(t, addr)

	if ok, err := c.Toggle(); err != nil || !ok {
		t.Fatalf("Toggle: ok=%v err=%v", ok, err)
	}
	if !stub.recording {
		t.Error("toggle did not start recording")
	}
	if ok, err := c.Toggle(); err != nil || !ok {
		t.Fatalf("second Toggle: ok=%v err=%v", ok, err)
	}
	if stub.recording {
		t.Error("second toggle did not stop recording")
	}
}

func TestClient_Status(t *testing.T) {
	stub := &stubRecorder{recording: true, file: "/tmp/rec.mp4"}
	addr := startStub(t, stub)
	c := connect(t, addr)

	recording, file, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !recording {
		t.Error("Status reported not recording")
	}
	if file != "/tmp/rec.mp4" {
		t.Errorf("Status file = %q, want /tmp/rec.mp4", file)
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	addr := testutil.StartBus(t)
	c := connect(t, addr)

	// Bus is up but nobody owns the name. Calls must error, not hang.
	if _, err := c.Start(); err == nil {
		t.Error("Start succeeded with no daemon on the bus")
	}
	if _, _, err := c.Status(); err == nil {
		t.Error("Status succeeded with no daemon on the bus")
	}
}
