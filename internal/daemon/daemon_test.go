package daemon_test

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	. "github.com/screencastd/screencastd/internal/daemon"
	"github.com/screencastd/screencastd/internal/session"
	"github.com/screencastd/screencastd/internal/testutil"
)

type stubHandle struct{ pid int }

func (h stubHandle) Pid() int { return h.pid }

type stubSelector struct {
	region string
	err    error
}

func (s *stubSelector) Select(ctx context.Context) (string, error) {
	return s.region, s.err
}

type stubRecorder struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *stubRecorder) Start(ctx context.Context, region string) (session.Handle, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return stubHandle{pid: r.starts}, fmt.Sprintf("/tmp/screen-record-%d.mp4", r.starts), nil
}

func (r *stubRecorder) Stop(h session.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

// startDaemon runs the daemon against a private bus with stubbed
// collaborators and returns the bus address.
func startDaemon(t *testing.T) string {
	t.Helper()
	addr := testutil.StartBus(t)

	ctx, cancel := context.WithCancel(context.Background())

	events := &session.Fanout{}
	ctrl := session.NewController(
		&stubSelector{region: "1920x1080+0+0"},
		&stubRecorder{},
		session.NopNotifier{},
		events,
		session.GoSpawner{},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, Config{BusAddress: addr, Controller: ctrl, Events: events})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop within 5s after context cancel")
		}
	})

	testutil.WaitForName(t, addr, BusName)
	return addr
}

func TestDaemon_StartStopCycle(t *testing.T) {
	addr := startDaemon(t)

	client, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	// Subscribe to the service's signals before driving it.
	if err := client.AddMatchSignal(
		dbus.WithMatchInterface(Interface),
	); err != nil {
		t.Fatalf("subscribe to signals: %v", err)
	}
	signals := make(chan *dbus.Signal, 16)
	client.Signal(signals)

	obj := client.Object(BusName, ObjectPath)

	var started bool
	if err := obj.Call(Interface+".StartRecording", 0).Store(&started); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !started {
		t.Fatal("StartRecording returned false")
	}

	var recording bool
	if err := obj.Call(Interface+".IsRecording", 0).Store(&recording); err != nil {
		t.Fatalf("IsRecording: %v", err)
	}
	if !recording {
		t.Error("IsRecording returned false while recording")
	}

	var file string
	if err := obj.Call(Interface+".GetCurrentFile", 0).Store(&file); err != nil {
		t.Fatalf("GetCurrentFile: %v", err)
	}
	if !strings.HasSuffix(file, ".mp4") {
		t.Errorf("GetCurrentFile = %q, want .mp4 path", file)
	}

	// Starting again while recording is a no-op.
	if err := obj.Call(Interface+".StartRecording", 0).Store(&started); err != nil {
		t.Fatalf("second StartRecording: %v", err)
	}
	if started {
		t.Error("second StartRecording returned true")
	}

	var stopped bool
	if err := obj.Call(Interface+".StopRecording", 0).Store(&stopped); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if !stopped {
		t.Fatal("StopRecording returned false")
	}

	if err := obj.Call(Interface+".IsRecording", 0).Store(&recording); err != nil {
		t.Fatalf("IsRecording after stop: %v", err)
	}
	if recording {
		t.Error("IsRecording still true after stop")
	}

	// Expect RecordingStarted then RecordingStopped(file).
	waitSignal := func(name string) *dbus.Signal {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case sig := <-signals:
				if sig.Name == name {
					return sig
				}
			case <-deadline:
				t.Fatalf("signal %s not received in time", name)
			}
		}
	}

	waitSignal(Interface + ".RecordingStarted")
	stopSig := waitSignal(Interface + ".RecordingStopped")
	if len(stopSig.Body) != 1 || stopSig.Body[0] != file {
		t.Errorf("RecordingStopped body = %v, want [%q]", stopSig.Body, file)
	}
}

func TestDaemon_ToggleRecording(t *testing.T) {
	addr := startDaemon(t)

	client, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	obj := client.Object(BusName, ObjectPath)

	var result bool
	if err := obj.Call(Interface+".ToggleRecording", 0).Store(&result); err != nil {
		t.Fatalf("ToggleRecording: %v", err)
	}
	if !result {
		t.Fatal("toggle from idle returned false")
	}

	var recording bool
	if err := obj.Call(Interface+".IsRecording", 0).Store(&recording); err != nil {
		t.Fatalf("IsRecording: %v", err)
	}
	if !recording {
		t.Error("not recording after toggle from idle")
	}

	if err := obj.Call(Interface+".ToggleRecording", 0).Store(&result); err != nil {
		t.Fatalf("second ToggleRecording: %v", err)
	}
	if !result {
		t.Fatal("toggle from recording returned false")
	}

	if err := obj.Call(Interface+".IsRecording", 0).Store(&recording); err != nil {
		t.Fatalf("IsRecording: %v", err)
	}
	if recording {
		t.Error("still recording after toggle from recording")
	}
}

func TestDaemon_NameAlreadyTaken(t *testing.T) {
	addr := testutil.StartBus(t)

	owner, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connect owner: %v", err)
	}
	defer owner.Close()

	reply, err := owner.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		t.Fatalf("pre-claim RequestName: %v", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		t.Fatalf("expected to become primary owner, got reply=%d", reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := &session.Fanout{}
	ctrl := session.NewController(&stubSelector{}, &stubRecorder{}, session.NopNotifier{}, events, session.GoSpawner{})

	if err := Run(ctx, Config{BusAddress: addr, Controller: ctrl, Events: events}); err == nil {
		t.Fatal("Run() succeeded but expected an error for name-already-taken")
	}
}

func TestDaemon_Introspectable(t *testing.T) {
	addr := startDaemon(t)

	client, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	obj := client.Object(BusName, ObjectPath)

	var xml string
	if err := obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Store(&xml); err != nil {
		t.Fatalf("Introspect: %v", err)
	}

	for _, want := range []string{"StartRecording", "StopRecording", "ToggleRecording", "IsRecording", "GetCurrentFile", "RecordingStarted", "RecordingStopped"} {
		if !strings.Contains(xml, want) {
			t.Errorf("introspection XML does not mention %s", want)
		}
	}
}

func TestSdNotify_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	// Must not panic or error.
	SdNotify("READY=1")
}

func TestSdNotify_WithSocket(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "notify.sock")

	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Net: "unixgram", Name: sockPath})
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	t.Setenv("NOTIFY_SOCKET", sockPath)
	SdNotify("READY=1")

	buf := make([]byte, 128)
	ln.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	n, err := ln.Read(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("SdNotify sent %q, want %q", got, "READY=1")
	}
}
