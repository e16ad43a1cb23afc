// Package daemon registers the recording controller on the D-Bus
// session bus under the well-known org.screencastd.Recorder1 name and
// serves it until shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/screencastd/screencastd/internal/session"
)

// D-Bus identity of the recording service.
const (
	BusName    = "org.screencastd.Recorder1"
	ObjectPath = dbus.ObjectPath("/org/screencastd/Recorder1")
	Interface  = "org.screencastd.Recorder1"
)

// Config holds daemon startup parameters.
type Config struct {
	// BusAddress is the D-Bus address to connect to. Empty means the
	// session bus (production). Non-empty connects to a custom address,
	// used by integration tests to point at a private dbus-daemon.
	BusAddress string

	// Controller is the recording state machine to expose.
	Controller *session.Controller

	// Events is the sink fanout the controller emits into. Run adds
	// its D-Bus signal emitter here so RecordingStarted/RecordingStopped
	// reach remote subscribers.
	Events *session.Fanout
}

// recorderService is the D-Bus object exported under ObjectPath.
// Methods translate 1:1 to controller operations; errors never cross
// the bus, only booleans do.
type recorderService struct {
	ctrl *session.Controller
}

func (s *recorderService) StartRecording() (bool, *dbus.Error) {
	return s.ctrl.Start(context.Background()), nil
}

func (s *recorderService) StopRecording() (bool, *dbus.Error) {
	return s.ctrl.Stop(context.Background()), nil
}

func (s *recorderService) ToggleRecording() (bool, *dbus.Error) {
	return s.ctrl.Toggle(context.Background()), nil
}

func (s *recorderService) IsRecording() (bool, *dbus.Error) {
	return s.ctrl.Recording(), nil
}

func (s *recorderService) GetCurrentFile() (string, *dbus.Error) {
	return s.ctrl.CurrentFile(), nil
}

// signalEmitter emits the service's D-Bus signals. Emission is
// best-effort: a failed emit is logged, never propagated.
type signalEmitter struct {
	conn *dbus.Conn
}

func (e signalEmitter) RecordingStarted(sessionID, file string) {
	if err := e.conn.Emit(ObjectPath, Interface+".RecordingStarted"); err != nil {
		slog.Warn("failed to emit RecordingStarted", "error", err)
	}
}

func (e signalEmitter) RecordingStopped(sessionID, file string) {
	if err := e.conn.Emit(ObjectPath, Interface+".RecordingStopped", file); err != nil {
		slog.Warn("failed to emit RecordingStopped", "error", err)
	}
}

// Run connects to the bus, exports the recorder service, requests the
// well-known name, reports readiness via sd-notify, and blocks until
// ctx is cancelled. Returns nil on clean shutdown.
func Run(ctx context.Context, cfg Config) error {
	var conn *dbus.Conn
	var err error
	if cfg.BusAddress == "" {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.Connect(cfg.BusAddress)
	}
	if err != nil {
		return fmt.Errorf("connect to D-Bus: %w", err)
	}
	defer conn.Close()

	cfg.Events.Add(signalEmitter{conn: conn})

	svc := &recorderService{ctrl: cfg.Controller}
	if err := conn.Export(svc, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export recorder service: %w", err)
	}

	// Always export Introspectable — without it busctl introspect gives
	// opaque errors.
	node := &introspect.Node{
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(svc),
				Signals: []introspect.Signal{
					{Name: "RecordingStarted"},
					{Name: "RecordingStopped", Args: []introspect.Arg{
						{Name: "file_path", Type: "s"},
					}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspectable: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %q: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("not primary owner of %q (reply=%d); another instance already running?", BusName, reply)
	}

	slog.Info("daemon ready", "bus_name", BusName)
	SdNotify("READY=1")

	<-ctx.Done()

	SdNotify("STOPPING=1")
	slog.Info("daemon shutting down")
	return nil
}
