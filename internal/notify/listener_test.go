package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func actionSignal(id uint32, key string) *dbus.Signal {
	return &dbus.Signal{
		Name: notifyInterface + ".ActionInvoked",
		Body: []interface{}{id, key},
	}
}

func TestAwaitAction_Match(t *testing.T) {
	signals := make(chan *dbus.Signal, 1)
	signals <- actionSignal(42, "open-file")

	key, ok := awaitAction(signals, 42, time.Second)
	if !ok {
		t.Fatal("awaitAction reported no match")
	}
	if key != "open-file" {
		t.Errorf("key = %q, want open-file", key)
	}
}

func TestAwaitAction_IgnoresNonMatchingID(t *testing.T) {
	signals := make(chan *dbus.Signal, 2)
	signals <- actionSignal(7, "copy-path")
	signals <- actionSignal(42, "copy-path")

	key, ok := awaitAction(signals, 42, time.Second)
	if !ok || key != "copy-path" {
		t.Fatalf("awaitAction = (%q, %v), want match on id 42", key, ok)
	}
}

func TestAwaitAction_Timeout(t *testing.T) {
	signals := make(chan *dbus.Signal)

	start := time.Now()
	_, ok := awaitAction(signals, 42, 50*time.Millisecond)
	if ok {
		t.Fatal("awaitAction reported a match on timeout")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the wait elapsed", elapsed)
	}
}

func TestAwaitAction_StreamClosed(t *testing.T) {
	signals := make(chan *dbus.Signal)
	close(signals)

	if _, ok := awaitAction(signals, 42, time.Second); ok {
		t.Fatal("awaitAction reported a match on a closed stream")
	}
}

func TestAwaitAction_IgnoresMalformedSignals(t *testing.T) {
	signals := make(chan *dbus.Signal, 3)
	signals <- &dbus.Signal{Name: notifyInterface + ".NotificationClosed", Body: []interface{}{uint32(42), uint32(1)}}
	signals <- &dbus.Signal{Name: notifyInterface + ".ActionInvoked", Body: []interface{}{"not-a-uint", "key"}}
	signals <- actionSignal(42, "open-file")

	key, ok := awaitAction(signals, 42, time.Second)
	if !ok || key != "open-file" {
		t.Fatalf("awaitAction = (%q, %v), want open-file match", key, ok)
	}
}

type dispatchRecorder struct {
	mu     sync.Mutex
	copied []string
	opened []string
}

func newTestNotifier(rec *dispatchRecorder) *DesktopNotifier {
	return &DesktopNotifier{
		actionWait: defaultActionWait,
		copyText: func(s string) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.copied = append(rec.copied, s)
			return nil
		},
		openFile: func(s string) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.opened = append(rec.opened, s)
			return nil
		},
	}
}

func TestDispatch_CopyPath(t *testing.T) {
	rec := &dispatchRecorder{}
	n := newTestNotifier(rec)

	n.dispatch("copy-path", "/tmp/rec.mp4")

	if len(rec.copied) != 1 || rec.copied[0] != "/tmp/rec.mp4" {
		t.Errorf("copied = %v, want [/tmp/rec.mp4]", rec.copied)
	}
	if len(rec.opened) != 0 {
		t.Errorf("opened = %v, want none", rec.opened)
	}
}

func TestDispatch_OpenFile(t *testing.T) {
	rec := &dispatchRecorder{}
	n := newTestNotifier(rec)

	n.dispatch("open-file", "/tmp/rec.mp4")

	if len(rec.opened) != 1 || rec.opened[0] != "/tmp/rec.mp4" {
		t.Errorf("opened = %v, want [/tmp/rec.mp4]", rec.opened)
	}
}

func TestDispatch_UnknownActionHasNoSideEffects(t *testing.T) {
	rec := &dispatchRecorder{}
	n := newTestNotifier(rec)

	n.dispatch("snooze", "/tmp/rec.mp4")

	if len(rec.copied) != 0 || len(rec.opened) != 0 {
		t.Errorf("unknown action caused side effects: copied=%v opened=%v", rec.copied, rec.opened)
	}
}
