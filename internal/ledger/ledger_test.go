package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/pixied/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l := openLedger(t)

	entries := []struct {
		typ      EventType
		deviceID int
		command  string
	}{
		{EventCommandSent, 1, "on"},
		{EventCommandFailed, 2, "set_brightness"},
		{EventCommandSent, 1, "off"},
	}
	for _, e := range entries {
		if err := l.Append(e.typ, "mqtt", e.deviceID, map[string]any{"command": e.command}); err != nil {
			t.Fatal(err)
		}
	}

	sent, err := l.GetByType(EventCommandSent, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 {
		t.Fatalf("GetByType(sent) returned %d entries, want 2", len(sent))
	}
	if sent[0].Payload["command"] != "off" {
		t.Errorf("newest entry = %v, want off", sent[0].Payload)
	}
	if sent[0].Source != "mqtt" || sent[0].DeviceID != 1 {
		t.Errorf("entry fields = %+v", sent[0])
	}

	byDevice, err := l.GetByDevice(2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(byDevice) != 1 || byDevice[0].EventType != EventCommandFailed {
		t.Errorf("GetByDevice(2) = %+v", byDevice)
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	if err := l.Append(EventCommandSent, "", 1, nil); err != nil {
		t.Fatal(err)
	}

	n, err := l.DeleteOlderThan(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted %d fresh entries", n)
	}

	n, err = l.DeleteOlderThan(-time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d entries, want 1", n)
	}
}
