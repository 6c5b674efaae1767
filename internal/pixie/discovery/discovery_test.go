package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/dokzlo13/pixied/internal/pixie/cloud"
	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

type fakeSession struct {
	loginErr   error
	devices    []map[string]any
	devicesErr error
	resolved   int
}

func (f *fakeSession) Login(ctx context.Context) error { return f.loginErr }

func (f *fakeSession) Devices(ctx context.Context) ([]map[string]any, error) {
	return f.devices, f.devicesErr
}

func (f *fakeSession) ResolveAll(ctx context.Context) (cloud.Credentials, error) {
	f.resolved++
	return cloud.Credentials{Username: "u", SessionToken: "tok", LiveGroupID: "lg1"}, nil
}

func TestParseDevices(t *testing.T) {
	raw := []map[string]any{
		{"id": 1.0, "mac": "aa:01", "name": "Gateway", "type": 1.0, "stype": 2.0, "version": "3.1"},
		{"id": 2.0, "mac": "aa:02", "name": "Lamp", "type": 22.0, "stype": 13.0, "version": 12.0},
		{"id": 3.0, "mac": "aa:03", "name": "Dimmer", "type": 23.0, "stype": 11.0},
		{"id": 4.0, "name": "No type", "stype": 1.0},
		{"id": 5.0, "name": "Bad type", "type": 999.0, "stype": 1.0},
		{"id": 6.0, "name": "No stype", "type": 22.0},
		{"id": 7.0, "name": "Bad stype", "type": 22.0, "stype": 999.0},
		{"id": 8.0, "type": 22.0, "stype": 13.0},
		{"name": "No id", "type": 22.0, "stype": 13.0},
		{"deviceId": "9", "name": "Legacy id", "type": 1.0, "stype": 7.0},
		{"id": 256.0, "name": "Id too large", "type": 22.0, "stype": 13.0},
		{"id": -1.0, "name": "Negative id", "type": 22.0, "stype": 13.0},
	}

	devices, gateway := ParseDevices(raw, spec.Default())

	if gateway == nil || gateway.ID != 1 || gateway.Firmware != "3.1" || gateway.BridgeName != "Gateway" {
		t.Errorf("gateway = %+v", gateway)
	}

	wantIDs := []int{2, 3, 9}
	if len(devices) != len(wantIDs) {
		t.Fatalf("got %d devices, want %d: %+v", len(devices), len(wantIDs), devices)
	}
	for i, id := range wantIDs {
		if devices[i].ID != id {
			t.Errorf("devices[%d].ID = %d, want %d", i, devices[i].ID, id)
		}
	}

	if devices[0].Firmware != "12" {
		t.Errorf("firmware = %q, want 12", devices[0].Firmware)
	}
	if devices[1].Firmware != UnknownFirmware {
		t.Errorf("missing version firmware = %q, want %q", devices[1].Firmware, UnknownFirmware)
	}
	if devices[0].Model != "Smart Switch G3 - SWL600BTAM" || devices[0].Manufacturer != "SAL" {
		t.Errorf("model/manufacturer not taken from spec: %+v", devices[0])
	}
}

func TestSetup(t *testing.T) {
	sess := &fakeSession{devices: []map[string]any{
		{"id": 2.0, "mac": "aa:02", "name": "Lamp", "type": 22.0, "stype": 13.0},
	}}

	entry, err := Setup(context.Background(), sess, spec.Default())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if len(entry.Devices) != 1 || entry.Devices[0].Name != "Lamp" {
		t.Errorf("Devices = %+v", entry.Devices)
	}
	if entry.Credentials.LiveGroupID != "lg1" {
		t.Errorf("Credentials = %+v", entry.Credentials)
	}
	if entry.Gateway != nil {
		t.Errorf("Gateway = %+v, want nil", entry.Gateway)
	}
}

func TestSetup_Errors(t *testing.T) {
	loginErr := &cloud.AuthenticationError{StatusCode: 404, Message: "Invalid username/password."}
	fetchErr := errors.New("boom")

	tests := []struct {
		name    string
		sess    *fakeSession
		wantErr error
	}{
		{"login", &fakeSession{loginErr: loginErr}, loginErr},
		{"fetch", &fakeSession{devicesErr: fetchErr}, fetchErr},
		{"all_invalid", &fakeSession{devices: []map[string]any{{"name": "x"}}}, ErrNoUsableDevices},
		{"only_gateway", &fakeSession{devices: []map[string]any{
			{"id": 1.0, "name": "Gateway", "type": 1.0, "stype": 2.0},
		}}, ErrNoUsableDevices},
		{"empty", &fakeSession{}, ErrNoUsableDevices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := Setup(context.Background(), tt.sess, spec.Default())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Setup() error = %v, want %v", err, tt.wantErr)
			}
			if entry != nil {
				t.Errorf("Setup() returned entry alongside error")
			}
			if tt.sess.resolved != 0 {
				t.Errorf("credentials resolved despite failure")
			}
		})
	}
}
