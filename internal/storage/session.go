package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dokzlo13/pixied/internal/pixie/cloud"
	"github.com/dokzlo13/pixied/internal/pixie/device"
)

const (
	kindCredentials = "credentials"
	kindDevice      = "device"
	kindGateway     = "gateway"
	gatewayID       = "home"
)

// SessionStore persists cloud credentials and the discovered device list.
type SessionStore struct {
	store *Store
}

// NewSessionStore wraps a state store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// LoadCredentials returns stored credentials for username.
func (s *SessionStore) LoadCredentials(username string) (cloud.Credentials, bool, error) {
	var creds cloud.Credentials
	ok, err := s.store.GetJSON(kindCredentials, username, &creds)
	return creds, ok, err
}

// SaveCredentials stores credentials keyed by username.
func (s *SessionStore) SaveCredentials(creds cloud.Credentials) error {
	if creds.Username == "" {
		return fmt.Errorf("credentials without username")
	}
	return s.store.SetJSON(kindCredentials, creds.Username, creds)
}

// SaveDevices replaces the device snapshot.
func (s *SessionStore) SaveDevices(devices []device.Device, gateway *device.Gateway) error {
	if err := s.store.Clear(kindDevice); err != nil {
		return err
	}
	for _, d := range devices {
		if err := s.store.SetJSON(kindDevice, strconv.Itoa(d.ID), d); err != nil {
			return err
		}
	}
	if gateway == nil {
		return s.store.Delete(kindGateway, gatewayID)
	}
	return s.store.SetJSON(kindGateway, gatewayID, gateway)
}

// LoadDevices returns the device snapshot ordered by id.
func (s *SessionStore) LoadDevices() ([]device.Device, *device.Gateway, error) {
	payloads, _, err := s.store.GetAll(kindDevice)
	if err != nil {
		return nil, nil, err
	}

	devices := make([]device.Device, 0, len(payloads))
	for id, payload := range payloads {
		var d device.Device
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, nil, fmt.Errorf("decode device %s: %w", id, err)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	var gw device.Gateway
	ok, err := s.store.GetJSON(kindGateway, gatewayID, &gw)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return devices, nil, nil
	}
	return devices, &gw, nil
}

// Reset forgets the stored credentials of username and the device snapshot,
// forcing a fresh login and discovery on next start.
func (s *SessionStore) Reset(username string) error {
	if err := s.store.Delete(kindCredentials, username); err != nil {
		return err
	}
	if err := s.store.Clear(kindDevice); err != nil {
		return err
	}
	return s.store.Delete(kindGateway, gatewayID)
}
