package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Availability payloads published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the bridge's topic names under a common prefix.
//
//	<prefix>/status            online|offline (retained, also the will)
//	<prefix>/<device_id>/state device state JSON (retained)
//	<prefix>/<device_id>/set   command JSON
type Topics struct {
	Prefix string
}

func (t Topics) Status() string {
	return t.Prefix + "/status"
}

func (t Topics) State(deviceID int) string {
	return fmt.Sprintf("%s/%d/state", t.Prefix, deviceID)
}

func (t Topics) Set(deviceID int) string {
	return fmt.Sprintf("%s/%d/set", t.Prefix, deviceID)
}

// AllSet matches the set topic of every device.
func (t Topics) AllSet() string {
	return t.Prefix + "/+/set"
}

// DeviceFromSet extracts the device id from a set topic.
func (t Topics) DeviceFromSet(topic string) (int, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return 0, fmt.Errorf("topic %q outside prefix %q", topic, t.Prefix)
	}
	idPart, ok := strings.CutSuffix(rest, "/set")
	if !ok || strings.Contains(idPart, "/") {
		return 0, fmt.Errorf("topic %q is not a set topic", topic)
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, fmt.Errorf("topic %q: invalid device id: %w", topic, err)
	}
	return id, nil
}
