// Package command encodes Pixie device commands into the fixed-width payload
// string relayed by the cloud to the BLE gateway.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dokzlo13/pixied/internal/pixie/spec"
)

// PayloadLength is the exact length of every encoded payload.
const PayloadLength = 40

// MaxDeviceID is the largest id that fits the two-digit destination field.
const MaxDeviceID = 0xff

var (
	// ErrPayloadOverflow is returned when the rendered payload exceeds PayloadLength.
	ErrPayloadOverflow = errors.New("payload exceeds 40 characters")
	// ErrInvalidDestination is returned for a destination that cannot be rendered
	// into the payload without shifting the following fields.
	ErrInvalidDestination = errors.New("invalid destination")
)

// payloadTemplate is substituted, stripped of '-' and right-padded with '0'.
const payloadTemplate = "00-00000304-{{DEST}}-{{CMD_TYPE}}-{{CMD_ID}}-{{STATE}}"

// Destination addresses the target device inside the payload.
type Destination interface {
	Hex() string
	Validate() error
}

// DeviceID addresses a device by its numeric mesh id. This is the encoding
// used on the live protocol.
type DeviceID int

// Hex returns the id as two lowercase hex digits.
func (d DeviceID) Hex() string {
	return DeviceIDToHex(int(d))
}

// Validate rejects ids outside 0..MaxDeviceID.
func (d DeviceID) Validate() error {
	if d < 0 || d > MaxDeviceID {
		return fmt.Errorf("%w: device id %d out of range 0..%d", ErrInvalidDestination, int(d), MaxDeviceID)
	}
	return nil
}

// MAC addresses a device by its MAC address (colons stripped).
// Payloads built this way are only accepted by the MAC-addressed server variant.
type MAC string

// Hex returns the MAC without separators.
func (m MAC) Hex() string {
	return strings.ReplaceAll(string(m), ":", "")
}

// Validate requires a non-empty, hex-only address once separators are removed.
func (m MAC) Validate() error {
	h := m.Hex()
	if h == "" {
		return fmt.Errorf("%w: empty MAC", ErrInvalidDestination)
	}
	if strings.Trim(h, "0123456789abcdefABCDEF") != "" {
		return fmt.Errorf("%w: MAC %q is not hex", ErrInvalidDestination, string(m))
	}
	return nil
}

// DeviceIDToHex formats a device id as two zero-padded lowercase hex digits.
// Ids outside 0..MaxDeviceID do not fit; DeviceID.Validate rejects them.
func DeviceIDToHex(id int) string {
	return fmt.Sprintf("%02x", id)
}

// Encode builds the payload for a command. State is the already hex-encoded
// parameter, or empty when the command takes none.
//
// Every failure (unknown device class, unmapped command, indeterminate class,
// unrenderable destination) happens here, before anything touches the network.
func Encode(reg *spec.Registry, typeID, stypeID int, dest Destination, command, state string) (string, error) {
	if _, err := reg.Spec(typeID, stypeID); err != nil {
		return "", err
	}

	class, err := reg.CommandClass(typeID, stypeID, command)
	if err != nil {
		return "", err
	}

	opcode, err := reg.CommandOpcode(typeID, stypeID, command)
	if err != nil {
		return "", err
	}

	if err := dest.Validate(); err != nil {
		return "", err
	}

	data := Build(dest.Hex(), class.Code(), opcode, state)
	if len(data) > PayloadLength {
		return "", fmt.Errorf("%w: %q", ErrPayloadOverflow, data)
	}
	return data, nil
}

// HexByte encodes a single state byte, clamped to 0..255.
func HexByte(v int) string {
	if v < 0 {
		v = 0
	}
	if v > 0xff {
		v = 0xff
	}
	return fmt.Sprintf("%02x", v)
}

// HexRGB encodes a color as rrggbb.
func HexRGB(r, g, b int) string {
	return HexByte(r) + HexByte(g) + HexByte(b)
}

// Build renders the payload template from its four parts.
func Build(dest, classCode, opcode, state string) string {
	r := strings.NewReplacer(
		"{{DEST}}", dest,
		"{{CMD_TYPE}}", classCode,
		"{{CMD_ID}}", opcode,
		"{{STATE}}", state,
	)
	data := strings.ReplaceAll(r.Replace(payloadTemplate), "-", "")
	if len(data) < PayloadLength {
		data += strings.Repeat("0", PayloadLength-len(data))
	}
	return data
}
