package spec

const manufacturerSAL = "SAL"

// Gateway device class.
const (
	GatewayType  = 1
	GatewaySType = 2
)

func switchIDs() map[string]string {
	return map[string]string{CmdOn: "01", CmdOff: "00"}
}

// Dimmers carry a placeholder brightness opcode; the level travels as state.
func dimmerIDs() map[string]string {
	return map[string]string{CmdOn: "01", CmdOff: "00", CmdSetBrightness: "00"}
}

func dimmer(model string) DeviceSpec {
	return DeviceSpec{
		Model:        model,
		Manufacturer: manufacturerSAL,
		LightSwitch:  true,
		LightDimmer:  true,
		CommandIDs:   dimmerIDs(),
	}
}

// Builtin returns the table of known Pixie device classes.
func Builtin() map[Key]DeviceSpec {
	return map[Key]DeviceSpec{
		{Type: 1, SType: 2}: {
			Model:        "Gateway G3 - SGW3BTAM",
			Manufacturer: manufacturerSAL,
			CommandIDs:   map[string]string{},
		},
		{Type: 1, SType: 7}: {
			Model:        "Smart plug - ESS105/BT",
			Manufacturer: manufacturerSAL,
			GPO:          1,
			USB:          1,
			CommandIDs: map[string]string{
				CmdOn:     "03",
				CmdOff:    "02",
				CmdUSBOn:  "0c",
				CmdUSBOff: "88",
			},
		},
		{Type: 2, SType: 8}: {
			Model:        "Smart Socket Outlet - SP023/BTAM",
			Manufacturer: manufacturerSAL,
			GPO:          2,
			CommandIDs: map[string]string{
				CmdGPOOn:   "11",
				CmdGPOOff:  "10",
				CmdGPOOn2:  "21",
				CmdGPOOff2: "20",
			},
		},
		{Type: 10, SType: 2}: {
			Model:        "Dual Relay Control - PC206DR/R/BTAM",
			Manufacturer: manufacturerSAL,
			Relay:        2,
			CommandIDs: map[string]string{
				CmdRelayOn:   "11",
				CmdRelayOff:  "10",
				CmdRelayOn2:  "21",
				CmdRelayOff2: "20",
			},
		},
		{Type: 11, SType: 2}: {
			Model:        "Blind & Signal Control - PC206BS/R/BTAM",
			Manufacturer: manufacturerSAL,
			Cover:        true,
			CommandIDs: map[string]string{
				CmdOpen:  "01",
				CmdClose: "00",
				CmdStop:  "02",
			},
		},
		{Type: 20, SType: 13}: dimmer("rippleSHIELD DIMMER - SDD400SFI"),
		{Type: 22, SType: 12}: {
			Model:        "Smart Switch G2 - SWL350BT",
			Manufacturer: manufacturerSAL,
			LightSwitch:  true,
			CommandIDs:   switchIDs(),
		},
		{Type: 22, SType: 13}: {
			Model:        "Smart Switch G3 - SWL600BTAM",
			Manufacturer: manufacturerSAL,
			LightSwitch:  true,
			CommandIDs:   switchIDs(),
		},
		{Type: 23, SType: 11}: dimmer("Smart Dimmer G2 - SDD350BT"),
		{Type: 23, SType: 12}: dimmer("Smart Dimmer G2 - SDD350BT"),
		{Type: 23, SType: 13}: dimmer("Smart Dimmer G3 - SDD300BTAM"),
		{Type: 24, SType: 2}:  dimmer("Flexi Streamline - FLP24V2M"),
		{Type: 24, SType: 3}:  dimmer("LED Strip Controller - LT8915DIM/BT"),
		{Type: 27, SType: 2}: {
			Model:        "Flexi smart LED strip - FLP12V2M/RGBBT",
			Manufacturer: manufacturerSAL,
			LightSwitch:  true,
			LightDimmer:  true,
			RGBLight:     true,
			Effects:      []string{"flash", "strobe", "fade", "smooth"},
			CommandIDs: map[string]string{
				CmdOn:            "01",
				CmdOff:           "00",
				CmdSetColor:      "00",
				CmdSetBrightness: "00",
				CmdSetEffect:     "00",
			},
		},
	}
}

// Default returns a registry holding the built-in table.
func Default() *Registry {
	return NewRegistry(Builtin())
}
