package device

import (
	"encoding/json"
	"strconv"
)

// Category classifies a device for the upstream gateway.
type Category string

const (
	// CategorySwitch is a relay device with one to MaxChannels channels.
	CategorySwitch Category = "switch"

	// CategoryUnknown is any announced device the bridge cannot model.
	// Only its availability is tracked, and it is never mirrored upstream.
	CategoryUnknown Category = "unknown"
)

// MaxChannels caps the number of relay channels modelled per switch.
const MaxChannels = 4

// Canonical power values used in State.
const (
	PowerOn  = "on"
	PowerOff = "off"
)

// Capability names and permission understood by the gateway.
const (
	CapabilityPower  = "power"
	CapabilityToggle = "toggle"

	PermissionReadWrite = "readWrite"
)

// TagKey is the upstream tag under which the bridge records the device mac.
const TagKey = "_tasmota"

// Setting is the normalized model of one announced device.
//
// It is a closed union: the only implementations are *Switch and
// *Unsupported. Consumers dispatch with a type switch over those two.
type Setting interface {
	// Ident returns the identity shared by every variant. The pointer
	// aliases the receiver, so writes through it change this value.
	Ident() *Identity

	// Category reports the variant's device category.
	Category() Category

	// Clone returns a deep copy.
	Clone() Setting

	isSetting()
}

// Identity holds the fields common to every device.
type Identity struct {
	MAC             string       `json:"mac"`
	Name            string       `json:"name"`
	Model           string       `json:"model"`
	FirmwareVersion string       `json:"firmware_version"`
	Online          bool         `json:"online"`
	Availability    Availability `json:"availability"`
}

// Ident returns i itself.
func (i *Identity) Ident() *Identity { return i }

// Availability is the LWT topic and its literal payloads.
type Availability struct {
	Topic   string `json:"topic"`
	Online  string `json:"online"`
	Offline string `json:"offline"`
}

// SwitchTopics are the derived MQTT topics of a switch.
type SwitchTopics struct {
	// Command is the command prefix, e.g. "cmnd/plug/".
	Command string `json:"command"`
	// State is the periodic telemetry topic, e.g. "tele/plug/STATE".
	State string `json:"state"`
	// Poll requests an immediate state report, e.g. "cmnd/plug/STATE".
	Poll string `json:"poll"`
	// Result carries command replies, e.g. "stat/plug/RESULT".
	Result string `json:"result"`
	// Power holds one per-command reply topic per channel, index 0 = channel 1.
	Power []string `json:"power"`
}

// Capability describes one controllable aspect of a device.
type Capability struct {
	Capability string `json:"capability"`
	Permission string `json:"permission"`
	Name       string `json:"name,omitempty"`
}

// PowerState is the state of the power capability.
type PowerState struct {
	PowerState string `json:"powerState"`
}

// ToggleState is the state of one toggle channel.
type ToggleState struct {
	ToggleState string `json:"toggleState"`
}

// State is the gateway-facing state document of a switch.
type State struct {
	Power  PowerState          `json:"power"`
	Toggle map[int]ToggleState `json:"toggle,omitempty"`
}

// Tags cross-reference a mirrored device back to this bridge.
type Tags struct {
	MAC string
	// Toggle maps channel number to display name on multi-channel switches.
	Toggle map[int]string
}

// MarshalJSON renders the gateway tag document:
//
//	{"_tasmota":{"deviceId":"<mac>"},"toggle":{"1":"Left","2":"Right"}}
func (t Tags) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		TagKey: map[string]string{"deviceId": t.MAC},
	}
	if len(t.Toggle) > 0 {
		names := make(map[string]string, len(t.Toggle))
		for ch, name := range t.Toggle {
			names[strconv.Itoa(ch)] = name
		}
		doc[CapabilityToggle] = names
	}
	return json.Marshal(doc)
}

// Switch is a relay device.
type Switch struct {
	Identity

	Channels int          `json:"channels"`
	Topics   SwitchTopics `json:"topics"`

	// OnLiteral and OffLiteral are the device's payload spellings of on/off.
	OnLiteral  string `json:"on_literal"`
	OffLiteral string `json:"off_literal"`

	// JSONReplies is set when the device answers commands with JSON on the
	// per-command power topics instead of the result topic.
	JSONReplies bool `json:"json_replies"`

	Capabilities []Capability `json:"capabilities"`
	State        State        `json:"state"`
	Tags         Tags         `json:"tags"`
}

// Category implements Setting.
func (s *Switch) Category() Category { return CategorySwitch }

func (s *Switch) isSetting() {}

// MultiChannel reports whether the switch uses toggle state.
func (s *Switch) MultiChannel() bool { return s.Channels > 1 }

// SetChannel records the power of one channel (1-based) and reports whether
// anything changed. On multi-channel switches the power capability follows
// "any channel on".
func (s *Switch) SetChannel(channel int, on bool) bool {
	value := PowerOff
	if on {
		value = PowerOn
	}

	if !s.MultiChannel() {
		if channel != 1 || s.State.Power.PowerState == value {
			return false
		}
		s.State.Power.PowerState = value
		return true
	}

	if channel < 1 || channel > s.Channels {
		return false
	}
	if s.State.Toggle == nil {
		s.State.Toggle = make(map[int]ToggleState, s.Channels)
	}
	if cur, ok := s.State.Toggle[channel]; ok && cur.ToggleState == value {
		return false
	}
	s.State.Toggle[channel] = ToggleState{ToggleState: value}

	aggregate := PowerOff
	for _, ts := range s.State.Toggle {
		if ts.ToggleState == PowerOn {
			aggregate = PowerOn
			break
		}
	}
	s.State.Power.PowerState = aggregate
	return true
}

// ChannelState returns "on" or "off" for a 1-based channel.
func (s *Switch) ChannelState(channel int) string {
	if !s.MultiChannel() {
		return s.State.Power.PowerState
	}
	return s.State.Toggle[channel].ToggleState
}

// Clone implements Setting.
func (s *Switch) Clone() Setting {
	c := *s
	c.Topics.Power = append([]string(nil), s.Topics.Power...)
	c.Capabilities = append([]Capability(nil), s.Capabilities...)
	if s.State.Toggle != nil {
		c.State.Toggle = make(map[int]ToggleState, len(s.State.Toggle))
		for k, v := range s.State.Toggle {
			c.State.Toggle[k] = v
		}
	}
	if s.Tags.Toggle != nil {
		c.Tags.Toggle = make(map[int]string, len(s.Tags.Toggle))
		for k, v := range s.Tags.Toggle {
			c.Tags.Toggle[k] = v
		}
	}
	return &c
}

// Unsupported is an announced device outside the switch model.
type Unsupported struct {
	Identity
}

// Category implements Setting.
func (u *Unsupported) Category() Category { return CategoryUnknown }

func (u *Unsupported) isSetting() {}

// Clone implements Setting.
func (u *Unsupported) Clone() Setting {
	c := *u
	return &c
}

// Topics returns every topic the bridge must subscribe to for s.
// Switches need state, poll, result, availability and each power topic;
// unsupported devices need availability only.
func Topics(s Setting) []string {
	switch v := s.(type) {
	case *Switch:
		topics := []string{v.Topics.State, v.Topics.Poll, v.Topics.Result, v.Availability.Topic}
		return append(topics, v.Topics.Power...)
	case *Unsupported:
		return []string{v.Availability.Topic}
	default:
		return nil
	}
}
