package tasmota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Relay types reported in the rl array of an announcement.
const (
	RelayNone   RelayType = 0
	RelaySwitch RelayType = 1
)

// SetOption numbers carried in the so map.
const soJSONReplies = "4"

// Fallbacks for announcements that omit optional fields.
var defaultPrefixes = [3]string{"cmnd", "stat", "tele"}

const (
	defaultFullTopic      = "%prefix%/%topic%/"
	defaultOnLiteral      = "ON"
	defaultOffLiteral     = "OFF"
	defaultOnlineLiteral  = "Online"
	defaultOfflineLiteral = "Offline"
)

// RelayType is one entry of the announcement's relay array. Firmware
// versions differ in whether they send it as a number or a string.
type RelayType int

// UnmarshalJSON accepts 1 as well as "1".
func (r *RelayType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = RelayNone
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*r = RelayNone
			return nil
		}
		*r = RelayType(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = RelayType(n)
	return nil
}

// DiscoveryMessage is the retained JSON a Tasmota device publishes on
// tasmota/discovery/<mac>/config.
type DiscoveryMessage struct {
	MAC       string         `json:"mac"`
	Name      string         `json:"dn"`
	Hostname  string         `json:"hn"`
	Relays    []RelayType    `json:"rl"`
	Friendly  []*string      `json:"fn"`
	Firmware  string         `json:"sw"`
	Model     string         `json:"md"`
	FullTopic string         `json:"ft"`
	Topic     string         `json:"t"`
	Prefixes  []string       `json:"tp"`
	Online    string         `json:"onln"`
	Offline   string         `json:"ofln"`
	States    []string       `json:"state"`
	Options   map[string]int `json:"so"`
}

// DecodeDiscovery parses an announcement payload.
//
// Returns ErrInvalidDiscovery for malformed JSON and ErrMissingMAC when the
// identity key is absent; no device model is built in either case.
func DecodeDiscovery(payload []byte) (*DiscoveryMessage, error) {
	var msg DiscoveryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDiscovery, err)
	}
	msg.MAC = strings.TrimSpace(msg.MAC)
	if msg.MAC == "" {
		return nil, ErrMissingMAC
	}
	return &msg, nil
}

// prefix returns tp[i], falling back to the Tasmota default.
func (m *DiscoveryMessage) prefix(i int) string {
	if i < len(m.Prefixes) && m.Prefixes[i] != "" {
		return m.Prefixes[i]
	}
	return defaultPrefixes[i]
}

// expand resolves the full topic for one of the three prefixes.
func (m *DiscoveryMessage) expand(i int) string {
	ft := m.FullTopic
	if ft == "" {
		ft = defaultFullTopic
	}
	return ExpandTemplate(ft, m.Hostname, MACSuffix(m.MAC), m.prefix(i), m.Topic)
}

func (m *DiscoveryMessage) stateLiteral(i int, fallback string) string {
	if i < len(m.States) && m.States[i] != "" {
		return m.States[i]
	}
	return fallback
}

func (m *DiscoveryMessage) friendlyName(i int) string {
	if i < len(m.Friendly) && m.Friendly[i] != nil {
		return strings.TrimSpace(*m.Friendly[i])
	}
	return ""
}

func (m *DiscoveryMessage) displayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Hostname
}

// Channels counts the leading switch relays, capped at device.MaxChannels.
func (m *DiscoveryMessage) Channels() int {
	n := 0
	for _, r := range m.Relays {
		if r != RelaySwitch || n == device.MaxChannels {
			break
		}
		n++
	}
	return n
}

func (m *DiscoveryMessage) identity() device.Identity {
	online := m.Online
	if online == "" {
		online = defaultOnlineLiteral
	}
	offline := m.Offline
	if offline == "" {
		offline = defaultOfflineLiteral
	}
	return device.Identity{
		MAC:             m.MAC,
		Name:            m.displayName(),
		Model:           m.Model,
		FirmwareVersion: m.Firmware,
		Online:          false,
		Availability: device.Availability{
			Topic:   AvailabilityTopic(m.expand(2)),
			Online:  online,
			Offline: offline,
		},
	}
}

// Synthesize builds the device model for an announcement.
//
// The first relay decides the category: a switch relay yields a
// *device.Switch, anything else a *device.Unsupported. The result depends
// only on msg, so the same announcement always produces an equal value.
func Synthesize(msg *DiscoveryMessage) device.Setting {
	if len(msg.Relays) == 0 || msg.Relays[0] != RelaySwitch {
		return &device.Unsupported{Identity: msg.identity()}
	}

	channels := msg.Channels()
	cmnd, stat, tele := msg.expand(0), msg.expand(1), msg.expand(2)

	sw := &device.Switch{
		Identity: msg.identity(),
		Channels: channels,
		Topics: device.SwitchTopics{
			Command: cmnd,
			State:   TelemetryStateTopic(tele),
			Poll:    PollTopic(cmnd),
			Result:  ResultTopic(stat),
		},
		OffLiteral:  msg.stateLiteral(0, defaultOffLiteral),
		OnLiteral:   msg.stateLiteral(1, defaultOnLiteral),
		JSONReplies: msg.Options[soJSONReplies] == 1,
		Capabilities: []device.Capability{{
			Capability: device.CapabilityPower,
			Permission: device.PermissionReadWrite,
		}},
		State: device.State{Power: device.PowerState{PowerState: device.PowerOff}},
		Tags:  device.Tags{MAC: msg.MAC},
	}

	for ch := 1; ch <= channels; ch++ {
		sw.Topics.Power = append(sw.Topics.Power, PowerTopic(stat, ch, channels))
	}

	if channels > 1 {
		sw.State.Toggle = make(map[int]device.ToggleState, channels)
		sw.Tags.Toggle = make(map[int]string, channels)
		for ch := 1; ch <= channels; ch++ {
			name := msg.friendlyName(ch - 1)
			if name == "" {
				name = fmt.Sprintf("%s switch %d", msg.displayName(), ch)
			}
			sw.Capabilities = append(sw.Capabilities, device.Capability{
				Capability: device.CapabilityToggle,
				Permission: device.PermissionReadWrite,
				Name:       name,
			})
			sw.State.Toggle[ch] = device.ToggleState{ToggleState: device.PowerOff}
			sw.Tags.Toggle[ch] = name
		}
	}

	return sw
}
