package tasmota

import (
	"context"
	"fmt"
	"sort"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Command is a requested switch state in gateway terms.
type Command struct {
	// Power is "on" or "off" for the whole device. Empty leaves it alone.
	Power string

	// Toggle maps 1-based channels to "on" or "off".
	Toggle map[int]string
}

// CommandFromState converts a gateway state document into a Command.
func CommandFromState(state device.State) Command {
	cmd := Command{Power: state.Power.PowerState}
	if len(state.Toggle) > 0 {
		cmd.Toggle = make(map[int]string, len(state.Toggle))
		for ch, ts := range state.Toggle {
			cmd.Toggle[ch] = ts.ToggleState
		}
	}
	return cmd
}

// Control publishes the POWER commands for cmd to the switch with mac.
//
// Single-channel switches take the power value. Multi-channel switches take
// each toggle entry; a power value without toggles switches every channel.
// The registry is not touched: the device's reply updates it.
func (b *Bridge) Control(ctx context.Context, mac string, cmd Command) error {
	setting, ok := b.registry.Get(mac)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, mac)
	}
	sw, ok := setting.(*device.Switch)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, mac)
	}

	writes, err := commandWrites(sw, cmd)
	if err != nil {
		return err
	}

	for _, w := range writes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.publish(w.topic, []byte(w.value)); err != nil {
			return fmt.Errorf("publishing %s: %w", w.topic, err)
		}
		b.logDebug("command sent", "mac", mac, "topic", w.topic, "value", w.value)
	}
	return nil
}

type commandWrite struct {
	topic string
	value string
}

func commandWrites(sw *device.Switch, cmd Command) ([]commandWrite, error) {
	if !sw.MultiChannel() {
		value, err := commandValue(cmd.Power)
		if err != nil {
			return nil, err
		}
		return []commandWrite{{topic: PowerCommandTopic(sw.Topics.Command, 1, 1), value: value}}, nil
	}

	if len(cmd.Toggle) == 0 {
		value, err := commandValue(cmd.Power)
		if err != nil {
			return nil, err
		}
		writes := make([]commandWrite, 0, sw.Channels)
		for ch := 1; ch <= sw.Channels; ch++ {
			writes = append(writes, commandWrite{topic: PowerCommandTopic(sw.Topics.Command, ch, sw.Channels), value: value})
		}
		return writes, nil
	}

	channels := make([]int, 0, len(cmd.Toggle))
	for ch := range cmd.Toggle {
		if ch < 1 || ch > sw.Channels {
			return nil, fmt.Errorf("%w: channel %d out of range 1-%d", ErrInvalidCommand, ch, sw.Channels)
		}
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	writes := make([]commandWrite, 0, len(channels))
	for _, ch := range channels {
		value, err := commandValue(cmd.Toggle[ch])
		if err != nil {
			return nil, err
		}
		writes = append(writes, commandWrite{topic: PowerCommandTopic(sw.Topics.Command, ch, sw.Channels), value: value})
	}
	return writes, nil
}

func commandValue(v string) (string, error) {
	switch v {
	case device.PowerOn, device.PowerOff:
		return v, nil
	default:
		return "", fmt.Errorf("%w: power value %q", ErrInvalidCommand, v)
	}
}
