package tasmota

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// handleMessage is the single entry point for broker messages. It runs on
// the client's delivery goroutine, so it only classifies the message and
// queues the work under the device's mac.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	if ClassifyTopic(topic) == TopicDiscovery {
		if len(bytes.TrimSpace(payload)) == 0 {
			// A cleared retained announcement.
			b.logDebug("empty discovery message ignored", "topic", topic)
			return
		}
		msg, err := DecodeDiscovery(payload)
		if err != nil {
			b.logWarn("discarding discovery message", "topic", topic, "error", err)
			return
		}
		b.submit(msg.MAC, func(ctx context.Context) {
			b.handleDiscovery(ctx, msg)
		})
		return
	}

	for _, mac := range b.registry.MatchTopic(topic) {
		mac := mac
		b.submit(mac, func(ctx context.Context) {
			b.route(ctx, mac, topic, payload)
		})
	}
}

func (b *Bridge) submit(key string, job Job) {
	if err := b.queue.Submit(key, job); err != nil {
		b.logDebug("message dropped", "mac", key, "error", err)
	}
}

// route applies a device message according to the device's variant.
func (b *Bridge) route(ctx context.Context, mac, topic string, payload []byte) {
	setting, ok := b.registry.Get(mac)
	if !ok {
		return
	}

	switch s := setting.(type) {
	case *device.Switch:
		b.routeSwitch(ctx, s, topic, payload)
	case *device.Unsupported:
		if strings.EqualFold(topic, s.Availability.Topic) {
			b.applyAvailability(ctx, s, payload, false)
		}
	}
}

func (b *Bridge) routeSwitch(ctx context.Context, sw *device.Switch, topic string, payload []byte) {
	switch {
	case strings.EqualFold(topic, sw.Availability.Topic):
		b.applyAvailability(ctx, sw, payload, true)

	case isPowerTopic(sw, topic):
		// Plain-text replies on the per-command topics duplicate the JSON
		// on the result topic unless the device sends JSON here instead.
		if !sw.JSONReplies {
			return
		}
		if fields, ok := decodeObject(payload); ok {
			b.applyPower(ctx, sw, fields)
		}

	case strings.EqualFold(topic, sw.Topics.State), strings.EqualFold(topic, sw.Topics.Result):
		if fields, ok := decodeObject(payload); ok {
			b.applyPower(ctx, sw, fields)
		}
	}
}

// channelUpdate is one recognised POWER value.
type channelUpdate struct {
	channel int
	on      bool
}

// powerUpdates extracts the POWER / POWER<n> values of fields that map to
// one of the device's on/off literals. Anything else is ignored.
func powerUpdates(sw *device.Switch, fields map[string]any) []channelUpdate {
	var updates []channelUpdate
	for key, raw := range fields {
		channel, ok := parsePowerKey(key)
		if !ok {
			continue
		}
		bare := strings.EqualFold(key, suffixPower)
		if sw.MultiChannel() && bare {
			continue
		}
		if channel > sw.Channels {
			continue
		}

		value, ok := raw.(string)
		if !ok {
			continue
		}
		switch value {
		case sw.OnLiteral:
			updates = append(updates, channelUpdate{channel: channel, on: true})
		case sw.OffLiteral:
			updates = append(updates, channelUpdate{channel: channel, on: false})
		}
	}
	return updates
}

// applyPower records POWER values and mirrors the result.
func (b *Bridge) applyPower(ctx context.Context, sw *device.Switch, fields map[string]any) {
	updates := powerUpdates(sw, fields)
	if len(updates) == 0 {
		return
	}

	updated, changed, err := b.registry.Update(sw.MAC, func(s device.Setting) bool {
		cur, ok := s.(*device.Switch)
		if !ok {
			return false
		}
		changed := false
		for _, u := range updates {
			if cur.SetChannel(u.channel, u.on) {
				changed = true
			}
		}
		return changed
	})
	if err != nil || !changed {
		return
	}

	next, ok := updated.(*device.Switch)
	if !ok {
		return
	}

	b.logDebug("switch state changed", "mac", next.MAC, "power", next.State.Power.PowerState)

	if b.recorder != nil {
		b.recorder.RecordSwitchState(next)
	}
	if b.mirror != nil {
		if err := b.mirror.ReportState(ctx, next); err != nil {
			b.logError("state report failed", err, "mac", next.MAC)
		}
	}
}

// applyAvailability compares payload against the device's LWT literals.
func (b *Bridge) applyAvailability(ctx context.Context, s device.Setting, payload []byte, mirrorable bool) {
	id := s.Ident()
	raw := strings.TrimSpace(string(payload))

	var online bool
	switch raw {
	case id.Availability.Online:
		online = true
	case id.Availability.Offline:
		online = false
	default:
		b.logDebug("unrecognised availability payload", "mac", id.MAC, "payload", raw)
		return
	}

	_, changed, err := b.registry.Update(id.MAC, func(cur device.Setting) bool {
		if cur.Ident().Online == online {
			return false
		}
		cur.Ident().Online = online
		return true
	})
	if err != nil || !changed {
		return
	}

	b.logInfo("device availability changed", "mac", id.MAC, "online", online)

	if b.recorder != nil {
		b.recorder.RecordAvailability(id.MAC, online)
	}
	if mirrorable && b.mirror != nil {
		if err := b.mirror.ReportOnline(ctx, id.MAC, online); err != nil {
			b.logError("online report failed", err, "mac", id.MAC)
		}
	}
}

func isPowerTopic(sw *device.Switch, topic string) bool {
	for _, t := range sw.Topics.Power {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// decodeObject parses payload as a JSON object. Brokers carry both JSON and
// plain strings on Tasmota topics; anything but an object reports false.
func decodeObject(payload []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	return fields, true
}
