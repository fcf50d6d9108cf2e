package tasmota

import (
	"context"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/notify"
)

// handleDiscovery applies one announcement. Upstream failures are logged
// and never stop the registry from following what the device announced.
func (b *Bridge) handleDiscovery(ctx context.Context, msg *DiscoveryMessage) {
	candidate := Synthesize(msg)

	previous, found := b.registry.Get(msg.MAC)
	if !found {
		b.register(ctx, candidate)
		return
	}
	b.reconcile(ctx, previous, candidate)
}

// register adds a device seen for the first time.
func (b *Bridge) register(ctx context.Context, candidate device.Setting) {
	mac := candidate.Ident().MAC

	b.topoMu.Lock()
	if _, err := b.registry.Upsert(candidate); err != nil {
		b.topoMu.Unlock()
		b.logError("failed to register device", err, "mac", mac)
		return
	}
	b.subs.SubscribeAll(candidate)
	b.topoMu.Unlock()

	synced := false
	if sw, ok := candidate.(*device.Switch); ok && b.autoSyncEnabled(ctx) {
		if err := b.mirror.Create(ctx, sw); err != nil {
			b.logError("auto-sync failed", err, "mac", mac)
		} else {
			synced = true
		}
	}

	b.logInfo("device discovered",
		"mac", mac,
		"name", candidate.Ident().Name,
		"category", candidate.Category(),
		"synced", synced)

	b.notify(notify.EventNewDevice, notify.DeviceReport{
		Name:     candidate.Ident().Name,
		Category: string(candidate.Category()),
		ID:       mac,
		Online:   candidate.Ident().Online,
		Synced:   synced,
	})

	b.poll(candidate)
}

// reconcile replaces a known device with its new announcement.
func (b *Bridge) reconcile(ctx context.Context, previous, candidate device.Setting) {
	mac := candidate.Ident().MAC

	if b.mirror != nil {
		serial, mirrored, err := b.mirror.Lookup(ctx, mac)
		switch {
		case err != nil:
			b.logError("upstream lookup failed", err, "mac", mac)
		case !mirrored:
		case previous.Category() == candidate.Category():
		case candidate.Category() == device.CategoryUnknown:
			if err := b.mirror.Delete(ctx, serial); err != nil {
				b.logError("failed to remove unsupported device upstream", err, "mac", mac, "serial", serial)
			} else {
				b.logInfo("device no longer supported, removed upstream", "mac", mac, "serial", serial)
			}
		default:
			// Only one supported category exists; there is nothing to
			// translate between two of them.
			b.logDebug("category change needs no upstream action",
				"mac", mac,
				"from", previous.Category(),
				"to", candidate.Category())
		}
	}

	// Availability already observed for this device still holds; the new
	// announcement carries no availability of its own.
	candidate.Ident().Online = previous.Ident().Online

	b.topoMu.Lock()
	b.subs.Resubscribe(previous, candidate)
	if _, err := b.registry.Upsert(candidate); err != nil {
		b.logError("failed to replace device", err, "mac", mac)
	}
	b.topoMu.Unlock()

	b.logDebug("device re-announced", "mac", mac, "category", candidate.Category())
	b.poll(candidate)
}

// poll asks a switch for a fresh state report.
func (b *Bridge) poll(s device.Setting) {
	sw, ok := s.(*device.Switch)
	if !ok {
		return
	}
	if err := b.publish(sw.Topics.Poll, nil); err != nil {
		b.logDebug("state poll not sent", "mac", sw.MAC, "error", err)
	}
}

func (b *Bridge) autoSyncEnabled(ctx context.Context) bool {
	if b.mirror == nil {
		return false
	}
	enabled, err := b.settings.AutoSync(ctx)
	if err != nil {
		b.logError("failed to read auto-sync setting", err)
		return false
	}
	return enabled
}
