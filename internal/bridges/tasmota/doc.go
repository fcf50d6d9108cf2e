// Package tasmota implements the Tasmota discovery bridge.
//
// Tasmota devices announce themselves on tasmota/discovery/<mac>/config with
// a retained JSON document describing their relays, names and topic layout.
// This package turns those announcements into device settings, follows the
// devices' state and LWT topics, and mirrors the result into the upstream
// gateway.
//
// # Architecture
//
//	┌──────────────┐   MQTT   ┌─────────────────┐   REST   ┌─────────────┐
//	│   Tasmota    │◄────────►│  Tasmota Bridge │─────────►│   Gateway   │
//	│   devices    │          │   (this pkg)    │          │  (mirror)   │
//	└──────────────┘          └─────────────────┘          └─────────────┘
//
// # Key Responsibilities
//
//   - Classify topics and expand FullTopic templates
//   - Synthesize a Switch or Unsupported setting from each announcement
//   - Keep the broker subscriptions equal to the registered topic bundles
//   - Apply POWER and LWT messages to the registry, in arrival order per device
//   - Reconnect with a fresh client id and regenerate subscriptions
//
// # Topics
//
// For a device with FullTopic "%prefix%/%topic%/" and topic "plug":
//
//	cmnd/plug/          command prefix
//	cmnd/plug/STATE     poll
//	tele/plug/STATE     periodic state
//	tele/plug/LWT       availability
//	stat/plug/RESULT    command replies
//	stat/plug/POWER     per-command reply (POWER<n> on multi-relay devices)
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - Tasmota MQTT: https://tasmota.github.io/docs/MQTT/
//   - Tasmota commands: https://tasmota.github.io/docs/Commands/
package tasmota
