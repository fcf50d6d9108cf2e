package notify

import "encoding/json"

// Event names emitted by the bridge.
const (
	EventMQTTConnected    = "mqtt_connected_report"
	EventMQTTDisconnected = "mqtt_disconnect_report"
	EventNewDevice        = "new_device_report"
)

// Event is one notification.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Marshal renders the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DeviceReport is the data of EventNewDevice.
type DeviceReport struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	ID       string `json:"id"`
	Online   bool   `json:"online"`
	Synced   bool   `json:"synced"`
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// Func adapts a function to the Notifier interface.
type Func func(e Event)

// Notify calls f(e).
func (f Func) Notify(e Event) { f(e) }
