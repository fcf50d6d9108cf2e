package gateway

import (
	"encoding/json"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Response codes used by the gateway's REST envelope.
const (
	CodeSuccess      = 0
	CodeUnauthorized = 401
	CodeNotFound     = 110000
)

// Event header names.
const (
	EventDiscoveryRequest   = "DiscoveryRequest"
	EventStatesChange       = "DeviceStatesChangeReport"
	EventOnlineChange       = "DeviceOnlineChangeReport"
	EventErrorResponse      = "ErrorResponse"
	eventVersion            = "1"
	descriptionUnauthorized = "headers.Authorization is invalid"
)

// Device is one entry of the gateway's device list.
type Device struct {
	SerialNumber      string                     `json:"serial_number"`
	ThirdSerialNumber string                     `json:"third_serial_number,omitempty"`
	Name              string                     `json:"name"`
	Manufacturer      string                     `json:"manufacturer,omitempty"`
	Model             string                     `json:"model,omitempty"`
	DisplayCategory   string                     `json:"display_category"`
	Online            bool                       `json:"online"`
	Tags              map[string]json.RawMessage `json:"tags,omitempty"`
}

// Descriptor is a device offered to the gateway in a DiscoveryRequest.
type Descriptor struct {
	Name              string              `json:"name"`
	ThirdSerialNumber string              `json:"third_serial_number"`
	Manufacturer      string              `json:"manufacturer"`
	Model             string              `json:"model"`
	FirmwareVersion   string              `json:"firmware_version"`
	DisplayCategory   string              `json:"display_category"`
	Capabilities      []device.Capability `json:"capabilities"`
	State             device.State        `json:"state"`
	Tags              device.Tags         `json:"tags"`
	ServiceAddress    string              `json:"service_address"`
	Online            bool                `json:"online"`
}

// Endpoint pairs the gateway's serial with ours.
type Endpoint struct {
	SerialNumber      string `json:"serial_number"`
	ThirdSerialNumber string `json:"third_serial_number"`
}

// EventHeader heads every event and directive.
type EventHeader struct {
	Name      string `json:"name"`
	MessageID string `json:"message_id"`
	Version   string `json:"version"`
}

// envelope is the REST response wrapper.
type envelope struct {
	Error   int             `json:"error"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type eventRequest struct {
	Event event `json:"event"`
}

type event struct {
	Header   EventHeader `json:"header"`
	Endpoint *Endpoint   `json:"endpoint,omitempty"`
	Payload  any         `json:"payload"`
}

// eventReply is the reply to a posted event.
type eventReply struct {
	Header  EventHeader `json:"header"`
	Payload struct {
		Type        string     `json:"type"`
		Description string     `json:"description"`
		Endpoints   []Endpoint `json:"endpoints"`
	} `json:"payload"`
}
