package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/gateway"
)

// Manufacturer is reported for every mirrored device.
const Manufacturer = "Tasmota"

// Gateway is the subset of the gateway client the engine needs.
type Gateway interface {
	ListDevices(ctx context.Context) ([]gateway.Device, error)
	CreateDevices(ctx context.Context, descriptors []gateway.Descriptor) ([]gateway.Endpoint, error)
	ReportStateChange(ctx context.Context, serial, thirdSerial string, state device.State) error
	ReportOnlineChange(ctx context.Context, serial, thirdSerial string, online bool) error
	DeleteDevice(ctx context.Context, serial string) error
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Engine mirrors registry switches into the gateway.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	gw             Gateway
	registry       *device.Registry
	serviceAddress string
	logger         Logger
}

// New creates an engine. serviceAddress is the base URL the gateway uses
// to send control directives back to this bridge.
func New(gw Gateway, registry *device.Registry, serviceAddress string, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		gw:             gw,
		registry:       registry,
		serviceAddress: strings.TrimRight(serviceAddress, "/"),
		logger:         logger,
	}
}

// Lookup finds the gateway serial of the device with mac.
func (e *Engine) Lookup(ctx context.Context, mac string) (string, bool, error) {
	index, err := e.Mirrored(ctx)
	if err != nil {
		return "", false, err
	}
	serial, ok := index[strings.ToUpper(mac)]
	return serial, ok, nil
}

// Mirrored returns the gateway serial of every mirrored Tasmota device,
// keyed by upper-case mac.
func (e *Engine) Mirrored(ctx context.Context) (map[string]string, error) {
	devices, err := e.gw.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string)
	for _, d := range devices {
		if mac := DeviceMAC(d); mac != "" {
			index[strings.ToUpper(mac)] = d.SerialNumber
		}
	}
	return index, nil
}

// Create offers sw to the gateway.
func (e *Engine) Create(ctx context.Context, sw *device.Switch) error {
	_, err := e.gw.CreateDevices(ctx, []gateway.Descriptor{e.Describe(sw)})
	if err != nil {
		return err
	}
	e.logger.Info("device synced to gateway", "mac", sw.MAC, "name", sw.Name)
	return nil
}

// ReportState sends sw's state if the gateway holds a copy of it.
func (e *Engine) ReportState(ctx context.Context, sw *device.Switch) error {
	serial, ok, err := e.Lookup(ctx, sw.MAC)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug("state not reported, device not synced", "mac", sw.MAC)
		return nil
	}
	return e.gw.ReportStateChange(ctx, serial, sw.MAC, sw.State)
}

// ReportOnline sends the availability of the device with mac if the gateway
// holds a copy of it.
func (e *Engine) ReportOnline(ctx context.Context, mac string, online bool) error {
	serial, ok, err := e.Lookup(ctx, mac)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug("availability not reported, device not synced", "mac", mac)
		return nil
	}
	return e.gw.ReportOnlineChange(ctx, serial, mac, online)
}

// ReportOnlineAll sends the same availability for every mirrored mac in
// macs. The gateway list is read once. Individual failures are logged and
// the first one is returned after all reports were attempted.
func (e *Engine) ReportOnlineAll(ctx context.Context, macs []string, online bool) error {
	if len(macs) == 0 {
		return nil
	}
	index, err := e.Mirrored(ctx)
	if err != nil {
		return err
	}

	var first error
	reported := 0
	for _, mac := range macs {
		serial, ok := index[strings.ToUpper(mac)]
		if !ok {
			continue
		}
		if err := e.gw.ReportOnlineChange(ctx, serial, mac, online); err != nil {
			e.logger.Warn("availability report failed", "mac", mac, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		reported++
	}
	e.logger.Debug("bulk availability reported", "online", online, "devices", reported)
	return first
}

// Delete removes the gateway's device with serial.
func (e *Engine) Delete(ctx context.Context, serial string) error {
	return e.gw.DeleteDevice(ctx, serial)
}

// Describe builds the gateway descriptor of sw.
func (e *Engine) Describe(sw *device.Switch) gateway.Descriptor {
	return gateway.Descriptor{
		Name:              sw.Name,
		ThirdSerialNumber: sw.MAC,
		Manufacturer:      Manufacturer,
		Model:             sw.Model,
		FirmwareVersion:   sw.FirmwareVersion,
		DisplayCategory:   string(sw.Category()),
		Capabilities:      sw.Capabilities,
		State:             sw.State,
		Tags:              sw.Tags,
		ServiceAddress:    e.ServiceAddress(sw.MAC),
		Online:            sw.Online,
	}
}

// ServiceAddress is the control callback URL for the device with mac.
func (e *Engine) ServiceAddress(mac string) string {
	return e.serviceAddress + "/api/v1/open/device/" + mac
}

// DeviceMAC returns the Tasmota mac recorded on a gateway device, or "" for
// devices this bridge did not create.
func DeviceMAC(d gateway.Device) string {
	if raw, ok := d.Tags[device.TagKey]; ok {
		var tag struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.Unmarshal(raw, &tag); err == nil && tag.DeviceID != "" {
			return tag.DeviceID
		}
	}
	if d.Manufacturer == Manufacturer {
		return d.ThirdSerialNumber
	}
	return ""
}

// SyncOne mirrors the registered switch with mac.
func (e *Engine) SyncOne(ctx context.Context, mac string) error {
	setting, ok := e.registry.Get(mac)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}
	sw, ok := setting.(*device.Switch)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, mac)
	}
	return e.Create(ctx, sw)
}

// SyncAll mirrors every registered switch the gateway does not hold yet,
// in one request. It returns the number of devices offered.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	index, err := e.Mirrored(ctx)
	if err != nil {
		return 0, err
	}

	var descriptors []gateway.Descriptor
	for _, setting := range e.registry.List() {
		sw, ok := setting.(*device.Switch)
		if !ok {
			continue
		}
		if _, mirrored := index[strings.ToUpper(sw.MAC)]; mirrored {
			continue
		}
		descriptors = append(descriptors, e.Describe(sw))
	}
	if len(descriptors) == 0 {
		return 0, nil
	}

	if _, err := e.gw.CreateDevices(ctx, descriptors); err != nil {
		return 0, err
	}
	e.logger.Info("devices synced to gateway", "count", len(descriptors))
	return len(descriptors), nil
}

// Unsync removes the gateway's copy of the registered device with mac.
func (e *Engine) Unsync(ctx context.Context, mac string) error {
	if _, ok := e.registry.Get(mac); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}
	serial, ok, err := e.Lookup(ctx, mac)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMirrored, mac)
	}
	if err := e.gw.DeleteDevice(ctx, serial); err != nil {
		return err
	}
	e.logger.Info("device removed from gateway", "mac", mac, "serial", serial)
	return nil
}
