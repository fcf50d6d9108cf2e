package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Measurement names.
const (
	MeasurementSwitchState  = "switch_state"
	MeasurementAvailability = "availability"
)

// RecordSwitchState writes one point per channel of sw, plus a channel "0"
// point for the device as a whole.
func (c *Client) RecordSwitchState(sw *device.Switch) {
	if !c.IsConnected() || sw == nil {
		return
	}
	for _, p := range switchStatePoints(sw, time.Now()) {
		c.writeAPI.WritePoint(p)
	}
}

// RecordAvailability writes an availability point for mac.
func (c *Client) RecordAvailability(mac string, online bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(availabilityPoint(mac, online, time.Now()))
}

func switchStatePoints(sw *device.Switch, ts time.Time) []*write.Point {
	points := []*write.Point{
		statePoint(sw.MAC, 0, sw.State.Power.PowerState == device.PowerOn, ts),
	}
	if !sw.MultiChannel() {
		return points
	}
	for ch := 1; ch <= sw.Channels; ch++ {
		on := sw.State.Toggle[ch].ToggleState == device.PowerOn
		points = append(points, statePoint(sw.MAC, ch, on, ts))
	}
	return points
}

func statePoint(mac string, channel int, on bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSwitchState,
		map[string]string{
			"mac":     mac,
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{"on": on},
		ts,
	)
}

func availabilityPoint(mac string, online bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAvailability,
		map[string]string{"mac": mac},
		map[string]interface{}{"online": online},
		ts,
	)
}
