package influxdb

import (
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

func TestSwitchStatePoints(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		sw   *device.Switch
		want map[string]bool // channel tag -> on
	}{
		{
			name: "single channel",
			sw: &device.Switch{
				Identity: device.Identity{MAC: "AABBCC"},
				Channels: 1,
				State:    device.State{Power: device.PowerState{PowerState: device.PowerOn}},
			},
			want: map[string]bool{"0": true},
		},
		{
			name: "multi channel",
			sw: &device.Switch{
				Identity: device.Identity{MAC: "112233"},
				Channels: 2,
				State: device.State{
					Power: device.PowerState{PowerState: device.PowerOn},
					Toggle: map[int]device.ToggleState{
						1: {ToggleState: device.PowerOff},
						2: {ToggleState: device.PowerOn},
					},
				},
			},
			want: map[string]bool{"0": true, "1": false, "2": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := switchStatePoints(tt.sw, ts)
			if len(points) != len(tt.want) {
				t.Fatalf("switchStatePoints() returned %d points, want %d", len(points), len(tt.want))
			}
			for _, p := range points {
				if p.Name() != MeasurementSwitchState {
					t.Errorf("Name() = %q, want %q", p.Name(), MeasurementSwitchState)
				}
				if !p.Time().Equal(ts) {
					t.Errorf("Time() = %v, want %v", p.Time(), ts)
				}
				tags := make(map[string]string)
				for _, tag := range p.TagList() {
					tags[tag.Key] = tag.Value
				}
				if tags["mac"] != tt.sw.MAC {
					t.Errorf("mac tag = %q, want %q", tags["mac"], tt.sw.MAC)
				}
				want, ok := tt.want[tags["channel"]]
				if !ok {
					t.Errorf("unexpected channel %q", tags["channel"])
					continue
				}
				fields := p.FieldList()
				if len(fields) != 1 || fields[0].Key != "on" || fields[0].Value != want {
					t.Errorf("channel %s fields = %v, want on=%v", tags["channel"], fields, want)
				}
			}
		})
	}
}

func TestAvailabilityPoint(t *testing.T) {
	p := availabilityPoint("AABBCC", false, time.Now())

	if p.Name() != MeasurementAvailability {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementAvailability)
	}
	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "online" || fields[0].Value != false {
		t.Errorf("fields = %v, want online=false", fields)
	}
}
