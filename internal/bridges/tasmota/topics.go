package tasmota

import (
	"strconv"
	"strings"
)

// TopicKind classifies an inbound MQTT topic.
type TopicKind int

const (
	// TopicOther is any topic that is not a discovery announcement.
	TopicOther TopicKind = iota

	// TopicDiscovery is <vendor>/discovery/<id>/config.
	TopicDiscovery
)

// DiscoveryTopic is the fixed subscription covering every announcement.
const DiscoveryTopic = "tasmota/discovery/#"

// Topic template placeholders used by the Tasmota FullTopic setting.
const (
	placeholderHostname = "%hostname%"
	placeholderID       = "%id%"
	placeholderPrefix   = "%prefix%"
	placeholderTopic    = "%topic%"
)

// Topic suffixes appended to the expanded prefixes.
const (
	suffixLWT    = "LWT"
	suffixState  = "STATE"
	suffixResult = "RESULT"
	suffixPower  = "POWER"
)

// discoveryTopicParts is the segment count of an announcement topic.
const discoveryTopicParts = 4

// ClassifyTopic reports whether topic is a discovery announcement.
//
// Only the exact shape <vendor>/discovery/<id>/config matches; the device
// topics are recognised later by matching against the registry.
func ClassifyTopic(topic string) TopicKind {
	parts := strings.Split(topic, "/")
	if len(parts) != discoveryTopicParts {
		return TopicOther
	}
	if parts[0] == "" || parts[2] == "" {
		return TopicOther
	}
	if parts[1] != "discovery" || parts[3] != "config" {
		return TopicOther
	}
	return TopicDiscovery
}

// ExpandTemplate substitutes the FullTopic placeholders.
//
// Each placeholder is replaced literally wherever it occurs, so the order of
// placeholders in the template does not matter. A template without a given
// placeholder is returned with that part unchanged.
//
// Example:
//
//	ExpandTemplate("%prefix%/%topic%/", "plug", "A1B2C3", "cmnd", "plug-1")
//	// "cmnd/plug-1/"
func ExpandTemplate(template, hostname, macSuffix6, prefix, baseTopic string) string {
	r := strings.NewReplacer(
		placeholderHostname, hostname,
		placeholderID, macSuffix6,
		placeholderPrefix, prefix,
		placeholderTopic, baseTopic,
	)
	return r.Replace(template)
}

// MACSuffix returns the last six characters of mac, as used by %id%.
func MACSuffix(mac string) string {
	if len(mac) <= 6 {
		return mac
	}
	return mac[len(mac)-6:]
}

// AvailabilityTopic returns the LWT topic under a telemetry prefix.
func AvailabilityTopic(tele string) string { return tele + suffixLWT }

// PollTopic returns the command that asks a device to report its state.
func PollTopic(cmnd string) string { return cmnd + suffixState }

// ResultTopic returns the command reply topic under a stat prefix.
func ResultTopic(stat string) string { return stat + suffixResult }

// TelemetryStateTopic returns the periodic state topic under a tele prefix.
func TelemetryStateTopic(tele string) string { return tele + suffixState }

// PowerTopic returns the per-command power topic for a 1-based channel.
// Single-channel devices use the bare POWER suffix.
func PowerTopic(stat string, channel, channels int) string {
	return stat + PowerKey(channel, channels)
}

// PowerCommandTopic returns the topic that switches a channel.
func PowerCommandTopic(cmnd string, channel, channels int) string {
	return cmnd + PowerKey(channel, channels)
}

// PowerKey returns the payload key (and topic suffix) for a channel:
// POWER for single-channel devices, POWER<n> otherwise.
func PowerKey(channel, channels int) string {
	if channels <= 1 {
		return suffixPower
	}
	return suffixPower + strconv.Itoa(channel)
}

// parsePowerKey extracts the channel from a POWER or POWER<n> key.
// A bare POWER key is channel 1.
func parsePowerKey(key string) (int, bool) {
	upper := strings.ToUpper(key)
	if !strings.HasPrefix(upper, suffixPower) {
		return 0, false
	}
	rest := upper[len(suffixPower):]
	if rest == "" {
		return 1, true
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
