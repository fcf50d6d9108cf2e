// Package settings persists the operator-controlled runtime settings of the
// bridge: the MQTT broker to use, whether new switches are mirrored upstream
// automatically, and the upstream gateway token.
//
// Values are stored as JSON documents keyed by name. Anything not yet written
// falls back to the defaults loaded from config.yaml.
package settings
