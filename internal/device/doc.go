// Package device holds the normalized device model and the in-memory
// registry of every device announced on the broker.
//
// A device is either a *Switch (one to four relay channels) or an
// *Unsupported device whose availability alone is tracked. Both implement
// the sealed Setting interface; callers branch with a type switch:
//
//	switch d := setting.(type) {
//	case *device.Switch:
//	    ...
//	case *device.Unsupported:
//	    ...
//	}
//
// The registry is not persisted. It is rebuilt from retained discovery
// messages each time the bridge connects.
package device
