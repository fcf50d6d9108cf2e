// Package mirror keeps the upstream gateway's copy of each Tasmota switch
// in step with the bridge's registry.
//
// The gateway assigns its own serial to every device it accepts, and the
// bridge does not persist that mapping. Every operation that needs a serial
// finds it by scanning the gateway's device list for the _tasmota tag that
// carries the mac. Failures are returned to the caller, which logs them;
// nothing here retries.
package mirror
