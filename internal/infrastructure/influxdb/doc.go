// Package influxdb records switch state and availability history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Points go through the
// non-blocking write API, batched according to config.yaml (batch_size,
// flush_interval), so recording never stalls message handling.
//
// # Measurements
//
//	switch_state   tags: mac, channel ("0" for the whole device)   fields: on (bool)
//	availability   tags: mac                                       fields: online (bool)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history is optional
//	}
//	defer client.Close()
//
//	client.RecordAvailability("AABBCC", true)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write failures surface asynchronously through the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
