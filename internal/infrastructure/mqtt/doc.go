// Package mqtt provides the broker connection used by the Tasmota bridge.
//
// This package manages:
//   - Connection with perpetual auto-reconnect at a fixed period
//   - A fresh client id on every connect attempt
//   - Publishing with QoS guarantees, dropping echoes of our own publishes
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament for the bridge's own status topic
//
// Subscriptions are scoped to one broker session. The session is clean, so
// after a reconnect the owner of the subscriptions (the bridge) must issue
// them again; this package only reports the transition via SetOnConnect.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetOnConnect(func() { ... })
//	if err := client.Connect(); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe("tasmota/discovery/#", 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
