// Package notify carries bridge events to whoever is listening.
//
// The bridge emits a small set of fire-and-forget events (broker connected,
// broker disconnected, device discovered). It only knows the Notifier
// interface; the host process decides where events go by composing sinks
// with Fanout:
//
//	n := notify.NewFanout(hub, natsSink)
//	n.Notify(notify.Event{Name: notify.EventMQTTConnected})
//
// Sinks must not block. Notify is called from connection callbacks and
// message handlers.
package notify
