// Package events fans device events out to running scripts and event-stream clients.
//
// Every listener (a script instance that called events.subscribe, or a
// WebSocket client) owns one Subscription: an ordered queue of pending events
// plus an optional device filter. Producers call Router.Publish; listeners
// pull what has accumulated with Drain.
//
// # Delivery
//
//   - Value-changed and update-hint events go only to listeners whose filter
//     matches the event's device.
//   - Device-added and device-removed events go to every listener.
//   - Publish never blocks. Queues are bounded only by memory.
//   - Order is FIFO per listener. Nothing is promised across listeners.
//   - A listener that unsubscribes while a publish is in flight may or may
//     not see that event.
//
// # Usage
//
//	router := events.NewRouter()
//	sub := router.Subscribe("exec-7", []uint64{12})
//	router.Publish(events.Event{Kind: events.KindValueChanged, DeviceID: 12, Variable: "STATE", Value: true})
//	for ev := range sub.Drain() {
//	    fmt.Println(ev.Kind, ev.Variable, ev.Value)
//	}
//	router.Unsubscribe("exec-7")
package events
