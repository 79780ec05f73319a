// Package bridge connects the MQTT bus to the script engine.
//
// Inbound, it turns device traffic published by protocol bridges into router
// events and keeps the device catalog in step with added and removed
// devices. It also starts scripts requested on graylogic/scripts/run.
// Outbound, it publishes engine slot statistics as a retained message.
//
//	graylogic/device/+/event   → Router.PublishValues
//	graylogic/device/+/update  → Router.Publish(KindDeviceUpdated)
//	graylogic/device/added     → Registry.AddDevice + broadcast
//	graylogic/device/removed   → Registry.RemoveDevice + broadcast
//	graylogic/scripts/run      → Engine.ExecuteAsync
//	Engine stats               → graylogic/scripts/stats (retained)
package bridge
