// Package mqtt is the engine's paho broker client. Subscriptions survive
// reconnects and the retained status topic tracks whether the engine is up.
//
// Protocol bridges publish device traffic on the broker; the engine turns
// it into router events and publishes its own status back:
//
//	bridges → broker → graylogic-scripts → event router → scripts
//
// # Topics
//
//	graylogic/device/{id}/event    variable changes {"channel":1,"values":{...}}
//	graylogic/device/{id}/update   update hints {"channel":1,"hint":2}
//	graylogic/device/added         {"device_ids":[...]} or a device object
//	graylogic/device/removed       {"device_ids":[...]}
//	graylogic/scripts/run          {"script":"x.lua","args":"...","device_id":0}
//	graylogic/scripts/stats        retained slot statistics
//	graylogic/system/status        retained online/offline status (LWT)
//
// Enable broker TLS (mqtt.broker.tls) anywhere outside a development bench.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceEvents(), 1, handler)
package mqtt
