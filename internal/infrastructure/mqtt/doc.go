// Package mqtt publishes lhkeeper state to an MQTT broker and receives
// remote commands.
//
// Topics (see Topics):
//
//	lhkeeper/system/status   retained online/offline, also the LWT
//	lhkeeper/health          retained healthy/degraded/stopping
//	lhkeeper/state/<id>      retained last cycle of a lighthouse
//	lhkeeper/event/<id>      one message per keep-alive event
//	lhkeeper/command/<id>    inbound commands, e.g. {"command":"stop"}
//
// The broker is optional. Reconnection runs in paho's background goroutines
// so a missing broker never delays the keep-alive loop.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Identity{LighthouseID: "DEADBEEF", RunID: runID})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Command("DEADBEEF"), 1, func(topic string, payload []byte) error {
//	    return handleCommand(payload)
//	})
package mqtt
