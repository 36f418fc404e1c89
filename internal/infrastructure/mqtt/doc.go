// Package mqtt provides MQTT client connectivity for the Siegenia bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The window bridge publishes state, acknowledgements, discovery and health
// on the Gray Logic bus and receives commands from it:
//
//	Gray Logic Core ↔ MQTT Broker ↔ Siegenia bridge ↔ window controller
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeCommand(mqtt.Protocol, "window-01")
//	err = client.Subscribe(topic, 1, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
