// Package mqtt provides the MQTT client used to mirror endpoint state.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained messages
//   - Subscriptions that survive reconnects
//   - Last Will and Testament on {prefix}/system/status
//
// Topic layout is built by Topics; see its documentation.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	client.PublishRetained(topics.EndpointState("garage"), payload)
package mqtt
