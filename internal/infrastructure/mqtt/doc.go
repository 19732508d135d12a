// Package mqtt provides the MQTT client adbmux publishes device events with.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS
//   - A retained online/offline status with a Last Will and Testament
//   - Topic naming under a configurable prefix
//
// Topics (default prefix "adbmux"):
//
//	adbmux/system/status             retained, online/offline + last will
//	adbmux/devices/changes           one event per non-empty changeset
//	adbmux/devices/{serial}/state    retained, current record per device
//	adbmux/commands/results          one message per device command result
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().DeviceState("emulator-5554")
//	err = client.Publish(topic, payload, client.QoS(), true)
package mqtt
