// Package publish mirrors adbmux device changes and command results onto
// MQTT.
//
// Messages (default prefix "adbmux"):
//
//	adbmux/devices/changes         ChangeMessage, one per changeset
//	adbmux/devices/{serial}/state  StateMessage, retained; cleared on removal
//	adbmux/commands/results        ResultMessage, one per device per run
//
// Usage:
//
//	pub, err := publish.New(client, client.Topics(), client.QoS())
//	if err != nil {
//	    return err
//	}
//	listeners.Add("mqtt", pub.Listener())
//	client.SetOnConnect(func() { _ = pub.PublishSnapshot(registry.All()) })
package publish
