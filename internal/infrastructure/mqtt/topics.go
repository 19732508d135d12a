package mqtt

import "strings"

// DefaultTopicPrefix is the root of every adbmux topic.
const DefaultTopicPrefix = "adbmux"

// Topics builds adbmux MQTT topic names under a prefix.
//
//	topics := mqtt.NewTopics("adbmux")
//	topics.DeviceState("emulator-5554") // "adbmux/devices/emulator-5554/state"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. An empty prefix uses
// DefaultTopicPrefix; surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// DeviceChanges is where every non-empty changeset is published as an
// event.
//
// Example: adbmux/devices/changes
func (t Topics) DeviceChanges() string {
	return t.Prefix() + "/devices/changes"
}

// DeviceState is the retained state topic of one device. Serials only
// contain letters, digits and dashes, so they are safe as topic levels.
//
// Example: adbmux/devices/emulator-5554/state
func (t Topics) DeviceState(deviceID string) string {
	return t.Prefix() + "/devices/" + deviceID + "/state"
}

// CommandResults is where each device's command result is published.
//
// Example: adbmux/commands/results
func (t Topics) CommandResults() string {
	return t.Prefix() + "/commands/results"
}

// SystemStatus carries the retained online/offline status of adbmux
// itself, including the last will.
//
// Example: adbmux/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// AllDeviceStates matches every device state topic.
//
// Pattern: adbmux/devices/+/state
func (t Topics) AllDeviceStates() string {
	return t.Prefix() + "/devices/+/state"
}
