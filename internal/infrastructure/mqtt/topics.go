package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes for the script engine.
//
// Device traffic uses graylogic/device/{id}/{kind}; lifecycle broadcasts use
// graylogic/device/{added|removed}.
const (
	// TopicPrefix is the base for all Gray Logic topics.
	TopicPrefix = "graylogic"

	// TopicPrefixDevice is the base for device topics.
	TopicPrefixDevice = "graylogic/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// TopicPrefixScripts is the base for script engine topics.
	TopicPrefixScripts = "graylogic/scripts"
)

// Device topic kinds.
const (
	KindEvent  = "event"
	KindUpdate = "update"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceEvent(42) // "graylogic/device/42/event"
type Topics struct{}

// DeviceEvent returns the topic carrying variable changes of a device.
//
// Example: graylogic/device/42/event
func (Topics) DeviceEvent(id uint64) string {
	return fmt.Sprintf("%s/%d/%s", TopicPrefixDevice, id, KindEvent)
}

// DeviceUpdate returns the topic carrying update hints of a device.
//
// Example: graylogic/device/42/update
func (Topics) DeviceUpdate(id uint64) string {
	return fmt.Sprintf("%s/%d/%s", TopicPrefixDevice, id, KindUpdate)
}

// DeviceAdded returns the topic announcing new devices.
func (Topics) DeviceAdded() string {
	return TopicPrefixDevice + "/added"
}

// DeviceRemoved returns the topic announcing deleted devices.
func (Topics) DeviceRemoved() string {
	return TopicPrefixDevice + "/removed"
}

// SystemStatus returns the system status topic (also the LWT topic).
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ScriptsStats returns the topic the engine publishes slot statistics on.
func (Topics) ScriptsStats() string {
	return TopicPrefixScripts + "/stats"
}

// ScriptsRun returns the topic other services use to start scripts.
func (Topics) ScriptsRun() string {
	return TopicPrefixScripts + "/run"
}

// AllDeviceEvents returns a pattern matching every device's event topic.
//
// Pattern: graylogic/device/+/event
func (Topics) AllDeviceEvents() string {
	return TopicPrefixDevice + "/+/" + KindEvent
}

// AllDeviceUpdates returns a pattern matching every device's update topic.
//
// Pattern: graylogic/device/+/update
func (Topics) AllDeviceUpdates() string {
	return TopicPrefixDevice + "/+/" + KindUpdate
}

// AllTopics returns a pattern matching all Gray Logic topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graylogic/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseDeviceTopic splits graylogic/device/{id}/{kind} into its device ID and
// kind.
func ParseDeviceTopic(topic string) (uint64, string, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q is not a device topic", ErrInvalidTopic, topic)
	}
	idPart, kind, ok := strings.Cut(rest, "/")
	if !ok || kind == "" || strings.Contains(kind, "/") {
		return 0, "", fmt.Errorf("%w: %q is not a device topic", ErrInvalidTopic, topic)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("%w: bad device id in %q", ErrInvalidTopic, topic)
	}
	return id, kind, nil
}
