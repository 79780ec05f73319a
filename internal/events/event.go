package events

import "time"

// Kind tags the variant carried by an Event.
type Kind uint8

const (
	// KindValueChanged reports a new value for one variable of a device channel.
	KindValueChanged Kind = iota + 1

	// KindDeviceAdded reports devices that joined the catalog.
	KindDeviceAdded

	// KindDeviceRemoved reports devices that left the catalog.
	KindDeviceRemoved

	// KindDeviceUpdated hints that a device's configuration changed.
	KindDeviceUpdated
)

// String returns the name scripts see in the event's "type" field.
func (k Kind) String() string {
	switch k {
	case KindValueChanged:
		return "event"
	case KindDeviceAdded:
		return "newDevices"
	case KindDeviceRemoved:
		return "deleteDevices"
	case KindDeviceUpdated:
		return "updateDevice"
	default:
		return "unknown"
	}
}

// Targeted reports whether the kind is delivered by device filter rather
// than to every listener.
func (k Kind) Targeted() bool {
	return k == KindValueChanged || k == KindDeviceUpdated
}

// Event is one queued notification. Events are immutable once published and
// the same value is handed to every matching listener.
type Event struct {
	Kind Kind `json:"-"`

	// DeviceID is the device a targeted event concerns.
	DeviceID uint64 `json:"device_id,omitempty"`

	// DeviceIDs lists the devices of a KindDeviceAdded or KindDeviceRemoved event.
	DeviceIDs []uint64 `json:"device_ids,omitempty"`

	Channel  int32  `json:"channel"`
	Variable string `json:"variable,omitempty"`
	Value    any    `json:"value,omitempty"`
	Hint     int32  `json:"hint,omitempty"`

	Time time.Time `json:"time"`
}

// Fields flattens the event into the table shape handed to scripts.
func (e Event) Fields() map[string]any {
	f := map[string]any{
		"type":    e.Kind.String(),
		"channel": int64(e.Channel),
	}
	switch e.Kind {
	case KindValueChanged:
		f["device_id"] = e.DeviceID
		f["variable"] = e.Variable
		f["value"] = e.Value
	case KindDeviceUpdated:
		f["device_id"] = e.DeviceID
		f["hint"] = int64(e.Hint)
	case KindDeviceAdded, KindDeviceRemoved:
		ids := make([]any, len(e.DeviceIDs))
		for i, id := range e.DeviceIDs {
			ids[i] = id
		}
		f["device_ids"] = ids
	}
	return f
}
