package bridge

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
)

// EventMessage carries new variable values of one device channel.
// Topic: graylogic/device/{id}/event
type EventMessage struct {
	Channel int32          `json:"channel"`
	Values  map[string]any `json:"values"`
}

// UpdateMessage hints that a device channel's configuration changed.
// Topic: graylogic/device/{id}/update
type UpdateMessage struct {
	Channel int32 `json:"channel"`
	Hint    int32 `json:"hint"`
}

// DevicesMessage announces devices joining or leaving the catalog.
// Topics: graylogic/device/added, graylogic/device/removed
//
// Added messages may carry full device records; bare IDs are registered
// with empty metadata when unknown.
type DevicesMessage struct {
	DeviceIDs []uint64        `json:"device_ids,omitempty"`
	Devices   []device.Device `json:"devices,omitempty"`
}

// ids returns every device ID mentioned, in message order without repeats.
func (m DevicesMessage) ids() []uint64 {
	seen := make(map[uint64]bool, len(m.DeviceIDs)+len(m.Devices))
	var ids []uint64
	add := func(id uint64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, d := range m.Devices {
		add(d.ID)
	}
	for _, id := range m.DeviceIDs {
		add(id)
	}
	return ids
}

// RunMessage asks the engine to start a script.
// Topic: graylogic/scripts/run
type RunMessage struct {
	Script     string `json:"script"`
	Args       string `json:"args,omitempty"`
	DeviceID   uint64 `json:"device_id,omitempty"`
	KeepAlive  bool   `json:"keep_alive,omitempty"`
	IntervalMS int64  `json:"interval_ms,omitempty"`
}

// validate rejects scripts outside the scripts directory. Inline source is
// not accepted over the bus.
func (m RunMessage) validate() error {
	if m.Script == "" {
		return fmt.Errorf("%w: script is required", ErrInvalidMessage)
	}
	if !filepath.IsLocal(m.Script) {
		return fmt.Errorf("%w: script %q must be relative to the scripts directory", ErrInvalidMessage, m.Script)
	}
	if m.IntervalMS < 0 {
		return fmt.Errorf("%w: interval_ms must not be negative", ErrInvalidMessage)
	}
	return nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}
