package device

import "time"

// Device is one entry of the catalog.
type Device struct {
	// ID is the controller-assigned device number. Never 0.
	ID uint64 `json:"id"`

	Name string `json:"name"`

	// Family groups devices by kind ("dimmer", "thermostat").
	Family string `json:"family,omitempty"`

	// Address is the bus address as reported by the controller.
	Address string `json:"address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of d.
func (d *Device) Clone() *Device {
	c := *d
	return &c
}
