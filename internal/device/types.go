package device

import "time"

// Device is an updatable unit registered with OTA Core.
type Device struct {
	ID         int64  `json:"id"`
	MACAddress string `json:"mac_address"`
	Name       string `json:"name"`

	// GroupID is nil while the device is unassigned.
	GroupID *int64 `json:"group_id"`

	Created time.Time `json:"created"`
}

// Assigned reports whether the device belongs to any group.
func (d *Device) Assigned() bool {
	return d.GroupID != nil
}

// InGroup reports whether the device belongs to the given group.
func (d *Device) InGroup(groupID int64) bool {
	return d.GroupID != nil && *d.GroupID == groupID
}
