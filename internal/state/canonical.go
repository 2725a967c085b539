package state

import "time"

// Device is the consumer-facing view of a logical device.
type Device struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	InputChannel   string   `json:"inputChannel,omitempty"`
	OutputChannels []string `json:"outputChannels"`
	LogicalState   bool     `json:"logicalState"`
	Pending        bool     `json:"pending,omitempty"`
}

// Canonical is the full state of one endpoint as broadcast to consumers.
//
// Seq increases by one for every snapshot an endpoint publishes; consumers
// can use it to detect gaps. Timestamp is always UTC.
type Canonical struct {
	Endpoint  string          `json:"endpoint"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Inputs    map[string]bool `json:"inputs"`
	Outputs   map[string]bool `json:"outputs"`
	Devices   []Device        `json:"devices"`
}

// Clone returns a deep copy of c.
func (c Canonical) Clone() Canonical {
	raw := Raw{Inputs: c.Inputs, Outputs: c.Outputs}.Clone()
	out := c
	out.Inputs = raw.Inputs
	out.Outputs = raw.Outputs
	out.Devices = make([]Device, len(c.Devices))
	for i, d := range c.Devices {
		d.OutputChannels = append([]string(nil), d.OutputChannels...)
		out.Devices[i] = d
	}
	return out
}

// Device returns the device with the given id.
func (c Canonical) Device(id string) (Device, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
