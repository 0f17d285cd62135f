// Package agent defines the AgentDescriptor domain entity.
package agent

// Availability represents the derived health state of an agent.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// Descriptor describes one configured model backend.
type Descriptor struct {
	Name         string       `json:"name"`
	ModelType    string       `json:"model_type"`
	Role         string       `json:"role"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Weight       float64      `json:"weight"`
	Status       Availability `json:"status"`
}

// HasCapability reports whether the descriptor carries the given tag.
func (d *Descriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
