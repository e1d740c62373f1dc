package models

// ContactStatus is owned by the contact store; the engine only reads it.
type ContactStatus string

const (
	ContactStatusActive       ContactStatus = "active"
	ContactStatusUnsubscribed ContactStatus = "unsubscribed"
	ContactStatusInvalid      ContactStatus = "invalid"
)

// Contact is the recipient a flow is walked for.
type Contact struct {
	ID         string         `json:"id"         validate:"required"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone"`
	Status     ContactStatus  `json:"status"     validate:"required"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Eligible reports whether the contact may be admitted into a campaign run.
func (c *Contact) Eligible() bool {
	return c.Status == ContactStatusActive
}
