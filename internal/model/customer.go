// Package model holds the domain types shared by the repositories, services and HTTP layer.
package model

import "time"

// CustomerStatus is the lifecycle stage of a customer.
type CustomerStatus string

const (
	StatusActive   CustomerStatus = "active"
	StatusInactive CustomerStatus = "inactive"
	StatusLead     CustomerStatus = "lead"
)

// Valid reports whether s is one of the known statuses.
func (s CustomerStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusLead:
		return true
	}
	return false
}

// Customer is a CRM contact. DocumentURL, when set, is the public URL of a blob in the upload namespace.
type Customer struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Phone       *string        `json:"phone,omitempty"`
	Company     *string        `json:"company,omitempty"`
	Status      CustomerStatus `json:"status"`
	DocumentURL *string        `json:"document_url"`
	CreatedAt   time.Time      `json:"created_at"`
}

// HasDocument reports whether the customer references a stored document.
func (c *Customer) HasDocument() bool {
	return c.DocumentURL != nil && *c.DocumentURL != ""
}

// CustomerInput carries the fields accepted when creating a customer.
// Tags serve fiber's body parser (json and multipart form) and the validator.
type CustomerInput struct {
	Name    string         `json:"name" form:"name" validate:"required,max=200"`
	Email   string         `json:"email" form:"email" validate:"required,email,max=320"`
	Phone   *string        `json:"phone" form:"phone" validate:"omitempty,max=50"`
	Company *string        `json:"company" form:"company" validate:"omitempty,max=200"`
	Status  CustomerStatus `json:"status" form:"status" validate:"omitempty,oneof=active inactive lead"`
}

// CustomerPatch is a partial update. Nil fields are left untouched.
// DocumentURL is set by the service only, never decoded from a request.
type CustomerPatch struct {
	Name        *string         `json:"name" form:"name" validate:"omitempty,min=1,max=200"`
	Email       *string         `json:"email" form:"email" validate:"omitempty,email,max=320"`
	Phone       *string         `json:"phone" form:"phone" validate:"omitempty,max=50"`
	Company     *string         `json:"company" form:"company" validate:"omitempty,max=200"`
	Status      *CustomerStatus `json:"status" form:"status" validate:"omitempty,oneof=active inactive lead"`
	DocumentURL *string         `json:"-" form:"-"`
}

// IsEmpty reports whether the patch changes nothing.
func (p CustomerPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Company == nil &&
		p.Status == nil && p.DocumentURL == nil
}

// CustomerStats are the dashboard aggregates.
type CustomerStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Lead     int `json:"lead"`
}
