package leads

import "errors"

var (
	// ErrMissingCompanyID is returned when the tenant is missing
	ErrMissingCompanyID = errors.New("company id is required")

	// ErrInvalidName is returned when the name is invalid
	ErrInvalidName = errors.New("name is required")

	// ErrMissingContact is returned when no contact identity is present
	ErrMissingContact = errors.New("email, phone or instagram id is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")
)
