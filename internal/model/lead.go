package model

import "time"

// LeadRequest is the argument payload of the submit_lead tool: the customer
// contact data and the technical briefing produced once a design is confirmed.
type LeadRequest struct {
	Subject       string `json:"subject" validate:"required,max=200" jsonschema:"description=Short subject line for the studio team"`
	FirstName     string `json:"first_name" validate:"required,max=100" jsonschema:"description=Customer first name"`
	LastName      string `json:"last_name" validate:"required,max=100" jsonschema:"description=Customer last name"`
	Email         string `json:"email" validate:"required,email" jsonschema:"description=Customer email address"`
	Phone         string `json:"phone" validate:"required,min=6,max=32" jsonschema:"description=Customer phone number including country code"`
	City          string `json:"city" validate:"required,max=100" jsonschema:"description=Customer city"`
	Country       string `json:"country" validate:"required,max=100" jsonschema:"description=Customer country"`
	Specification string `json:"specification" validate:"required,min=10" jsonschema:"description=Technical briefing of the confirmed design in markdown"`
}

// Lead is a submitted design lead as stored by the studio.
type Lead struct {
	ID             int64  `json:"id,string"`
	ConversationID string `json:"conversation_id"`
	LeadRequest
	ImageURLs []string  `json:"image_urls"`
	CreatedAt time.Time `json:"created_at"`

	// NotifiedAt is set once the studio has been alerted.
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

func (l Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}
