package model

import "time"

// Chat is a persisted conversation transcript keyed by its client-generated id.
type Chat struct {
	ID        string    `json:"id"`
	Locale    string    `json:"locale"`
	Turns     []Turn    `json:"transcript"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
