package models

import "time"

// ChatMessage is one line of a run's live chat. ID is zero while the message
// has not been confirmed by the backend.
type ChatMessage struct {
	ID        uint      `json:"id,omitempty"`
	IDDiscord string    `json:"id_discord"`
	UserName  string    `json:"user_name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
