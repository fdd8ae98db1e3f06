package models

import "time"

// DeviceToken is a registered push token for a user's device.
type DeviceToken struct {
	UserID    int       `json:"user_id"`
	Token     string    `json:"token" binding:"required"`
	Platform  string    `json:"platform" binding:"omitempty,oneof=ios android web"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Recipient is a person reachable by email, typically an agency supervisor.
type Recipient struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}
