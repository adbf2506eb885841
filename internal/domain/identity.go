package domain

import "time"

// IdentityMapping correlates a handle with a transport identity.
type IdentityMapping struct {
	Handle     string    `json:"handle"`
	Identity   string    `json:"identity"`
	Origin     Origin    `json:"origin"`
	ObservedAt time.Time `json:"observedAt"`
}

// RegisteredUser is a claimed handle together with its display label.
type RegisteredUser struct {
	Handle       string    `json:"handle"`
	Label        string    `json:"label"`
	RegisteredAt time.Time `json:"registeredAt"`
	IsOnline     bool      `json:"isOnline"`
}
