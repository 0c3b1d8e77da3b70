package dto

import (
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

type RegisterRequest struct {
	clinic.Registration
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	Identity     directory.Identity `json:"identity"`
	Status       string             `json:"status,omitempty"`
	Role         string             `json:"role,omitempty"`
}

// MeResponse describes the signed-in session.
type MeResponse struct {
	Identity    directory.Identity `json:"identity"`
	Status      string             `json:"status"`
	Role        string             `json:"role,omitempty"`
	DisplayName string             `json:"display_name,omitempty"`
	Profile     map[string]any     `json:"profile,omitempty"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	DB         string `json:"db"`
	Workspaces int    `json:"workspaces"`
}
