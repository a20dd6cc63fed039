package models

import "time"

// File is an uploaded or tool-produced artifact. SessionID is nullable
// so a file outlives any single session; UserID is always set (§3).
type File struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Name       string    `json:"name"`
	Mime       string    `json:"mime"`
	StorageRef string    `json:"storage_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// IntegrationService names an external service a tenant's user has
// connected.
type IntegrationService string

const (
	IntegrationServiceCalendar   IntegrationService = "calendar"
	IntegrationServiceEmail      IntegrationService = "email"
	IntegrationServiceMCPServer  IntegrationService = "mcp_server"
)

// Integration is a user's connection to an external collaborator service
// (§6: email/calendar providers, tool servers). Credentials are opaque
// bytes the core never inspects, only hands to collaborators (§3).
type Integration struct {
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenant_id"`
	UserID               string             `json:"user_id"`
	Service              IntegrationService `json:"service"`
	Enabled              bool               `json:"enabled"`
	EncryptedCredentials []byte             `json:"-"`
	Metadata             map[string]any     `json:"metadata,omitempty"`
}
