package cloud

import "github.com/google/uuid"

// Credentials is the persisted session state for one account.
// Empty fields are unresolved.
type Credentials struct {
	Username       string `json:"username" yaml:"username"`
	Password       string `json:"password" yaml:"password"`
	InstallationID string `json:"installation_id" yaml:"installation_id"`
	SessionToken   string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	UserObjectID   string `json:"user_object_id,omitempty" yaml:"user_object_id,omitempty"`
	CurrentHomeID  string `json:"current_home_id,omitempty" yaml:"current_home_id,omitempty"`
	LiveGroupID    string `json:"live_group_id,omitempty" yaml:"live_group_id,omitempty"`
}

// EnsureInstallationID generates the installation id if it is missing.
// It reports whether a new id was generated.
func (c *Credentials) EnsureInstallationID() bool {
	if c.InstallationID != "" {
		return false
	}
	c.InstallationID = uuid.NewString()
	return true
}

// Redacted returns a copy safe for logging.
func (c Credentials) Redacted() Credentials {
	if c.Password != "" {
		c.Password = "***"
	}
	if c.SessionToken != "" {
		c.SessionToken = "***"
	}
	return c
}
