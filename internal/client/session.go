package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
)

// Session is the signed-in state persisted between CLI invocations.
type Session struct {
	BaseURL      string      `yaml:"base_url"`
	AccessToken  string      `yaml:"access_token"`
	RefreshToken string      `yaml:"refresh_token"`
	ExpiresAt    time.Time   `yaml:"expires_at"`
	User         SessionUser `yaml:"user"`
}

// SessionUser mirrors models.UserInfo for the session file.
type SessionUser struct {
	ID                 string   `yaml:"id"`
	Email              string   `yaml:"email"`
	FullName           string   `yaml:"full_name"`
	Role               string   `yaml:"role"`
	SubsectionID       string   `yaml:"subsection_id,omitempty"`
	SectionID          string   `yaml:"section_id,omitempty"`
	ManagedSections    []string `yaml:"managed_sections,omitempty"`
	AuditorSubsections []string `yaml:"auditor_subsections,omitempty"`
}

// NewSession records a login together with the profile returned by /users/me.
func NewSession(baseURL string, login *models.LoginResponse, me *models.UserInfo) *Session {
	s := &Session{BaseURL: baseURL}
	if login != nil {
		s.AccessToken = login.AccessToken
		s.RefreshToken = login.RefreshToken
		s.ExpiresAt = login.IssuedAt.Add(time.Duration(login.ExpiresIn) * time.Second)
	}
	if me != nil {
		s.User = SessionUser{
			ID:                 me.ID,
			Email:              me.Email,
			FullName:           me.FullName,
			Role:               string(me.Role),
			SubsectionID:       me.SubsectionID,
			SectionID:          me.SectionID,
			ManagedSections:    me.ManagedSections,
			AuditorSubsections: me.AuditorSubsections,
		}
	}
	return s
}

// Actor is the permission context of the signed-in user. It is nil when the
// session holds no user.
func (s *Session) Actor() *policy.Actor {
	if s == nil || s.User.ID == "" {
		return nil
	}
	return policy.ActorFromInfo(&models.UserInfo{
		ID:                 s.User.ID,
		Email:              s.User.Email,
		FullName:           s.User.FullName,
		Role:               models.UserRole(s.User.Role),
		SubsectionID:       s.User.SubsectionID,
		SectionID:          s.User.SectionID,
		ManagedSections:    s.User.ManagedSections,
		AuditorSubsections: s.User.AuditorSubsections,
	})
}

// Client builds an API client for the session.
func (s *Session) Client(timeout time.Duration) *Client {
	return New(Config{BaseURL: s.BaseURL, Token: s.AccessToken, Timeout: timeout})
}

// LoadSession reads a session file. A missing file yields an error wrapping
// os.ErrNotExist.
func LoadSession(path string) (*Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// Save writes the session with owner-only permissions.
func (s *Session) Save(path string) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// ClearSession removes the session file; a missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
