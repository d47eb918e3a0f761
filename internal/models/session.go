package models

import "time"

// Identity describes the authenticated user and their organization.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	OrgName     string `json:"orgName"`
	OrgID       string `json:"orgId"`
}

// Session is the credential and identity of a logged-in user.
//
// ExpiresAt is the credential's expiry in epoch seconds, 0 when unknown.
type Session struct {
	Credential string    `json:"credential"`
	Identity   *Identity `json:"identity,omitempty"`
	ExpiresAt  int64     `json:"expiresAt"`
}

// IsAuthenticated holds iff both the credential and the identity are present.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Credential != "" && s.Identity != nil
}

// Expiry returns ExpiresAt as a [time.Time], zero when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}
