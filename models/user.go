package models

import "strings"

// Identity is the signed-in user as reported by the authentication provider.
type Identity struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// InDomain reports whether the identity's email belongs to domain,
// e.g. "clarku.edu". An empty domain admits every address.
func (i *Identity) InDomain(domain string) bool {
	if domain == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(i.Email), "@"+strings.ToLower(domain))
}
