package provider

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// DelegatedCredential is the credential shape AdminSurface.DelegateFor
// threads through to build a per-user client: a service-account JWT
// config impersonating email via Subject (domain-wide delegation),
// rather than a bespoke credential struct.
type DelegatedCredential struct {
	Config *jwt.Config
	Email  string
}

// TokenSource returns an oauth2.TokenSource scoped to the delegated
// user, suitable for constructing an http.Client via
// oauth2.NewClient.
func (d DelegatedCredential) TokenSource(ctx context.Context) oauth2.TokenSource {
	cfg := *d.Config
	cfg.Subject = d.Email
	return cfg.TokenSource(ctx)
}

// NewDelegatedCredential builds a DelegatedCredential from a service
// account's JSON key material and the scopes the resulting client
// needs (mail, drive, or both).
func NewDelegatedCredential(serviceAccountJSON []byte, email string, scopes ...string) (DelegatedCredential, error) {
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON, scopes...)
	if err != nil {
		return DelegatedCredential{}, err
	}
	return DelegatedCredential{Config: cfg, Email: email}, nil
}
