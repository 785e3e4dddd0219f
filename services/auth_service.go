package services

import (
	"context"

	"firebase.google.com/go/auth"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/models"
)

var (
	ErrOutsideCampus    = errors.New("email is outside the campus domain")
	ErrEmailNotVerified = errors.New("email is not verified")
	ErrUserNotFound     = errors.New("user not found")
)

type ctxKey int

const (
	idTokenKey ctxKey = iota
	identityKey
)

// WithIDToken attaches a raw Firebase ID token to ctx.
func WithIDToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, idTokenKey, token)
}

// WithIdentity attaches an already verified identity to ctx.
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(identityKey).(*models.Identity)
	return id
}

// AuthProvider resolves users of the marketplace.
type AuthProvider interface {
	// CurrentIdentity returns the signed-in user, or nil when the context
	// carries no credentials.
	CurrentIdentity(ctx context.Context) (*models.Identity, error)
	LookupIdentity(ctx context.Context, userID string) (*models.Identity, error)
}

// firebaseAuth is the subset of *auth.Client the provider needs.
type firebaseAuth interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

type firebaseAuthProvider struct {
	client               firebaseAuth
	campusDomain         string
	requireVerifiedEmail bool
}

// NewFirebaseAuthProvider returns an AuthProvider that trusts Firebase ID
// tokens and admits only campus accounts.
func NewFirebaseAuthProvider(client *auth.Client, campusDomain string, requireVerifiedEmail bool) AuthProvider {
	return newFirebaseAuthProvider(client, campusDomain, requireVerifiedEmail)
}

func newFirebaseAuthProvider(client firebaseAuth, campusDomain string, requireVerifiedEmail bool) *firebaseAuthProvider {
	return &firebaseAuthProvider{
		client:               client,
		campusDomain:         campusDomain,
		requireVerifiedEmail: requireVerifiedEmail,
	}
}

func (p *firebaseAuthProvider) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	if id := IdentityFromContext(ctx); id != nil {
		return id, nil
	}
	token, _ := ctx.Value(idTokenKey).(string)
	if token == "" {
		return nil, nil
	}

	verified, err := p.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "auth: verify id token")
	}

	id, err := p.LookupIdentity(ctx, verified.UID)
	if err != nil {
		return nil, err
	}
	if !id.InDomain(p.campusDomain) {
		return nil, ErrOutsideCampus
	}
	if p.requireVerifiedEmail && !id.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return id, nil
}

func (p *firebaseAuthProvider) LookupIdentity(ctx context.Context, userID string) (*models.Identity, error) {
	user, err := p.client.GetUser(ctx, userID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrapf(err, "auth: get user %s", userID)
	}

	id := &models.Identity{UserID: userID, EmailVerified: user.EmailVerified}
	if user.UserInfo != nil {
		id.UserID = user.UserInfo.UID
		id.Email = user.UserInfo.Email
	}
	return id, nil
}

// StaticAuthProvider serves a fixed user directory. The current identity is
// taken from the context, falling back to Current.
type StaticAuthProvider struct {
	Current *models.Identity
	Users   map[string]*models.Identity
	// Tokens maps raw tokens to user ids for request authorization.
	Tokens map[string]string
}

func (p *StaticAuthProvider) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	if id := IdentityFromContext(ctx); id != nil {
		return id, nil
	}
	if token, _ := ctx.Value(idTokenKey).(string); token != "" {
		uid, ok := p.Tokens[token]
		if !ok {
			return nil, errors.New("unknown token")
		}
		return p.LookupIdentity(ctx, uid)
	}
	return p.Current, nil
}

func (p *StaticAuthProvider) LookupIdentity(ctx context.Context, userID string) (*models.Identity, error) {
	id, ok := p.Users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return id, nil
}
