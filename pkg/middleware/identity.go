package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/setlist/pkg/apperrors"
	"github.com/platinummonkey/setlist/pkg/contextkeys"
	"github.com/platinummonkey/setlist/pkg/httputil"
	"github.com/platinummonkey/setlist/pkg/observability"
	"github.com/platinummonkey/setlist/pkg/users"
)

// Default headers for HeaderResolver
const (
	DefaultUserIDHeader    = "X-User-Id"
	DefaultUserEmailHeader = "X-User-Email"
)

// Identity is what the authentication layer vouches for
type Identity struct {
	ExternalID string
	Email      string
}

// Caller is the authenticated user of the current request
type Caller struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
}

// CallerFromContext returns the caller or nil for anonymous requests
func CallerFromContext(ctx context.Context) *Caller {
	caller, _ := ctx.Value(contextkeys.IdentityKey).(*Caller)
	return caller
}

// WithCaller stores caller in ctx
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	ctx = contextkeys.WithIdentity(ctx, caller)
	if caller != nil && caller.UserID != "" {
		ctx = contextkeys.WithUserID(ctx, caller.UserID)
	}
	return ctx
}

// IdentityResolver extracts the identity presented with a request. It
// returns nil and no error when the request carries no credentials.
type IdentityResolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// HeaderResolver trusts identity headers set by an authenticating proxy
type HeaderResolver struct {
	IDHeader    string
	EmailHeader string
}

// NewHeaderResolver creates a resolver reading the default headers
func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{IDHeader: DefaultUserIDHeader, EmailHeader: DefaultUserEmailHeader}
}

func (h *HeaderResolver) Resolve(r *http.Request) (*Identity, error) {
	id := strings.TrimSpace(r.Header.Get(h.IDHeader))
	if id == "" {
		return nil, nil
	}
	return &Identity{ExternalID: id, Email: strings.TrimSpace(r.Header.Get(h.EmailHeader))}, nil
}

// OIDCResolver verifies bearer ID tokens against an OpenID provider
type OIDCResolver struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCResolver discovers the issuer's keys and verifies tokens minted
// for clientID
func NewOIDCResolver(ctx context.Context, issuer, clientID string) (*OIDCResolver, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return NewOIDCResolverWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCResolverWithVerifier wraps an existing verifier
func NewOIDCResolverWithVerifier(verifier *oidc.IDTokenVerifier) *OIDCResolver {
	return &OIDCResolver{verifier: verifier}
}

func (o *OIDCResolver) Resolve(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	// Format: "Bearer <token>"
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, apperrors.Unauthorized("middleware.OIDCResolver", "invalid authorization header format")
	}

	token, err := o.verifier.Verify(r.Context(), parts[1])
	if err != nil {
		return nil, apperrors.Unauthorized("middleware.OIDCResolver", "invalid or expired token")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, apperrors.Unauthorized("middleware.OIDCResolver", "malformed token claims")
	}
	return &Identity{ExternalID: token.Subject, Email: claims.Email}, nil
}

// IdentityMiddleware attaches the calling user to the request. It must run
// inside the transaction middleware: first sight of an identity creates the
// users row in the request transaction.
type IdentityMiddleware struct {
	resolver IdentityResolver
	store    *users.Store
	ids      *users.Resolver
	optional bool // If true, allow requests without credentials
}

// NewIdentityMiddleware creates the middleware. ids may be nil.
func NewIdentityMiddleware(resolver IdentityResolver, store *users.Store, ids *users.Resolver, optional bool) *IdentityMiddleware {
	return &IdentityMiddleware{resolver: resolver, store: store, ids: ids, optional: optional}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := m.resolver.Resolve(r)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		if identity == nil || identity.ExternalID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAppError(w, apperrors.Unauthorized("middleware.Identity", "missing credentials"))
			return
		}

		userID, err := m.userID(ctx, identity)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("failed to resolve caller")
			httputil.WriteAppError(w, err)
			return
		}

		caller := &Caller{UserID: userID, ExternalID: identity.ExternalID, Email: identity.Email}
		next.ServeHTTP(w, r.WithContext(WithCaller(ctx, caller)))
	})
}

// userID returns the internal id, creating the user on first sight. A
// freshly created id is not cached because the request transaction that
// created it may still roll back.
func (m *IdentityMiddleware) userID(ctx context.Context, identity *Identity) (string, error) {
	if m.ids != nil {
		id, err := m.ids.UserID(ctx, identity.ExternalID)
		if err == nil {
			return id, nil
		}
		if !apperrors.IsNotFound(err) {
			return "", err
		}
	}

	u, err := m.store.EnsureUser(ctx, identity.ExternalID, identity.Email)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// RequireCaller returns the caller or an unauthorized error
func RequireCaller(ctx context.Context) (*Caller, error) {
	caller := CallerFromContext(ctx)
	if caller == nil {
		return nil, apperrors.Unauthorized("middleware.RequireCaller", "authentication required")
	}
	return caller, nil
}
