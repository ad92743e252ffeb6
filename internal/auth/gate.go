// Package auth verifies role credentials carried in cookies and decides
// which requests must be redirected before a page is rendered.
package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	AdminRoot   = "/backend"
	AdminHome   = "/backend/article/list"
	AdminPrefix = "/backend/"
	UserPrefix  = "/user/"
	SiteRoot    = "/"
)

// Gate maps a request path and its credentials to an optional redirect.
type Gate struct {
	verifier *Verifier
}

func NewGate(v *Verifier) *Gate {
	return &Gate{verifier: v}
}

// Check returns the redirect target for r, or "" to let the request through.
// Verification always completes before a branch is taken. The returned
// identity is set only when a credential verified.
//
//	/backend, /backend/   verified -> AdminHome,  otherwise ""
//	/backend/...          verified -> "",         otherwise AdminRoot
//	/user/...             verified -> "",         otherwise SiteRoot
//	anything else         ""
func (g *Gate) Check(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, Identity) {
	path := r.URL.Path

	switch {
	case path == AdminRoot || path == AdminPrefix:
		if id, ok := g.verifier.Verify(ctx, w, r, RoleAdmin); ok {
			return AdminHome, id
		}
		return "", Identity{}

	case strings.HasPrefix(path, AdminPrefix):
		id, ok := g.verifier.Verify(ctx, w, r, RoleAdmin)
		if !ok {
			return AdminRoot, Identity{}
		}
		return "", id

	case strings.HasPrefix(path, UserPrefix):
		id, ok := g.verifier.Verify(ctx, w, r, RoleUser)
		if !ok {
			return SiteRoot, Identity{}
		}
		return "", id
	}
	return "", Identity{}
}

type identityKey struct{}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
