package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoCredential     = errors.New("no credential")
	ErrBadToken         = errors.New("bad token")
	ErrIdentityMismatch = errors.New("token identity does not match cookies")
)

// Role selects which credential triple a request is checked against.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// CookieNames are the three cookies carrying one role's credential.
type CookieNames struct {
	Token string
	ID    string
	Name  string
}

var (
	AdminCookies = CookieNames{Token: "b_user", ID: "b_userid", Name: "b_username"}
	UserCookies  = CookieNames{Token: "user", ID: "userid", Name: "username"}
)

// CookiesFor returns the cookie names used by role.
func CookiesFor(role Role) CookieNames {
	if role == RoleAdmin {
		return AdminCookies
	}
	return UserCookies
}

// Read pulls the credential triple off the request. Missing cookies are empty.
// Values are taken from the raw Cookie headers because net/http drops cookies
// holding non-ASCII bytes, and the name cookie may carry the decoded name.
func (n CookieNames) Read(r *http.Request) Credential {
	var cred Credential
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			if len(value) > 1 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
			var dst *string
			switch name {
			case n.Token:
				dst = &cred.Token
			case n.ID:
				dst = &cred.ID
			case n.Name:
				dst = &cred.Name
			default:
				continue
			}
			// first occurrence wins, as with http.Request.Cookie
			if *dst == "" {
				*dst = value
			}
		}
	}
	return cred
}

// Clear expires all three cookies on the client.
func (n CookieNames) Clear(w http.ResponseWriter) {
	for _, name := range []string{n.Token, n.ID, n.Name} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
}

// Credential is a signed token plus the cleartext id and name it must agree with.
type Credential struct {
	Token string
	ID    string
	Name  string
}

// Claims is the JWT payload written at login.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the decoded, verified subject of a credential.
type Identity struct {
	ID   string
	Name string
	Role Role
}

// Verifier checks credentials against the process-wide signing secret.
// It holds no mutable state, so concurrent verifications are independent.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Check validates signature, expiry and identity of cred. An empty token
// yields ErrNoCredential.
func (v *Verifier) Check(ctx context.Context, cred Credential) (*Claims, error) {
	if cred.Token == "" {
		return nil, ErrNoCredential
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(cred.Token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}

	if claims.UserID != cred.ID || !NameMatches(claims.Username, cred.Name) {
		return nil, ErrIdentityMismatch
	}
	return claims, nil
}

// Verify reads role's credential from r and checks it. When a token is
// present but fails verification the three cookies are cleared on w so the
// client re-authenticates. A missing token is anonymous and leaves cookies alone.
func (v *Verifier) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request, role Role) (Identity, bool) {
	names := CookiesFor(role)
	claims, err := v.Check(ctx, names.Read(r))
	if err == nil {
		return Identity{ID: claims.UserID, Name: claims.Username, Role: role}, true
	}
	if errors.Is(err, ErrNoCredential) || ctx.Err() != nil {
		return Identity{}, false
	}

	names.Clear(w)
	zerolog.Ctx(ctx).Debug().Err(err).Str("role", string(role)).Msg("credential rejected")
	return Identity{}, false
}

// NameMatches reports whether the name claimed by a token agrees with the name
// cookie. Cookie values may arrive percent-encoded or decoded depending on who
// wrote them, so all three spellings are accepted.
func NameMatches(claimed, cookie string) bool {
	if claimed == cookie || claimed == EncodeURI(cookie) {
		return true
	}
	decoded, err := url.PathUnescape(cookie)
	return err == nil && decoded == claimed
}

// EncodeURI percent-encodes s the way JavaScript's encodeURI does: reserved
// URI characters are left alone, everything else outside the unreserved set
// is encoded as UTF-8 bytes.
func EncodeURI(s string) string {
	const keep = "-_.!~*'();/?:@&=+$,#"
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', strings.IndexByte(keep, c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// Issuer signs credentials. Login lives outside this service; the issuer
// backs the tokengen tool and tests.
type Issuer struct {
	Secret []byte
}

// Issue signs an HS256 token for id/name that expires after ttl.
func (i Issuer) Issue(id, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id,
		Username: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Credential issues a token and returns it with its companion values.
func (i Issuer) Credential(id, name string, ttl time.Duration) (Credential, error) {
	tok, err := i.Issue(id, name, ttl)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: tok, ID: id, Name: name}, nil
}
