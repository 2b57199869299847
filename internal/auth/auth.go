// Package auth checks the bearer API keys that guard the REST and MCP endpoints.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	errors "github.com/Laisky/errors/v2"
)

var (
	// ErrMissingAuthorization indicates that no authorization header was provided.
	ErrMissingAuthorization = errors.New("authorization header required")
	// ErrInvalidAuthorization indicates that the authorization header is malformed.
	ErrInvalidAuthorization = errors.New("invalid authorization header")
	// ErrUnknownKey indicates a well-formed key that is not configured.
	ErrUnknownKey = errors.New("unknown api key")
)

type ctxKey struct{}

// Context describes the caller behind a verified key.
type Context struct {
	APIKeyHash string
	KeySuffix  string
	// CallerID is a stable, non-secret id derived from the key hash.
	CallerID string
}

// MaskedKey returns a non-sensitive key suffix suitable for logs.
func (a *Context) MaskedKey() string {
	if a == nil || a.KeySuffix == "" {
		return ""
	}
	return fmt.Sprintf("***%s", a.KeySuffix)
}

// KeySet holds the sha256 hashes of the accepted API keys.
// The zero value and a nil *KeySet accept every request.
type KeySet struct {
	hashes [][sha256.Size]byte
}

// NewKeySet builds a set from raw keys; blank keys are skipped.
func NewKeySet(keys ...string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			ks.hashes = append(ks.hashes, sha256.Sum256([]byte(k)))
		}
	}
	return ks
}

// Enabled reports whether at least one key is configured.
func (ks *KeySet) Enabled() bool {
	return ks != nil && len(ks.hashes) > 0
}

// Verify parses an Authorization header and checks its key against the set.
func (ks *KeySet) Verify(header string) (*Context, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(token))
	matched := 0
	for _, h := range ks.hashes {
		matched |= subtle.ConstantTimeCompare(h[:], sum[:])
	}
	if matched != 1 {
		return nil, ErrUnknownKey
	}

	hash := hex.EncodeToString(sum[:])
	return &Context{
		APIKeyHash: hash,
		KeySuffix:  keySuffix(token),
		CallerID:   "caller:" + hash[:16],
	}, nil
}

// ParseBearer extracts the token of a "Bearer <token>" header.
// A header without the scheme is taken as the token itself.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingAuthorization
	}

	if strings.EqualFold(header, "bearer") {
		return "", ErrInvalidAuthorization
	}
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	}

	fields := strings.Fields(header)
	if len(fields) != 1 {
		return "", ErrInvalidAuthorization
	}
	return fields[0], nil
}

// WithContext stores authorization context on a request context.
func WithContext(ctx context.Context, auth *Context) context.Context {
	if ctx == nil || auth == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, auth)
}

// FromContext retrieves authorization context from a request context.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	auth, ok := ctx.Value(ctxKey{}).(*Context)
	if !ok || auth == nil {
		return nil, false
	}
	return auth, true
}

// HTTPMiddleware enforces ks and injects the caller into request contexts.
// It returns next unchanged when ks has no keys.
func HTTPMiddleware(ks *KeySet, next http.Handler) http.Handler {
	if next == nil || !ks.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := ks.Verify(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), authCtx)))
	})
}

// writeUnauthorized writes a standardized 401 body for auth middleware failures.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tracker-search"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

func keySuffix(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}
