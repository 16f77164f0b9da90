package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("invalid bearer token")

// minSecretLen is the shortest HMAC secret accepted for HS256 tokens.
const minSecretLen = 32

// TokenVerifier issues and verifies HS256 bearer tokens whose subject is an
// Identity.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier creates a verifier. An empty issuer disables the issuer check.
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for the identity that expires after ttl.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.IsAnonymous() {
		return "", errors.New("cannot issue a token for an empty identity")
	}
	now := v.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a signed token and returns the identity in its subject.
func (v *TokenVerifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Anonymous, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity(claims.Subject), nil
}

// Authenticator resolves a bearer credential to a principal. Credentials that
// look like a JWT (three dot-separated segments) go to the token verifier when
// one is configured; everything else is treated as an API key.
type Authenticator struct {
	keys   *APIKeyService
	tokens *TokenVerifier
	store  AuthStore
}

// NewAuthenticator creates an Authenticator. tokens may be nil.
func NewAuthenticator(store AuthStore, tokens *TokenVerifier) *Authenticator {
	return &Authenticator{
		keys:   NewAPIKeyService(store),
		tokens: tokens,
		store:  store,
	}
}

// Authenticate returns the principal for a bearer credential.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if a.tokens != nil && strings.Count(credential, ".") == 2 {
		id, err := a.tokens.Verify(credential)
		if err != nil {
			return nil, err
		}
		return a.store.GetPrincipal(ctx, id)
	}
	return a.keys.Validate(ctx, credential)
}
