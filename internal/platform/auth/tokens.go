package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token has been revoked")
)

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked *TokenRevocationStore
	now     func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration, revoked *TokenRevocationStore) *TokenIssuer {
	return &TokenIssuer{
		secret:  secret,
		issuer:  issuer,
		ttl:     ttl,
		revoked: revoked,
		now:     time.Now,
	}
}

// Issue returns a signed token for the user and its expiry.
func (t *TokenIssuer) Issue(userID uuid.UUID, email, role string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
		Role:  role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates tokenStr and returns the principal it names.
func (t *TokenIssuer) Parse(tokenStr string) (*Principal, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || !ValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if t.revoked != nil && t.revoked.IsRevoked(claims.ID, userID.String(), issuedAt) {
		return nil, ErrRevokedToken
	}

	return &Principal{
		UserID:    userID,
		Email:     claims.Email,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

// Revoke invalidates the token held by p until it would have expired.
func (t *TokenIssuer) Revoke(p *Principal) {
	if t.revoked == nil || p == nil || p.TokenID == "" {
		return
	}
	t.revoked.RevokeForUser(p.TokenID, p.UserID.String(), time.Unix(p.ExpiresAt, 0))
}

// RevokeUser invalidates every token issued to userID so far.
func (t *TokenIssuer) RevokeUser(userID uuid.UUID) {
	if t.revoked == nil {
		return
	}
	t.revoked.RevokeUserBefore(userID.String(), t.now(), t.now().Add(t.ttl))
}
