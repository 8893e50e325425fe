package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

const (
	issuer       = "drp.core/identity"
	audience     = "drp.core/disputes"
	RoleReviewer = "reviewer"
)

// ReviewerClaims is the JWT payload of a reviewer token. Subject is
// the reviewer id the oversight state machine checks votes against.
type ReviewerClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenManager issues and verifies reviewer tokens against a KeySet.
type TokenManager struct {
	keys  KeySet
	clock func() time.Time
}

// NewTokenManager wraps a keyset.
func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keys: ks, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (tm *TokenManager) WithClock(clock func() time.Time) *TokenManager {
	tm.clock = clock
	return tm
}

// IssueReviewerToken mints a token for one reviewer, valid for ttl.
func (tm *TokenManager) IssueReviewerToken(ctx context.Context, reviewerID string, ttl time.Duration) (string, error) {
	if reviewerID == "" {
		return "", fault.Invalidf(fault.CodeBadInput, "reviewer id is required")
	}
	if ttl <= 0 {
		return "", fault.Invalidf(fault.CodeBadInput, "token ttl must be positive")
	}

	now := tm.clock().UTC()
	claims := ReviewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewerID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: RoleReviewer,
	}
	return tm.keys.Sign(ctx, claims)
}

// VerifyReviewerToken validates a token and returns the reviewer id it
// vouches for. Every failure (bad signature, wrong algorithm, expiry,
// wrong issuer or role) surfaces as the same unauthorized-action fault;
// the caller never learns which check failed.
func (tm *TokenManager) VerifyReviewerToken(tokenString string) (string, error) {
	claims := &ReviewerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, tm.keys.KeyFunc(),
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.clock),
	)
	if err != nil {
		return "", fault.Wrap(fault.Unauthorized, fault.CodeBadToken, err, "reviewer token rejected")
	}
	if !token.Valid || claims.Role != RoleReviewer || claims.Subject == "" {
		return "", fault.Unauthorizedf(fault.CodeBadToken, "reviewer token rejected")
	}
	return claims.Subject, nil
}
