package app

import (
	"context"
	"crypto/subtle"

	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

var _ domain.TokenVerifier = (*DevTokenVerifier)(nil)

// DevTokenVerifier accepts any non-empty token for local development. The
// configured host code grants the host role; every other token is treated
// as an attendee session.
type DevTokenVerifier struct {
	hostCode string
}

func NewDevTokenVerifier(hostCode string) *DevTokenVerifier {
	return &DevTokenVerifier{hostCode: hostCode}
}

func (v *DevTokenVerifier) Verify(_ context.Context, _ domain.EventID, token string) (domain.Role, error) {
	if token == "" {
		return "", domain.ErrInvalidToken
	}
	if v.hostCode != "" && subtle.ConstantTimeCompare([]byte(token), []byte(v.hostCode)) == 1 {
		return domain.RoleHost, nil
	}
	return domain.RoleAttendee, nil
}

// FallbackVerifier tries primary first and consults fallback only when
// primary rejects the token.
type FallbackVerifier struct {
	primary  domain.TokenVerifier
	fallback domain.TokenVerifier
}

func NewFallbackVerifier(primary, fallback domain.TokenVerifier) *FallbackVerifier {
	return &FallbackVerifier{primary: primary, fallback: fallback}
}

func (v *FallbackVerifier) Verify(ctx context.Context, eventID domain.EventID, token string) (domain.Role, error) {
	role, err := v.primary.Verify(ctx, eventID, token)
	if err == nil {
		return role, nil
	}
	return v.fallback.Verify(ctx, eventID, token)
}
