// Package auth issues and verifies the short-lived room tokens that assert
// {room, participant, role, identity} for a connection's lifetime. Tokens
// are re-issued whenever a role changes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/models"
)

const defaultTokenTTL = 12 * time.Hour

var errInvalidToken = errors.New("invalid room token")

// RoomClaims are the claims a room token carries.
type RoomClaims struct {
	RoomID        string      `json:"room_id"`
	ParticipantID string      `json:"participant_id"`
	Role          models.Role `json:"role"`
	Identity      string      `json:"identity"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies room tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue signs a token for a participant in a room.
func (i *Issuer) Issue(roomID uuid.UUID, participant *models.Participant) (string, error) {
	now := time.Now().UTC()
	claims := RoomClaims{
		RoomID:        roomID.String(),
		ParticipantID: participant.ID.String(),
		Role:          participant.Role,
		Identity:      participant.Identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participant.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims. The role and identity claims
// are trusted for the lifetime of the connection that presented the token.
func (i *Issuer) Verify(tokenString string) (*RoomClaims, error) {
	var claims RoomClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid {
		return nil, errInvalidToken
	}
	if _, err := uuid.Parse(claims.RoomID); err != nil {
		return nil, errInvalidToken
	}
	if _, err := uuid.Parse(claims.ParticipantID); err != nil {
		return nil, errInvalidToken
	}
	return &claims, nil
}
