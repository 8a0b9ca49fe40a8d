package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/models"
)

func testParticipant(role models.Role) *models.Participant {
	return &models.Participant{
		ID:          uuid.New(),
		RoomID:      uuid.New(),
		Identity:    "session:" + uuid.New().String(),
		DisplayName: "Sam",
		Role:        role,
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	roomID := uuid.New()
	participant := testParticipant(models.RoleHost)

	token, err := issuer.Issue(roomID, participant)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.RoomID != roomID.String() {
		t.Fatalf("room claim mismatch: %s", claims.RoomID)
	}
	if claims.ParticipantID != participant.ID.String() {
		t.Fatalf("participant claim mismatch: %s", claims.ParticipantID)
	}
	if claims.Role != models.RoleHost {
		t.Fatalf("role claim mismatch: %s", claims.Role)
	}
	if claims.Identity != participant.Identity {
		t.Fatalf("identity claim mismatch: %s", claims.Identity)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	other := NewIssuer([]byte("different-secret"), time.Hour)

	token, err := issuer.Issue(uuid.New(), testParticipant(models.RoleGuest))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatal("expected verification to fail under a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Nanosecond)

	token, err := issuer.Issue(uuid.New(), testParticipant(models.RoleGuest))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := issuer.Verify(token); err == nil {
		t.Fatal("expected an expired token to be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"), time.Hour)
	if _, err := issuer.Verify("not.a.token"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
}
