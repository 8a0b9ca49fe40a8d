package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/auth"
	"github.com/cowork-live/focusroom/internal/gateway"
	"github.com/cowork-live/focusroom/internal/models"
	"github.com/cowork-live/focusroom/internal/ratelimit"
	"github.com/cowork-live/focusroom/internal/rooms"
)

// fakeRepo backs both the API and the snapshot provider in-memory.
type fakeRepo struct {
	rooms        map[uuid.UUID]*models.Room
	segments     map[uuid.UUID][]models.Segment
	participants map[uuid.UUID][]models.Participant
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:        make(map[uuid.UUID]*models.Room),
		segments:     make(map[uuid.UUID][]models.Segment),
		participants: make(map[uuid.UUID][]models.Participant),
	}
}

func (f *fakeRepo) CreateRoom(_ context.Context, req rooms.CreateRoomRequest) (*models.Room, error) {
	room := &models.Room{
		ID:           req.ID,
		Code:         req.Code,
		Status:       models.RoomStatusIdle,
		HostIdentity: req.HostIdentity,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.rooms[room.ID] = room
	return room, nil
}

func (f *fakeRepo) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	room, ok := f.rooms[id]
	if !ok {
		return nil, rooms.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeRepo) GetRoomByCode(_ context.Context, code string) (*models.Room, error) {
	for _, room := range f.rooms {
		if room.Code == code {
			return room, nil
		}
	}
	return nil, rooms.ErrRoomNotFound
}

func (f *fakeRepo) ListSegments(_ context.Context, roomID uuid.UUID) ([]models.Segment, error) {
	return f.segments[roomID], nil
}

func (f *fakeRepo) ReplaceSegments(_ context.Context, roomID uuid.UUID, specs []rooms.SegmentSpec) ([]models.Segment, error) {
	segs := make([]models.Segment, 0, len(specs))
	for i, spec := range specs {
		segs = append(segs, models.Segment{
			ID:          uuid.New(),
			RoomID:      roomID,
			Kind:        spec.Kind,
			DurationSec: spec.DurationSec,
			Order:       i,
			PublicTask:  spec.PublicTask,
		})
	}
	f.segments[roomID] = segs
	return segs, nil
}

func (f *fakeRepo) CreateParticipant(_ context.Context, req rooms.CreateParticipantRequest) (*models.Participant, error) {
	p := models.Participant{
		ID:          req.ID,
		RoomID:      req.RoomID,
		Identity:    req.Identity,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		JoinedAt:    time.Now(),
	}
	f.participants[req.RoomID] = append(f.participants[req.RoomID], p)
	return &p, nil
}

func (f *fakeRepo) GetParticipant(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	for _, list := range f.participants {
		for _, p := range list {
			if p.ID == id {
				copied := p
				return &copied, nil
			}
		}
	}
	return nil, rooms.ErrParticipantNotFound
}

func (f *fakeRepo) setRole(roomID, participantID uuid.UUID, role models.Role) {
	for i := range f.participants[roomID] {
		if f.participants[roomID][i].ID == participantID {
			f.participants[roomID][i].Role = role
		}
	}
}

func (f *fakeRepo) ListParticipants(_ context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	return f.participants[roomID], nil
}

type fakeSnapshotStore struct{}

func (fakeSnapshotStore) TimerState(_ context.Context, _ uuid.UUID) (*models.TimerState, error) {
	return nil, nil
}

func (fakeSnapshotStore) Presence(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

// fakeLimiter rejects after a fixed number of hits per identifier.
type fakeLimiter struct {
	hits  map[string]int
	limit int
}

func newFakeLimiter(limit int) *fakeLimiter {
	return &fakeLimiter{hits: make(map[string]int), limit: limit}
}

func (f *fakeLimiter) Enforce(_ context.Context, identifier string, _ ratelimit.Rule) (ratelimit.Result, error) {
	f.hits[identifier]++
	count := int64(f.hits[identifier])
	if f.hits[identifier] > f.limit {
		return ratelimit.Result{Count: count}, &ratelimit.Error{RetryAfterSec: 30}
	}
	return ratelimit.Result{Count: count}, nil
}

type fakeQueuePublisher struct {
	published int
}

func (f *fakeQueuePublisher) PublishQueueChanged(_ context.Context, _ uuid.UUID, _ []models.Segment) error {
	f.published++
	return nil
}

func newTestHandler(limit int) (*Handler, *fakeRepo, *fakeQueuePublisher, *auth.Issuer) {
	repo := newFakeRepo()
	bus := &fakeQueuePublisher{}
	issuer := auth.NewIssuer([]byte("test-secret"), time.Hour)
	snapshots := gateway.NewStateProvider(repo, fakeSnapshotStore{})
	return NewHandler(repo, newFakeLimiter(limit), issuer, bus, snapshots), repo, bus, issuer
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return bytes.NewReader(data)
}

func createRoom(t *testing.T, h *Handler) roomResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", jsonBody(t, createRoomRequest{DisplayName: "Ana"}))
	rec := serve(h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp roomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return resp
}

func TestCreateRoomIssuesHostToken(t *testing.T) {
	h, _, _, issuer := newTestHandler(10)

	resp := createRoom(t, h)
	if resp.Room.Code == "" {
		t.Fatal("expected a shareable room code")
	}
	if resp.Participant.Role != models.RoleHost {
		t.Fatalf("creator must be host, got %s", resp.Participant.Role)
	}
	if len(resp.Segments) == 0 {
		t.Fatal("expected the default segment queue")
	}

	claims, err := issuer.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Role != models.RoleHost {
		t.Fatalf("token must carry the host role, got %s", claims.Role)
	}
}

func TestCreateRoomRequiresDisplayName(t *testing.T) {
	h, _, _, _ := newTestHandler(10)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", jsonBody(t, createRoomRequest{}))
	if rec := serve(h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateRoomRejectsUnknownSegmentKind(t *testing.T) {
	h, _, _, _ := newTestHandler(10)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", jsonBody(t, createRoomRequest{
		DisplayName: "Ana",
		Segments:    []segmentSpecRequest{{Kind: "NAP", DurationSec: 60}},
	}))
	if rec := serve(h, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJoinRoomIssuesGuestToken(t *testing.T) {
	h, _, _, issuer := newTestHandler(10)
	created := createRoom(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+created.Room.Code+"/join",
		jsonBody(t, joinRoomRequest{DisplayName: "Ben"}))
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("join returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp roomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Participant.Role != models.RoleGuest {
		t.Fatalf("joiner must be guest, got %s", resp.Participant.Role)
	}
	claims, err := issuer.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.RoomID != created.Room.ID.String() {
		t.Fatal("token must be scoped to the joined room")
	}
}

func TestJoinUnknownCodeReturnsNotFound(t *testing.T) {
	h, _, _, _ := newTestHandler(10)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/NOSUCH/join",
		jsonBody(t, joinRoomRequest{DisplayName: "Ben"}))
	if rec := serve(h, req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJoinExpiredRoomReturnsGone(t *testing.T) {
	h, repo, _, _ := newTestHandler(10)
	created := createRoom(t, h)
	repo.rooms[created.Room.ID].ExpiresAt = time.Now().Add(-time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+created.Room.Code+"/join",
		jsonBody(t, joinRoomRequest{DisplayName: "Ben"}))
	if rec := serve(h, req); rec.Code != http.StatusGone {
		t.Fatalf("expected 410 for an expired room, got %d", rec.Code)
	}
}

func TestJoinIsRateLimited(t *testing.T) {
	h, _, _, _ := newTestHandler(1)
	created := createRoom(t, h)

	join := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+created.Room.Code+"/join",
			jsonBody(t, joinRoomRequest{DisplayName: "Ben"}))
		return serve(h, req)
	}

	if rec := join(); rec.Code != http.StatusOK {
		t.Fatalf("first join returned %d", rec.Code)
	}
	rec := join()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint")
	}
}

func TestGetRoomReturnsSnapshot(t *testing.T) {
	h, _, _, _ := newTestHandler(10)
	created := createRoom(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/"+created.Room.Code, nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot returned %d: %s", rec.Code, rec.Body.String())
	}

	var snapshot struct {
		State struct {
			Status string `json:"status"`
		} `json:"state"`
		Segments []json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snapshot.State.Status != string(models.RoomStatusIdle) {
		t.Fatalf("expected idle advisory state, got %s", snapshot.State.Status)
	}
	if len(snapshot.Segments) != len(created.Segments) {
		t.Fatalf("expected %d segments, got %d", len(created.Segments), len(snapshot.Segments))
	}
}

func TestReplaceSegmentsRequiresHost(t *testing.T) {
	h, repo, _, issuer := newTestHandler(10)
	created := createRoom(t, h)

	guest, err := repo.CreateParticipant(context.Background(), rooms.CreateParticipantRequest{
		ID:     uuid.New(),
		RoomID: created.Room.ID,
		Role:   models.RoleGuest,
	})
	if err != nil {
		t.Fatalf("seed guest failed: %v", err)
	}
	guestToken, err := issuer.Issue(created.Room.ID, guest)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+created.Room.ID.String()+"/segments",
		jsonBody(t, []segmentSpecRequest{{Kind: string(models.SegmentKindFocus), DurationSec: 60}}))
	req.Header.Set("Authorization", "Bearer "+guestToken)
	if rec := serve(h, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for guest, got %d", rec.Code)
	}
}

func TestReplaceSegmentsWhileIdle(t *testing.T) {
	h, repo, bus, _ := newTestHandler(10)
	created := createRoom(t, h)

	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+created.Room.ID.String()+"/segments",
		jsonBody(t, []segmentSpecRequest{
			{Kind: string(models.SegmentKindFocus), DurationSec: 1500},
			{Kind: string(models.SegmentKindBreak), DurationSec: 300},
		}))
	req.Header.Set("Authorization", "Bearer "+created.Token)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace returned %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.segments[created.Room.ID]) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(repo.segments[created.Room.ID]))
	}
	if bus.published != 1 {
		t.Fatalf("expected a queue-changed broadcast, got %d", bus.published)
	}
}

func TestRefreshTokenReflectsPromotedRole(t *testing.T) {
	h, repo, _, issuer := newTestHandler(10)
	created := createRoom(t, h)

	// Join as guest, then promote the guest as host failover would.
	joinReq := httptest.NewRequest(http.MethodPost, "/api/rooms/"+created.Room.Code+"/join",
		jsonBody(t, joinRoomRequest{DisplayName: "Ben"}))
	joinRec := serve(h, joinReq)
	var joined roomResponse
	if err := json.Unmarshal(joinRec.Body.Bytes(), &joined); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	repo.setRole(created.Room.ID, joined.Participant.ID, models.RoleHost)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+created.Room.ID.String()+"/token", nil)
	req.Header.Set("Authorization", "Bearer "+joined.Token)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	claims, err := issuer.Verify(resp.Token)
	if err != nil {
		t.Fatalf("refreshed token does not verify: %v", err)
	}
	if claims.Role != models.RoleHost {
		t.Fatalf("refreshed token must carry the promoted role, got %s", claims.Role)
	}
}

func TestReplaceSegmentsRejectedWhileRunning(t *testing.T) {
	h, repo, _, _ := newTestHandler(10)
	created := createRoom(t, h)
	repo.rooms[created.Room.ID].Status = models.RoomStatusRunning

	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+created.Room.ID.String()+"/segments",
		jsonBody(t, []segmentSpecRequest{{Kind: string(models.SegmentKindFocus), DurationSec: 60}}))
	req.Header.Set("Authorization", "Bearer "+created.Token)
	if rec := serve(h, req); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rec.Code)
	}
}
