// Package httpapi is the host-facing control surface outside the socket:
// room creation, join-by-code, snapshots and queue editing.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/auth"
	"github.com/cowork-live/focusroom/internal/events"
	"github.com/cowork-live/focusroom/internal/gateway"
	"github.com/cowork-live/focusroom/internal/models"
	"github.com/cowork-live/focusroom/internal/ratelimit"
	"github.com/cowork-live/focusroom/internal/rooms"
)

// RoomStore is the repository surface the API needs.
type RoomStore interface {
	CreateRoom(ctx context.Context, req rooms.CreateRoomRequest) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListSegments(ctx context.Context, roomID uuid.UUID) ([]models.Segment, error)
	ReplaceSegments(ctx context.Context, roomID uuid.UUID, specs []rooms.SegmentSpec) ([]models.Segment, error)
	CreateParticipant(ctx context.Context, req rooms.CreateParticipantRequest) (*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// Limiter is the shared rate limiter surface.
type Limiter interface {
	Enforce(ctx context.Context, identifier string, rule ratelimit.Rule) (ratelimit.Result, error)
}

// TokenIssuer signs room tokens for created and joining participants.
type TokenIssuer interface {
	Issue(roomID uuid.UUID, participant *models.Participant) (string, error)
	Verify(token string) (*auth.RoomClaims, error)
}

// QueuePublisher announces segment-queue edits to the room.
type QueuePublisher interface {
	PublishQueueChanged(ctx context.Context, roomID uuid.UUID, segments []models.Segment) error
}

const defaultRoomLifetime = 24 * time.Hour

// Token issuance is the abuse surface here, so creation and joining share
// one conservative per-IP rule.
var tokenIssueRule = ratelimit.Rule{Max: 10, Window: time.Minute}

type Handler struct {
	repo      RoomStore
	limiter   Limiter
	issuer    TokenIssuer
	bus       QueuePublisher
	snapshots *gateway.StateProvider
}

func NewHandler(repo RoomStore, limiter Limiter, issuer TokenIssuer, bus QueuePublisher, snapshots *gateway.StateProvider) *Handler {
	return &Handler{
		repo:      repo,
		limiter:   limiter,
		issuer:    issuer,
		bus:       bus,
		snapshots: snapshots,
	}
}

// RegisterRoutes registers the REST routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.handleCreateRoom)
	mux.HandleFunc("POST /api/rooms/{code}/join", h.handleJoinRoom)
	mux.HandleFunc("GET /api/rooms/{code}", h.handleGetRoom)
	mux.HandleFunc("PUT /api/rooms/{id}/segments", h.handleReplaceSegments)
	mux.HandleFunc("POST /api/rooms/{id}/token", h.handleRefreshToken)
}

type segmentSpecRequest struct {
	Kind        string `json:"kind"`
	DurationSec int    `json:"duration_sec"`
	PublicTask  string `json:"public_task,omitempty"`
}

type createRoomRequest struct {
	DisplayName string               `json:"display_name"`
	Segments    []segmentSpecRequest `json:"segments,omitempty"`
}

type joinRoomRequest struct {
	DisplayName string `json:"display_name"`
}

type roomResponse struct {
	Room        *models.Room        `json:"room"`
	Participant *models.Participant `json:"participant"`
	Segments    []models.Segment    `json:"segments,omitempty"`
	Token       string              `json:"token"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "create") {
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	specs, err := segmentSpecs(req.Segments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(specs) == 0 {
		specs = defaultSegmentQueue()
	}

	ctx := r.Context()
	identity := "session:" + uuid.New().String()

	room, err := h.repo.CreateRoom(ctx, rooms.CreateRoomRequest{
		ID:           uuid.New(),
		Code:         newRoomCode(),
		HostIdentity: identity,
		ExpiresAt:    time.Now().Add(defaultRoomLifetime),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	segments, err := h.repo.ReplaceSegments(ctx, room.ID, specs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create segments")
		return
	}

	host, err := h.repo.CreateParticipant(ctx, rooms.CreateParticipantRequest{
		ID:          uuid.New(),
		RoomID:      room.ID,
		Identity:    identity,
		DisplayName: req.DisplayName,
		Role:        models.RoleHost,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create host participant")
		return
	}

	token, err := h.issuer.Issue(room.ID, host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	log.Info().
		Str("room_id", room.ID.String()).
		Str("code", room.Code).
		Msg("room created")

	writeJSON(w, http.StatusCreated, roomResponse{
		Room:        room,
		Participant: host,
		Segments:    segments,
		Token:       token,
	})
}

func (h *Handler) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "join") {
		return
	}

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	ctx := r.Context()
	room, err := h.repo.GetRoomByCode(ctx, r.PathValue("code"))
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up room")
		return
	}
	if time.Now().After(room.ExpiresAt) {
		writeError(w, http.StatusGone, "room expired")
		return
	}

	guest, err := h.repo.CreateParticipant(ctx, rooms.CreateParticipantRequest{
		ID:          uuid.New(),
		RoomID:      room.ID,
		Identity:    "session:" + uuid.New().String(),
		DisplayName: req.DisplayName,
		Role:        models.RoleGuest,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create participant")
		return
	}

	token, err := h.issuer.Issue(room.ID, guest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, roomResponse{
		Room:        room,
		Participant: guest,
		Token:       token,
	})
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.repo.GetRoomByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up room")
		return
	}

	snapshot, err := h.snapshots.Snapshot(r.Context(), room.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleReplaceSegments(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if claims.Role != models.RoleHost {
		writeError(w, http.StatusForbidden, "only the host can edit the queue")
		return
	}

	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if claims.RoomID != roomID.String() {
		writeError(w, http.StatusForbidden, "token is for a different room")
		return
	}

	var reqSegments []segmentSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&reqSegments); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	specs, err := segmentSpecs(reqSegments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(specs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one segment is required")
		return
	}

	ctx := r.Context()
	room, err := h.repo.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up room")
		return
	}
	if room.Status != models.RoomStatusIdle {
		writeError(w, http.StatusConflict, "queue can only be edited while the room is idle")
		return
	}

	segments, err := h.repo.ReplaceSegments(ctx, roomID, specs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replace segments")
		return
	}

	if err := h.bus.PublishQueueChanged(ctx, roomID, segments); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish queue change")
	}

	writeJSON(w, http.StatusOK, events.QueueChangedPayload{Segments: events.NewSegmentViews(segments)})
}

// handleRefreshToken re-issues a token from the participant's current role.
// A guest promoted by host failover uses it to pick up host rights; the old
// token keeps only the rights of the role it was issued for.
func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if claims.RoomID != roomID.String() {
		writeError(w, http.StatusForbidden, "token is for a different room")
		return
	}
	participantID, err := uuid.Parse(claims.ParticipantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	participant, err := h.repo.GetParticipant(r.Context(), participantID)
	if err != nil {
		if errors.Is(err, rooms.ErrParticipantNotFound) {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up participant")
		return
	}

	token, err := h.issuer.Issue(roomID, participant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// allow runs the shared limiter for a token-issuing endpoint and writes the
// 429 response itself when the rule is exceeded.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, action string) bool {
	_, err := h.limiter.Enforce(r.Context(), action+":"+clientIP(r), tokenIssueRule)
	var rateErr *ratelimit.Error
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSec))
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*auth.RoomClaims, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	claims, err := h.issuer.Verify(header[len(prefix):])
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

func segmentSpecs(reqs []segmentSpecRequest) ([]rooms.SegmentSpec, error) {
	specs := make([]rooms.SegmentSpec, 0, len(reqs))
	for _, req := range reqs {
		kind := models.SegmentKind(req.Kind)
		switch kind {
		case models.SegmentKindFocus, models.SegmentKindBreak, models.SegmentKindLongBreak, models.SegmentKindCustom:
		default:
			return nil, errors.New("unknown segment kind " + req.Kind)
		}
		if req.DurationSec <= 0 || req.DurationSec > 4*60*60 {
			return nil, errors.New("segment duration out of range")
		}
		specs = append(specs, rooms.SegmentSpec{
			Kind:        kind,
			DurationSec: req.DurationSec,
			PublicTask:  req.PublicTask,
		})
	}
	return specs, nil
}

// defaultSegmentQueue is the classic focus cycle used when a room is created
// without an explicit queue.
func defaultSegmentQueue() []rooms.SegmentSpec {
	return []rooms.SegmentSpec{
		{Kind: models.SegmentKindFocus, DurationSec: 25 * 60},
		{Kind: models.SegmentKindBreak, DurationSec: 5 * 60},
		{Kind: models.SegmentKindFocus, DurationSec: 25 * 60},
		{Kind: models.SegmentKindBreak, DurationSec: 5 * 60},
		{Kind: models.SegmentKindFocus, DurationSec: 25 * 60},
		{Kind: models.SegmentKindLongBreak, DurationSec: 15 * 60},
	}
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRoomCode builds a short shareable code. Collisions are caught by the
// unique constraint on rooms.code.
func newRoomCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()[:8]
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
