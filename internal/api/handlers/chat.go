package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pipewrench-ai/pipewrench/internal/api"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/service"
)

type ChatService interface {
	StartSession(ctx context.Context, scope domain.Scope) (domain.Session, error)
	SendMessage(ctx context.Context, sessionID, text string) (*service.Answer, error)
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	CloseSession(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type StartSessionRequest struct {
	// DocumentID pins the session to one document; empty means corpus-wide.
	DocumentID string `json:"document_id"`
}

type SessionResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	State      string `json:"state"`
	CreatedAt  string `json:"created_at"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

type CitationResponse struct {
	ChunkID        string   `json:"chunk_id"`
	MergedChunkIDs []string `json:"merged_chunk_ids,omitempty"`
	DocumentID     string   `json:"document_id"`
	Excerpt        string   `json:"excerpt"`
	Score          float32  `json:"score"`
	Stale          bool     `json:"stale,omitempty"`
}

type AnswerResponse struct {
	SessionID string             `json:"session_id"`
	Answer    string             `json:"answer"`
	Citations []CitationResponse `json:"citations"`
	Degraded  bool               `json:"degraded,omitempty"`
}

type TurnResponse struct {
	Role      string             `json:"role"`
	Text      string             `json:"text"`
	CreatedAt string             `json:"created_at"`
	Citations []CitationResponse `json:"citations,omitempty"`
}

func sessionToResponse(s domain.Session) *SessionResponse {
	return &SessionResponse{
		ID:         s.ID,
		DocumentID: s.Scope.DocumentID,
		State:      string(s.State),
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func citationsToResponse(citations []domain.Citation) []CitationResponse {
	out := make([]CitationResponse, 0, len(citations))
	for _, c := range citations {
		out = append(out, CitationResponse{
			ChunkID:        c.ChunkID,
			MergedChunkIDs: c.MergedChunkIDs,
			DocumentID:     c.DocumentID,
			Excerpt:        c.Excerpt,
			Score:          c.Score,
			Stale:          c.Stale,
		})
	}
	return out
}

func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.svc.StartSession(r.Context(), domain.Scope{DocumentID: req.DocumentID})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, sessionToResponse(sess))
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := h.svc.SendMessage(r.Context(), sessionID, req.Text)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &AnswerResponse{
		SessionID: answer.SessionID,
		Answer:    answer.Text,
		Citations: citationsToResponse(answer.Citations),
		Degraded:  answer.Degraded,
	})
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	turns, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnResponse{
			Role:      string(t.Role),
			Text:      t.Text,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
			Citations: citationsToResponse(t.Citations),
		})
	}
	api.Success(w, http.StatusOK, out)
}

func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.svc.CloseSession(r.Context(), sessionID); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}
