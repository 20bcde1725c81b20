package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/middleware"
	"github.com/locolive/ephemeral/pkg/response"
	"github.com/locolive/ephemeral/pkg/validator"
)

const maxDeviceTokenLength = 4096

type NotificationHandler struct {
	service *domain.NotificationService
	logger  *zap.Logger
}

func NewNotificationHandler(service *domain.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger,
	}
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	notifs, err := h.service.GetNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, h.logger, "get notifications", err)
		return
	}
	if notifs == nil {
		notifs = []*domain.Notification{}
	}

	response.OK(w, notifs)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := h.service.MarkRead(r.Context(), userID, id); err != nil {
		writeError(w, h.logger, "mark notification read", err)
		return
	}

	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) UpdateDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		FCMToken string `json:"fcm_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}

	token := validator.SanitizeString(req.FCMToken, maxDeviceTokenLength)
	if token == "" {
		response.BadRequest(w, "fcm_token is required")
		return
	}

	if err := h.service.UpdateDeviceToken(r.Context(), userID, token); err != nil {
		writeError(w, h.logger, "update device token", err)
		return
	}

	response.OK(w, map[string]string{"status": "success"})
}
