package api

import (
	"net/http"

	"github.com/locolive/ephemeral/internal/middleware"
	"github.com/locolive/ephemeral/internal/realtime"
	"github.com/locolive/ephemeral/pkg/response"
)

// LiveHandler upgrades authenticated clients onto the owner event stream
type LiveHandler struct {
	hub *realtime.Hub
}

func NewLiveHandler(hub *realtime.Hub) *LiveHandler {
	return &LiveHandler{hub: hub}
}

func (h *LiveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}
	h.hub.ServeWS(w, r, userID)
}
