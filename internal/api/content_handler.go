package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/middleware"
	"github.com/locolive/ephemeral/pkg/response"
	"github.com/locolive/ephemeral/pkg/validator"
)

const maxUploadSize = 50 << 20

type ContentHandler struct {
	content *domain.ContentService
	views   *domain.ViewService
	logger  *zap.Logger
}

func NewContentHandler(content *domain.ContentService, views *domain.ViewService, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		content: content,
		views:   views,
		logger:  logger,
	}
}

// CreateContentRequest is the JSON body for publishing with an existing media reference
type CreateContentRequest struct {
	MediaRef               string      `json:"media_ref"`
	ContentType            string      `json:"content_type"`
	Kind                   string      `json:"kind"`
	Caption                *string     `json:"caption,omitempty"`
	ViewingDurationSeconds *int        `json:"viewing_duration_seconds,omitempty"`
	MediaDurationSeconds   *float64    `json:"media_duration_seconds,omitempty"`
	MaxReplays             *int        `json:"max_replays,omitempty"`
	Recipients             []uuid.UUID `json:"recipients,omitempty"`
}

func (req CreateContentRequest) params(ownerID uuid.UUID) domain.CreateContentParams {
	if req.Caption != nil {
		caption := strings.TrimSpace(*req.Caption)
		req.Caption = &caption
	}
	return domain.CreateContentParams{
		OwnerID:                ownerID,
		MediaRef:               strings.TrimSpace(req.MediaRef),
		ContentType:            domain.ContentType(req.ContentType),
		Kind:                   domain.Kind(req.Kind),
		Caption:                req.Caption,
		ViewingDurationSeconds: req.ViewingDurationSeconds,
		MediaDurationSeconds:   req.MediaDurationSeconds,
		MaxReplays:             req.MaxReplays,
		Recipients:             req.Recipients,
	}
}

// CreateContent accepts either a JSON body or a multipart form carrying the media file
func (h *ContentHandler) CreateContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.createFromForm(w, r, userID)
		return
	}

	var req CreateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	item, err := h.content.CreateContent(r.Context(), req.params(userID), nil, "", "")
	if err != nil {
		writeError(w, h.logger, "create content", err)
		return
	}
	response.Created(w, item)
}

func (h *ContentHandler) createFromForm(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		response.BadRequest(w, "invalid form data")
		return
	}

	req := CreateContentRequest{
		MediaRef:    r.FormValue("media_ref"),
		ContentType: r.FormValue("content_type"),
		Kind:        r.FormValue("kind"),
	}
	if caption := r.FormValue("caption"); caption != "" {
		req.Caption = &caption
	}

	var errs validator.ValidationErrors
	req.ViewingDurationSeconds = formInt(r, "viewing_duration_seconds", &errs)
	req.MaxReplays = formInt(r, "max_replays", &errs)
	if raw := r.FormValue("media_duration_seconds"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			req.MediaDurationSeconds = &v
		} else {
			errs.Add("media_duration_seconds", "must be a number")
		}
	}
	recipients, recErrs := validator.ParseUUIDs("recipients", r.MultipartForm.Value["recipients"])
	errs = append(errs, recErrs...)
	req.Recipients = recipients
	if errs.HasErrors() {
		response.Invalid(w, domain.ErrValidation.Error(), errs)
		return
	}

	var (
		file        io.Reader
		filename    string
		contentType string
	)
	if f, header, err := r.FormFile("file"); err == nil {
		defer f.Close()
		file = f
		filename = header.Filename
		contentType = header.Header.Get("Content-Type")
	} else if err != http.ErrMissingFile {
		response.BadRequest(w, "invalid file")
		return
	}

	item, err := h.content.CreateContent(r.Context(), req.params(userID), file, filename, contentType)
	if err != nil {
		writeError(w, h.logger, "create content", err)
		return
	}
	response.Created(w, item)
}

func formInt(r *http.Request, field string, errs *validator.ValidationErrors) *int {
	raw := r.FormValue(field)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		errs.Add(field, "must be an integer")
		return nil
	}
	return &v
}

// ListActive returns the content of the requested owners currently visible to the caller.
// Query: owners (repeated or comma separated), kind (story|snap, optional).
func (h *ContentHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	owners, errs := validator.ParseUUIDs("owners", r.URL.Query()["owners"])
	if errs.HasErrors() {
		response.Invalid(w, domain.ErrValidation.Error(), errs)
		return
	}

	kind := domain.Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != domain.KindStory && kind != domain.KindSnap {
		response.BadRequest(w, "kind must be story or snap")
		return
	}

	items, err := h.content.ListActive(r.Context(), userID, owners, kind, h.content.Now())
	if err != nil {
		writeError(w, h.logger, "list content", err)
		return
	}
	response.OK(w, items)
}

func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	item, err := h.content.GetForViewer(r.Context(), contentID, userID, h.content.Now())
	if err != nil {
		writeError(w, h.logger, "get content", err)
		return
	}
	response.OK(w, item)
}

func (h *ContentHandler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	if err := h.content.DeleteContent(r.Context(), contentID, userID); err != nil {
		writeError(w, h.logger, "delete content", err)
		return
	}
	response.NoContent(w)
}

func (h *ContentHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	record, err := h.views.RecordView(r.Context(), contentID, userID, h.content.Now())
	if err != nil {
		writeError(w, h.logger, "record view", err)
		return
	}
	response.OK(w, record)
}

func (h *ContentHandler) HasViewed(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	viewed, err := h.views.HasViewed(r.Context(), contentID, userID)
	if err != nil {
		writeError(w, h.logger, "has viewed", err)
		return
	}
	response.OK(w, map[string]bool{"viewed": viewed})
}

func (h *ContentHandler) ViewerCount(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	count, err := h.views.ViewerCount(r.Context(), contentID, userID)
	if err != nil {
		writeError(w, h.logger, "viewer count", err)
		return
	}
	response.OK(w, map[string]int{"count": count})
}

func (h *ContentHandler) ReportScreenshot(w http.ResponseWriter, r *http.Request) {
	userID, contentID, ok := h.identify(w, r)
	if !ok {
		return
	}

	record, err := h.views.ReportScreenshot(r.Context(), contentID, userID, h.content.Now())
	if err != nil {
		writeError(w, h.logger, "report screenshot", err)
		return
	}
	response.OK(w, record)
}

// identify pulls the caller and the {id} path parameter, writing the error response itself
func (h *ContentHandler) identify(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	contentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid content id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, contentID, true
}
