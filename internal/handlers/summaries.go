package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicbridge/intake/internal/services"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/response"
)

// SummaryHandler exposes the provider-side summary pipeline, including the
// streaming variant used by the review screen.
type SummaryHandler struct {
	summaries *services.SummaryService
}

func NewSummaryHandler(summaries *services.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// POST /api/intakes/:id/summary
func (h *SummaryHandler) Generate(c *gin.Context) {
	dto, err := h.summaries.Generate(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// streamEvent is one server-sent event frame on the streaming endpoint.
type streamEvent struct {
	Chunk string `json:"chunk,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// GET /api/intakes/:id/summary/stream
//
// Server-sent events: each model chunk is flushed as a data frame the moment
// it arrives, and a final frame with done=true follows once the summary has
// been persisted. If the client disconnects mid-stream nothing is stored.
func (h *SummaryHandler) GenerateStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	write := func(event streamEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err := h.summaries.GenerateStream(requestContext(c), c.Param("id"), func(chunk string) error {
		return write(streamEvent{Chunk: chunk})
	})
	if err != nil {
		// The connection may already be gone; a best-effort error frame is
		// all that is possible on an open event stream.
		appErr := apperrors.FromError(err)
		_ = write(streamEvent{Error: appErr.Code})
		return
	}

	_ = write(streamEvent{Done: true})
}

// GET /api/intakes/:id/summary
func (h *SummaryHandler) GetForIntake(c *gin.Context) {
	dto, err := h.summaries.GetByIntake(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

type editSummaryRequest struct {
	Edits map[string]string `json:"edits" validate:"required"`
}

// PATCH /api/summaries/:id
func (h *SummaryHandler) Edit(c *gin.Context) {
	var req editSummaryRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if len(req.Edits) == 0 {
		response.Error(c, apperrors.NewBadRequest("edits are required"))
		return
	}

	dto, err := h.summaries.ApplyDoctorEdits(requestContext(c), c.Param("id"), req.Edits, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// GET /api/summaries/:id
func (h *SummaryHandler) Get(c *gin.Context) {
	dto, err := h.summaries.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}
