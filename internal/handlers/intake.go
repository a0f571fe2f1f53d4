package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicbridge/intake/internal/services"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/response"
)

// IntakeHandler serves the public, token-addressed intake flow. None of these
// routes require a provider login; the link token is the credential.
type IntakeHandler struct {
	links   *services.LinkService
	intakes *services.IntakeService
}

func NewIntakeHandler(links *services.LinkService, intakes *services.IntakeService) *IntakeHandler {
	return &IntakeHandler{links: links, intakes: intakes}
}

// GET /intake/:token/info
func (h *IntakeHandler) Info(c *gin.Context) {
	info, err := h.links.Inspect(requestContext(c), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, info)
}

type verifyRequest struct {
	DateOfBirth string `json:"date_of_birth" validate:"required"`
}

// POST /intake/:token/verify
func (h *IntakeHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.links.Verify(requestContext(c), c.Param("token"), req.DateOfBirth)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

type submitRequest struct {
	Responses json.RawMessage `json:"responses" validate:"required"`
	Consent   bool            `json:"consent"`
}

// POST /intake/:token/submit
func (h *IntakeHandler) Submit(c *gin.Context) {
	var req submitRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.intakes.Submit(requestContext(c), c.Param("token"), services.SubmitInput{
		Responses: req.Responses,
		Consent:   req.Consent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// The patient sees a receipt, never the red flags.
	response.Success(c, http.StatusCreated, gin.H{
		"intake_id":    result.Intake.ID,
		"completed_at": result.Intake.CompletedAt,
	})
}

// IntakeReviewHandler serves provider-side intake review.
type IntakeReviewHandler struct {
	intakes *services.IntakeService
}

func NewIntakeReviewHandler(intakes *services.IntakeService) *IntakeReviewHandler {
	return &IntakeReviewHandler{intakes: intakes}
}

// GET /api/intakes/:id
func (h *IntakeReviewHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("intake id is required"))
		return
	}

	intake, flags, err := h.intakes.GetByID(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"intake":    intake,
		"red_flags": flags,
	})
}
