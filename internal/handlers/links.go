package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinicbridge/intake/internal/services"
	apperrors "github.com/clinicbridge/intake/pkg/errors"
	"github.com/clinicbridge/intake/pkg/response"
)

// LinkHandler exposes provider-side link issuance and history.
type LinkHandler struct {
	links *services.LinkService
}

func NewLinkHandler(links *services.LinkService) *LinkHandler {
	return &LinkHandler{links: links}
}

type issueLinkRequest struct {
	PatientID            string `json:"patient_id" validate:"required"`
	TTLHours             int    `json:"ttl_hours" validate:"omitempty,min=1,max=720"`
	RequiresVerification *bool  `json:"requires_verification"`
}

const defaultLinkTTLHours = 72

// POST /api/links
func (h *LinkHandler) Issue(c *gin.Context) {
	var req issueLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ttlHours := req.TTLHours
	if ttlHours <= 0 {
		ttlHours = defaultLinkTTLHours
	}
	requiresVerification := true
	if req.RequiresVerification != nil {
		requiresVerification = *req.RequiresVerification
	}

	issued, err := h.links.Issue(requestContext(c), services.IssueLinkInput{
		PatientID:            req.PatientID,
		TTL:                  time.Duration(ttlHours) * time.Hour,
		RequiresVerification: requiresVerification,
		IssuedBy:             currentUserID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// The raw token appears here once and is never retrievable again.
	response.Success(c, http.StatusCreated, gin.H{
		"id":         issued.Link.ID,
		"patient_id": issued.Link.PatientID,
		"token":      issued.Token,
		"url":        issued.URL,
		"expires_at": issued.Link.ExpiresAt,
	})
}

// GET /api/patients/:id/links
func (h *LinkHandler) ListForPatient(c *gin.Context) {
	patientID := c.Param("id")
	if patientID == "" {
		response.Error(c, apperrors.NewBadRequest("patient id is required"))
		return
	}

	links, err := h.links.ListForPatient(requestContext(c), patientID)
	if err != nil {
		response.Error(c, err)
		return
	}

	now := time.Now()
	items := make([]gin.H, 0, len(links))
	for _, link := range links {
		items = append(items, gin.H{
			"id":                    link.ID,
			"state":                 link.StateAt(now),
			"expires_at":            link.ExpiresAt,
			"requires_verification": link.RequiresVerification,
			"verification_attempts": link.VerificationAttempts,
			"created_at":            link.CreatedAt,
		})
	}

	response.Success(c, http.StatusOK, items)
}
