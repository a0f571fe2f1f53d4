package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicbridge/intake/internal/services"
	"github.com/clinicbridge/intake/pkg/response"
)

// AuthHandler manages provider login.
type AuthHandler struct {
	providers *services.ProviderService
}

func NewAuthHandler(providers *services.ProviderService) *AuthHandler {
	return &AuthHandler{providers: providers}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.providers.Login(requestContext(c), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token": result.Token,
		"user": gin.H{
			"id":           result.User.ID,
			"username":     result.User.Username,
			"display_name": result.User.DisplayName,
		},
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.providers.GetByID(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
	})
}
