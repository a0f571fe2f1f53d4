package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicbridge/intake/internal/services"
	"github.com/clinicbridge/intake/pkg/response"
)

// PatientHandler exposes provider-side patient management.
type PatientHandler struct {
	patients *services.PatientService
}

func NewPatientHandler(patients *services.PatientService) *PatientHandler {
	return &PatientHandler{patients: patients}
}

type createPatientRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=120"`
	LastName    string `json:"last_name" validate:"max=120"`
	DateOfBirth string `json:"date_of_birth" validate:"required,dateonly"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"max=40"`
}

// POST /api/patients
func (h *PatientHandler) Create(c *gin.Context) {
	var req createPatientRequest
	if !bindAndValidate(c, &req) {
		return
	}

	patient, err := h.patients.Create(requestContext(c), services.CreatePatientInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		Phone:       req.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, patient)
}

// GET /api/patients
func (h *PatientHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	patients, total, err := h.patients.List(requestContext(c), services.ListPatientsOptions{
		Page:     page,
		PageSize: pageSize,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, patients, &response.Meta{
		Page:    page,
		PerPage: pageSize,
		Total:   int(total),
	})
}

// GET /api/patients/:id
func (h *PatientHandler) Get(c *gin.Context) {
	patient, err := h.patients.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, patient)
}

type updatePatientRequest struct {
	FirstName   *string `json:"first_name" validate:"omitempty,max=120"`
	LastName    *string `json:"last_name" validate:"omitempty,max=120"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,dateonly"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone" validate:"omitempty,max=40"`
}

// PATCH /api/patients/:id
func (h *PatientHandler) Update(c *gin.Context) {
	var req updatePatientRequest
	if !bindAndValidate(c, &req) {
		return
	}

	patient, err := h.patients.Update(requestContext(c), c.Param("id"), services.UpdatePatientInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		Phone:       req.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, patient)
}
