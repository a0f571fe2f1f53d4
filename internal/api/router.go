package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	iauth "github.com/clinicbridge/intake/internal/auth"
	"github.com/clinicbridge/intake/internal/handlers"
	"github.com/clinicbridge/intake/internal/middleware"
	"github.com/clinicbridge/intake/internal/services"
)

// Deps bundles the services the HTTP surface is built from.
type Deps struct {
	JWT       *iauth.JWTService
	Providers *services.ProviderService
	Patients  *services.PatientService
	Links     *services.LinkService
	Intakes   *services.IntakeService
	Summaries *services.SummaryService
	Audit     *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// The public /intake surface is token-addressed and unauthenticated; everything
// under /api past login requires a provider JWT.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Providers == nil || deps.Patients == nil || deps.Links == nil || deps.Intakes == nil || deps.Summaries == nil {
		return nil, fmt.Errorf("all services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public patient-facing routes. Verification is rate limited on top of
	// the per-link attempt counter.
	intakeHandler := handlers.NewIntakeHandler(deps.Links, deps.Intakes)
	public := r.Group("/intake/:token")
	public.Use(middleware.RateLimit(30, time.Minute))
	{
		public.GET("/info", intakeHandler.Info)
		public.POST("/verify", middleware.RateLimit(10, time.Minute), intakeHandler.Verify)
		public.POST("/submit", intakeHandler.Submit)
	}

	authHandler := handlers.NewAuthHandler(deps.Providers)
	r.POST("/api/auth/login", middleware.RateLimit(10, time.Minute), authHandler.Login)

	// Protected provider routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	api.GET("/auth/me", authHandler.Me)

	patientHandler := handlers.NewPatientHandler(deps.Patients)
	linkHandler := handlers.NewLinkHandler(deps.Links)
	patients := api.Group("/patients")
	{
		patients.POST("", patientHandler.Create)
		patients.GET("", patientHandler.List)
		patients.GET("/:id", patientHandler.Get)
		patients.PATCH("/:id", patientHandler.Update)
		patients.GET("/:id/links", linkHandler.ListForPatient)
	}

	api.POST("/links", linkHandler.Issue)

	reviewHandler := handlers.NewIntakeReviewHandler(deps.Intakes)
	summaryHandler := handlers.NewSummaryHandler(deps.Summaries)
	intakes := api.Group("/intakes")
	{
		intakes.GET("/:id", reviewHandler.Get)
		intakes.GET("/:id/summary", summaryHandler.GetForIntake)
		intakes.POST("/:id/summary", summaryHandler.Generate)
		intakes.GET("/:id/summary/stream", summaryHandler.GenerateStream)
	}

	summaries := api.Group("/summaries")
	{
		summaries.GET("/:id", summaryHandler.Get)
		summaries.PATCH("/:id", summaryHandler.Edit)
	}

	if deps.Audit != nil {
		auditHandler := handlers.NewAuditHandler(deps.Audit)
		api.GET("/audit", auditHandler.List)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
