package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/service"
	"github.com/makeasinger/enrichment/pkg/response"
)

const maxBatchLimit = 100

type EnrichmentHandler struct {
	service   *service.EnrichmentService
	validator *validator.Validate
}

func NewEnrichmentHandler(svc *service.EnrichmentService, v *validator.Validate) *EnrichmentHandler {
	return &EnrichmentHandler{
		service:   svc,
		validator: v,
	}
}

// CreateJob handles POST /api/enrichment/jobs
func (h *EnrichmentHandler) CreateJob(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.CreateJob(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, job)
}

// GetJob handles GET /api/enrichment/jobs/:jobId
func (h *EnrichmentHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// ProcessJob handles POST /api/enrichment/jobs/:jobId/process
func (h *EnrichmentHandler) ProcessJob(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.ProcessJob(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrConflict) {
			return response.Conflict(c, "Job was modified concurrently, retry the request")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// ProcessJobs handles POST /api/enrichment/process?limit=
func (h *EnrichmentHandler) ProcessJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxBatchLimit {
		return response.ValidationError(c, "limit must be between 1 and 100", nil)
	}

	result, err := h.service.ProcessJobs(c.UserContext(), limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Stats handles GET /api/enrichment/stats
func (h *EnrichmentHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, stats)
}

// Similar handles POST /api/enrichment/similar
func (h *EnrichmentHandler) Similar(c *fiber.Ctx) error {
	var req model.SimilarByEmbeddingRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	matches, err := h.service.FindSimilar(c.UserContext(), &req)
	if err != nil {
		return response.AnalysisError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"matches": matches})
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
