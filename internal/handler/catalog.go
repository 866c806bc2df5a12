package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/service"
	"github.com/makeasinger/enrichment/pkg/response"
)

const maxUpdatesLimit = 1000

type CatalogHandler struct {
	catalog   catalog.Gateway
	features  catalog.FeatureStore
	syncer    *service.Syncer
	validator *validator.Validate
}

// NewCatalogHandler wires the catalog read API. syncer may be nil, in which
// case manual sync is unavailable.
func NewCatalogHandler(gw catalog.Gateway, features catalog.FeatureStore, syncer *service.Syncer, v *validator.Validate) *CatalogHandler {
	return &CatalogHandler{
		catalog:   gw,
		features:  features,
		syncer:    syncer,
		validator: v,
	}
}

func entityParams(c *fiber.Ctx) (model.EntityType, string, error) {
	entityType := model.EntityType(c.Params("type"))
	if !entityType.IsValid() {
		return "", "", fmt.Errorf("unknown entity type %q", entityType)
	}
	id := c.Params("id")
	if id == "" {
		return "", "", errors.New("entity id is required")
	}
	return entityType, id, nil
}

// Get handles GET /api/catalog/:type/:id
func (h *CatalogHandler) Get(c *fiber.Ctx) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	entity, ok := h.catalog.Lookup(c.UserContext(), entityType, id)
	if !ok {
		return response.NotFound(c, "Entity not found")
	}

	etag := entity.Meta().ETag
	if etag != "" {
		if c.Get(fiber.HeaderIfNoneMatch) == etag {
			return c.SendStatus(fiber.StatusNotModified)
		}
		c.Set(fiber.HeaderETag, etag)
	}
	return response.OK(c, entity)
}

// Search handles GET /api/catalog/search
func (h *CatalogHandler) Search(c *fiber.Ctx) error {
	var q model.SearchQuery
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&q); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	return response.OK(c, h.catalog.Search(c.UserContext(), q))
}

// Rights handles GET /api/catalog/rights/:type/:id?country=&explicitOk=
func (h *CatalogHandler) Rights(c *fiber.Ctx) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	country := c.Query("country")
	if country != "" && len(country) != 2 {
		return response.ValidationError(c, "country must be an ISO 3166-1 alpha-2 code", nil)
	}
	explicitOK := c.QueryBool("explicitOk", true)

	return response.OK(c, h.catalog.CheckRights(c.UserContext(), entityType, id, country, explicitOK))
}

// Updates handles GET /api/catalog/updates?since=&until=&limit=
func (h *CatalogHandler) Updates(c *fiber.Ctx) error {
	since, err := parseTime(c.Query("since"))
	if err != nil {
		return response.ValidationError(c, "since must be an RFC 3339 timestamp", nil)
	}
	until, err := parseTime(c.Query("until"))
	if err != nil {
		return response.ValidationError(c, "until must be an RFC 3339 timestamp", nil)
	}
	limit := c.QueryInt("limit", 0)
	if limit < 0 || limit > maxUpdatesLimit {
		return response.ValidationError(c, "limit must be between 1 and 1000", nil)
	}

	page, err := h.catalog.GetUpdates(c.UserContext(), since, until, limit)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidRange) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}
	if page.Events == nil {
		page.Events = []model.UpdateEvent{}
	}

	return response.OK(c, page)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Features handles GET /api/catalog/features/:type/:id
func (h *CatalogHandler) Features(c *fiber.Ctx) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	records := make([]*model.FeatureRecord, 0, len(model.ValidEnrichmentTypes))
	for _, kind := range model.ValidEnrichmentTypes {
		rec, ok, err := h.features.Get(c.UserContext(), entityType, id, kind)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		if ok {
			records = append(records, rec)
		}
	}

	return response.OK(c, fiber.Map{
		"entityType": entityType,
		"entityId":   id,
		"features":   records,
	})
}

// Sync handles POST /api/catalog/sync
func (h *CatalogHandler) Sync(c *fiber.Ctx) error {
	if h.syncer == nil {
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceError, "Catalog sync is disabled", nil)
	}

	result, err := h.syncer.SyncOnce(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
