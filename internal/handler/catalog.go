package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// CachePurger drops cached catalog responses after a write.
type CachePurger interface {
	Purge(ctx context.Context, prefix string) error
}

// CatalogHandler lists room categories publicly and lets staff manage them.
type CatalogHandler struct {
	Catalog     ledger.Catalog
	Cache       CachePurger
	CachePrefix string
	Log         *zap.Logger
}

func NewCatalogHandler(catalog ledger.Catalog, cache CachePurger, prefix string, log *zap.Logger) *CatalogHandler {
	if catalog == nil {
		panic("nil catalog passed to NewCatalogHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogHandler{Catalog: catalog, Cache: cache, CachePrefix: prefix, Log: log}
}

type categoryReq struct {
	Name       string `json:"name" validate:"required,max=100"`
	TotalUnits int    `json:"total_units" validate:"required,gt=0,lte=10000"`
	Active     *bool  `json:"active"`
}

// List answers GET /v1/room-categories with the active categories.
func (h *CatalogHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	all, err := h.Catalog.ListCategories(ctx)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]model.RoomCategory, 0, len(all))
	for _, cat := range all {
		if cat.Active {
			items = append(items, cat)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Create answers POST /v1/admin/room-categories.
func (h *CatalogHandler) Create(c echo.Context) error {
	var req categoryReq
	if err := bind(c, &req); err != nil {
		return err
	}
	cat := &model.RoomCategory{Name: strings.TrimSpace(req.Name), TotalUnits: req.TotalUnits, Active: true}
	if req.Active != nil {
		cat.Active = *req.Active
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	if err := h.Catalog.CreateCategory(ctx, cat); err != nil {
		return h.catalogError(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusCreated, cat)
}

// Update answers PUT /v1/admin/room-categories/:id.  Capacity can only
// change while the category has no reservations.
func (h *CatalogHandler) Update(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid room category id")
	}
	var req categoryReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	cat, err := h.Catalog.RoomCategory(ctx, id)
	if err != nil {
		return h.catalogError(c, err)
	}
	cat.Name = strings.TrimSpace(req.Name)
	cat.TotalUnits = req.TotalUnits
	if req.Active != nil {
		cat.Active = *req.Active
	}
	if err := h.Catalog.UpdateCategory(ctx, cat); err != nil {
		return h.catalogError(c, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, cat)
}

func (h *CatalogHandler) catalogError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "room category not found"})
	case errors.Is(err, ledger.ErrDuplicateName):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_name", "message": err.Error()})
	case errors.Is(err, ledger.ErrCapacityLocked):
		return c.JSON(http.StatusConflict, echo.Map{"error": "capacity_locked", "message": err.Error()})
	}
	return writeError(c, err)
}

func (h *CatalogHandler) purge(ctx context.Context) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Purge(context.WithoutCancel(ctx), h.CachePrefix); err != nil {
		h.Log.Warn("catalog cache purge failed", zap.Error(err))
	}
}
