package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/colegio-digital/enrollment-api/internal/service"
	"github.com/colegio-digital/enrollment-api/pkg/response"
)

// CatalogHandler serves the public reference catalog.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Provinces godoc
// @Summary List provinces
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog/provinces [get]
func (h *CatalogHandler) Provinces(c *gin.Context) {
	provinces, err := h.catalog.Provinces(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, provinces, nil)
}

// Departments godoc
// @Summary List departments of a province
// @Tags Catalog
// @Produce json
// @Param id path string true "Province ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/provinces/{id}/departments [get]
func (h *CatalogHandler) Departments(c *gin.Context) {
	departments, err := h.catalog.Departments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, departments, nil)
}

// Localities godoc
// @Summary List localities of a department
// @Tags Catalog
// @Produce json
// @Param id path string true "Department ID"
// @Success 200 {object} response.Envelope
// @Router /catalog/departments/{id}/localities [get]
func (h *CatalogHandler) Localities(c *gin.Context) {
	localities, err := h.catalog.Localities(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, localities, nil)
}

// Levels godoc
// @Summary List education levels
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog/levels [get]
func (h *CatalogHandler) Levels(c *gin.Context) {
	levels, err := h.catalog.Levels(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, levels, nil)
}

// SourceSchools godoc
// @Summary List source schools
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog/source-schools [get]
func (h *CatalogHandler) SourceSchools(c *gin.Context) {
	schools, err := h.catalog.SourceSchools(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schools, nil)
}
