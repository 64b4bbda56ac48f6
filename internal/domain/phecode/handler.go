package phecode

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/phemap/phemap/pkg/pagination"
)

// Handler exposes catalog lookups over HTTP. Collection-shaped results stay
// 200 with empty arrays when nothing matches; only the single-resource
// definition endpoint maps absence to 404.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the lookup endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/phecodes", h.ListPhecodes)
	api.GET("/phecodes/:code", h.GetPhecode)
	api.GET("/phecodes/:code/icd10", h.GetICDForPhecode)
	api.GET("/phecodes/:code/exclusions", h.GetExclusions)
	api.GET("/icd10/:code/phecodes", h.GetPhecodesForICD10)
	api.GET("/catalog", h.GetCatalog)
}

// pathCode extracts the :code path parameter, rejecting blank values.
func pathCode(c echo.Context) (string, error) {
	code := c.Param("code")
	if strings.TrimSpace(code) == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	return code, nil
}

func (h *Handler) ListPhecodes(c echo.Context) error {
	p := pagination.FromContext(c)

	defs, total, err := h.svc.List(c.Request().Context(), c.QueryParam("q"), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "phecode list failed")
	}
	if defs == nil {
		defs = []Definition{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(defs, total, p.Limit, p.Offset))
}

func (h *Handler) GetPhecode(c echo.Context) error {
	code, err := pathCode(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Definition(c.Request().Context(), code)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "phecode lookup failed")
	}
	if d == nil {
		return echo.NewHTTPError(http.StatusNotFound, "phecode not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetICDForPhecode(c echo.Context) error {
	code, err := pathCode(c)
	if err != nil {
		return err
	}
	codes, err := h.svc.ICDForPhecode(c.Request().Context(), code)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "icd10 lookup failed")
	}
	if codes == nil {
		codes = []string{}
	}
	return c.JSON(http.StatusOK, ICDListResponse{Phecode: code, ICD10: codes})
}

func (h *Handler) GetExclusions(c echo.Context) error {
	code, err := pathCode(c)
	if err != nil {
		return err
	}
	codes, err := h.svc.Exclusions(c.Request().Context(), code)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "exclusion lookup failed")
	}
	if codes == nil {
		codes = []string{}
	}
	return c.JSON(http.StatusOK, ExclusionsResponse{Phecode: code, Exclusions: codes})
}

func (h *Handler) GetPhecodesForICD10(c echo.Context) error {
	code, err := pathCode(c)
	if err != nil {
		return err
	}
	codes, err := h.svc.PhecodesForICD10(c.Request().Context(), code)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "phecode lookup failed")
	}
	if codes == nil {
		codes = []string{}
	}
	return c.JSON(http.StatusOK, PhecodeListResponse{ICD10: code, Phecodes: codes})
}

func (h *Handler) GetCatalog(c echo.Context) error {
	counts, err := h.svc.Counts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "catalog summary failed")
	}
	return c.JSON(http.StatusOK, counts)
}
