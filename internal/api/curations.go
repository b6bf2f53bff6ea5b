package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"concierge/internal/model"
	"concierge/internal/repository"
)

// POST /curations
func CreateCurationHandler(curations *repository.Curations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req curationCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, model.NewFieldError(model.CodeInvalid, "body", "Invalid JSON"))
			return
		}
		cur, err := curations.Create(c.Request.Context(),
			strings.TrimSpace(req.ID), strings.TrimSpace(req.EntityID), req.Doc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(cur.Version))
		c.JSON(http.StatusCreated, cur)
	}
}

// GET /curations/:id
func GetCurationHandler(curations *repository.Curations) gin.HandlerFunc {
	return func(c *gin.Context) {
		cur, err := curations.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(cur.Version))
		c.JSON(http.StatusOK, cur)
	}
}

// PATCH /curations/:id
func UpdateCurationHandler(curations *repository.Curations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, model.NewFieldError(model.CodeInvalid, "body", "Invalid JSON"))
			return
		}
		expected, fe := readExpectedVersion(c, req.Version)
		if fe != nil {
			badRequest(c, *fe)
			return
		}
		cur, err := curations.Update(c.Request.Context(), c.Param("id"), req.Doc, expected)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(cur.Version))
		c.JSON(http.StatusOK, cur)
	}
}

// DELETE /curations/:id
func DeleteCurationHandler(curations *repository.Curations) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		removed, err := curations.Delete(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !removed {
			writeError(c, model.Errorf(model.KindNotFound, "curation %q not found", id))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /curations/search?category=&concept=&limit=
func SearchCurationsHandler(curations *repository.Curations, lim Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		category := strings.TrimSpace(q.Get("category"))
		concept := q.Get("concept")
		lp, errs := parseListParams(q, lim.Default, lim.Max)
		if len(errs) > 0 {
			badRequest(c, errs...)
			return
		}
		items, err := curations.FindByCategoryConcept(c.Request.Context(), category, concept, lp.Limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"category": category, "concept": concept, "curations": items})
	}
}
