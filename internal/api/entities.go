package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"concierge/internal/model"
	"concierge/internal/repository"
)

// POST /entities
func CreateEntityHandler(entities *repository.Entities) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entityCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, model.NewFieldError(model.CodeInvalid, "body", "Invalid JSON"))
			return
		}
		e, err := entities.Create(c.Request.Context(), strings.TrimSpace(req.ID), strings.TrimSpace(req.Type), req.Doc)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(e.Version))
		c.JSON(http.StatusCreated, e)
	}
}

// GET /entities/:id
func GetEntityHandler(entities *repository.Entities) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := entities.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(e.Version))
		c.JSON(http.StatusOK, e)
	}
}

// PATCH /entities/:id
func UpdateEntityHandler(entities *repository.Entities) gin.HandlerFunc {
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
		e, err := entities.Update(c.Request.Context(), c.Param("id"), req.Doc, expected)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("ETag", etag(e.Version))
		c.JSON(http.StatusOK, e)
	}
}

// DELETE /entities/:id
func DeleteEntityHandler(entities *repository.Entities) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		removed, err := entities.Delete(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !removed {
			writeError(c, model.Errorf(model.KindNotFound, "entity %q not found", id))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /entities?type=&name=&limit=&offset=
// name takes precedence over type when both are given.
func ListEntitiesHandler(entities *repository.Entities, lim Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		typ := strings.TrimSpace(q.Get("type"))
		name := strings.TrimSpace(q.Get("name"))
		if typ == "" && name == "" {
			writeError(c, &model.Error{
				Kind: model.KindValidation,
				Msg:  "Must provide 'type' or 'name' parameter",
				Fields: []model.FieldError{
					model.NewFieldError(model.CodeRequired, "type", "type or name is required"),
				},
			})
			return
		}
		lp, errs := parseListParams(q, lim.Default, lim.Max)
		if len(errs) > 0 {
			badRequest(c, errs...)
			return
		}

		var (
			items []*model.Entity
			err   error
		)
		if name != "" {
			items, err = entities.SearchByName(c.Request.Context(), name, lp.Limit, lp.Offset)
		} else {
			items, err = entities.ListByType(c.Request.Context(), typ, lp.Limit, lp.Offset)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "limit": lp.Limit, "offset": lp.Offset})
	}
}

// GET /entities/:id/curations
func EntityCurationsHandler(curations *repository.Curations, lim Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		lp, errs := parseListParams(c.Request.URL.Query(), lim.Default, lim.Max)
		if len(errs) > 0 {
			badRequest(c, errs...)
			return
		}
		items, err := curations.ListByEntity(c.Request.Context(), id, lp.Limit, lp.Offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entity_id": id, "curations": items})
	}
}
