package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"concierge/internal/dsl"
	"concierge/internal/model"
	"concierge/internal/repository"
)

// POST /query
// Compile errors are 400; a statement that fails at execution is 500.
func QueryHandler(query *repository.Query) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dsl.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, model.NewFieldError(model.CodeInvalid, "body", "Invalid JSON"))
			return
		}
		res, err := query.Run(c.Request.Context(), req)
		if err != nil {
			switch model.KindOf(err) {
			case model.KindValidation, model.KindUnsupportedOperator:
				writeError(c, err)
			default:
				loggerFrom(c).Error("query execution failed", zap.String("from", req.From), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Query execution failed"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"query": res.Request,
			"total": len(res.Items),
			"items": res.Items,
		})
	}
}
