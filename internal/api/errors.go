package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"concierge/internal/model"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation, model.KindUnsupportedOperator:
		return http.StatusBadRequest
	case model.KindNotFound, model.KindInvalidReference:
		return http.StatusNotFound
	case model.KindConflict, model.KindVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// messageFor is the client-facing summary; causes stay in the log.
func messageFor(kind model.Kind) string {
	switch kind {
	case model.KindValidation:
		return "Validation error"
	case model.KindNotFound:
		return "Not found"
	case model.KindConflict:
		return "Already exists"
	case model.KindInvalidReference:
		return "Referenced entity not found"
	case model.KindVersionConflict:
		return "Version conflict"
	case model.KindUnsupportedOperator:
		return "Unsupported operator"
	default:
		return "Service unavailable"
	}
}

// writeError renders err with the errors envelope. Business errors carry
// their message and field detail; anything else is logged and hidden.
func writeError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	if kind == model.KindUnknown {
		kind = model.KindUnavailable
	}
	status := statusFor(kind)
	body := gin.H{"error": messageFor(kind)}

	if kind == model.KindUnavailable {
		loggerFrom(c).Error("request failed", zap.Error(err))
		c.JSON(status, body)
		return
	}

	var e *model.Error
	if errors.As(err, &e) && e.Msg != "" {
		body["message"] = e.Msg
	}
	fields := model.FieldsOf(err)
	if fields == nil {
		fields = []model.FieldError{}
	}
	body["errors"] = fields
	c.JSON(status, body)
}

// badRequest is the shortcut for request-shape errors found in the handler.
func badRequest(c *gin.Context, fields ...model.FieldError) {
	writeError(c, model.Validation(fields...))
}
