package handlers

import (
	"errors"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"utility-cms/internal/api/middleware"
	"utility-cms/internal/services"
)

// RespondError maps a service error to its HTTP status. Stack traces are
// only exposed when gin runs in debug mode.
func RespondError(c *gin.Context, err error) {
	var (
		ferr *services.ForbiddenError
		verr *services.ValidationError
		nerr *services.NotFoundError
		cerr *services.ConflictError
	)

	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.As(err, &ferr):
		c.JSON(http.StatusForbidden, gin.H{"error": ferr.Message, "rule": ferr.Rule})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": verr.Fields})
	case errors.As(err, &nerr):
		c.JSON(http.StatusNotFound, gin.H{"error": nerr.Error()})
	case errors.As(err, &cerr):
		c.JSON(http.StatusConflict, gin.H{"error": cerr.Error(), "field": cerr.Field})
	default:
		_ = c.Error(err)
		body := gin.H{
			"error":      "Internal server error",
			"request_id": middleware.GetRequestID(c),
		}
		if gin.Mode() == gin.DebugMode {
			body["details"] = err.Error()
			body["stack"] = string(debug.Stack())
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

// RespondBindError reports a request body that failed binding.
func RespondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describeTag(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid address"
	case "min":
		return "must have at least " + fe.Param() + " items"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}

// UseJSONFieldNames makes validation errors report JSON keys instead of Go
// field names.
func UseJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}
