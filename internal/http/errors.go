package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"taskhub/internal/domain"
)

type errorResponse struct {
	Code   domain.ErrorCode  `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrCodeInvalid:
		return http.StatusBadRequest
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrCodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var dErr *domain.Error
	if !errors.As(err, &dErr) || dErr.Code == domain.ErrCodeInternal {
		_ = c.Error(err)
		h.logger.WithField("request_id", c.GetString(requestIDKey)).Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, errorResponse{
			Code:  domain.ErrCodeInternal,
			Error: "internal server error",
		})
		return
	}
	c.JSON(statusFor(dErr.Code), errorResponse{
		Code:   dErr.Code,
		Error:  dErr.Message,
		Fields: dErr.Fields,
	})
}

// bindJSON decodes the body into req and writes a 400 on failure.
func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.writeError(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	fields := map[string]string{}

	var verrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var fErr *fieldError
	switch {
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			fields[fe.Field()] = validationMessage(fe)
		}
	case errors.As(err, &typeErr):
		fields[typeErr.Field] = "invalid type"
	case errors.As(err, &fErr):
		fields[fErr.Field] = fErr.Message
	case errors.Is(err, io.EOF):
		fields["non_field_errors"] = "request body is empty"
	default:
		fields["non_field_errors"] = "malformed JSON"
	}
	return domain.ValidationError(fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "ensure this field has no more than " + fe.Param() + " characters"
	case "min":
		return "ensure this field has at least " + fe.Param() + " characters"
	case "email":
		return "enter a valid email address"
	}
	return "invalid value"
}

var registerTagNames sync.Once

// useJSONFieldNames makes validator report fields by their JSON names.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// fieldError is returned by custom JSON decoders so the failing field can be reported.
type fieldError struct {
	Field   string
	Message string
}

func (e *fieldError) Error() string {
	return e.Field + ": " + e.Message
}
