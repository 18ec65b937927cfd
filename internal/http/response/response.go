package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molehq/molesearch-backend/internal/platform/apierr"
)

// Envelope is the uniform wire shape: success carries data, failure
// carries the error.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Accepted acknowledges an async operation; data carries the task id.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Envelope{Success: true, Data: data})
}

// Error maps the error's kind to an HTTP status and emits the failure
// envelope. Unkinded errors come out as 500s.
func Error(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(apierr.HTTPStatus(kind), Envelope{
		Success: false,
		Error: &APIError{
			Message: msg,
			Code:    string(kind),
		},
	})
}

// BindError wraps request binding failures as validation errors.
func BindError(c *gin.Context, err error) {
	Error(c, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
}

// AbortUnauthorized emits the failure envelope and stops the chain.
func AbortUnauthorized(c *gin.Context, err error) {
	msg := "unauthorized"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{
		Success: false,
		Error: &APIError{
			Message: msg,
			Code:    string(apierr.KindUnauthorized),
		},
	})
}
