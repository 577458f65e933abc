package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithCreated sends a 201 success response
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
		appErr = errors.NewInternal(err)
	}

	status := appErr.Code.HTTPStatus()
	message := appErr.Message
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}

	c.AbortWithStatusJSON(status, Response{
		Status:  "error",
		Message: message,
		Error: &Error{
			Code:    appErr.Code.String(),
			Details: appErr.Details,
		},
	})
}
