package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, models.APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// respondError renders err in the response envelope. Internal causes are
// shown for client errors only.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	detail := appErr.Message
	if status < http.StatusInternalServerError {
		detail = appErr.Error()
	} else {
		logger.WithModule("http").Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(err))
	}

	c.JSON(status, models.APIResponse{
		Success: false,
		Error:   detail,
		Code:    appErr.Code,
		Message: http.StatusText(status),
	})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperrors.ErrBadRequest.WithInternal(err))
}

func errInvalidQuery(param string) error {
	return fmt.Errorf("query parameter %q must be a positive integer", param)
}
