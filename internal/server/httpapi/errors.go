package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/villagecompute/posoffline/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps sentinel errors to HTTP statuses. Unknown errors are
// reported as 500 without leaking their text.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, common.ErrDeviceNotActive), errors.Is(err, common.ErrForeignDevice):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, common.ErrInvalidPairingCode), errors.Is(err, common.ErrPairingCodeExpired):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}

func invalidRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: detail})
}
