package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/gin-gonic/gin"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func statusFor(kind common.Kind) int {
	switch kind {
	case common.KindValidation:
		return http.StatusUnprocessableEntity
	case common.KindAuthentication:
		return http.StatusUnauthorized
	case common.KindAuthorization:
		return http.StatusForbidden
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status code and aborts the request. Internal
// errors are logged with their cause and reported without detail.
func (h *handler) writeError(c *gin.Context, err error) {
	var e *common.Error
	if !errors.As(err, &e) || e.Kind == common.KindInternal {
		h.logger.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Message: common.ErrorInternal.Message})
		return
	}
	c.AbortWithStatusJSON(statusFor(e.Kind), errorResponse{Message: e.Message, Data: e.Data})
}
