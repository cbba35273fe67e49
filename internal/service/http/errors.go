package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// StatusCode сопоставляет класс ошибки HTTP-статусу.
func StatusCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNone:
		return http.StatusOK
	case domain.KindValidationFailed:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"path":       c.FullPath(),
			"error_kind": domain.KindOf(err),
		}).Warn("request failed")
	}
	c.JSON(code, gin.H{
		"error": domain.PublicMessage(err),
		"kind":  domain.KindOf(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  domain.KindValidationFailed,
	})
}
