// Package httpapi — REST-шлюз к оркестратору заказов на gin.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// EndpointPrefix — префикс версии REST API.
const EndpointPrefix = "/api/v1"

// Handler обслуживает REST-запросы к заказам.
type Handler struct {
	orders   orders.Orchestrator
	timeline domain.TimelineRepository
	logger   *log.Entry
}

// NewHandler создаёт обработчик. timeline может быть nil.
func NewHandler(orchestrator orders.Orchestrator, timeline domain.TimelineRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{
		orders:   orchestrator,
		timeline: timeline,
		logger:   logger,
	}
}

// API собирает gin.Engine с маршрутами заказов.
func API(h *Handler, mode string) *gin.Engine {
	if mode == gin.ReleaseMode || mode == gin.TestMode {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(RequestLogger(h.logger), gin.Recovery())

	r.GET("/ping", HealthCheck)
	v1 := r.Group(EndpointPrefix)
	{
		v1.POST("/orders", h.CreateOrder)
		v1.GET("/orders", h.FindAllOrders)
		v1.GET("/orders/:id", h.FindOneOrder)
		v1.PATCH("/orders/:id", h.ChangeOrderStatus)
		v1.POST("/orders/:id/payment-session", h.CreatePaymentSession)
		v1.POST("/payments/succeeded", h.OrderPaid)
	}
	return r
}

// HealthCheck отвечает на /ping.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
