package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

type changeStatusBody struct {
	Status string `json:"status"`
}

// OrderDetails — заказ с историей событий.
type OrderDetails struct {
	orders.OrderView
	Timeline []orders.TimelineEventView `json:"timeline"`
}

// CreateOrder создаёт заказ и открывает платёжную сессию.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req orders.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	placed, err := orders.PlaceOrder(c.Request.Context(), h.orders, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if placed.PaymentErr != nil {
		h.logger.WithError(placed.PaymentErr).WithField("order_id", placed.Order.ID).
			Warn("order created without payment session")
	}
	c.JSON(http.StatusCreated, orders.NewPlacedOrderView(placed))
}

// FindAllOrders возвращает страницу заказов: ?status=&page=&limit=.
func (h *Handler) FindAllOrders(c *gin.Context) {
	var req orders.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.orders.FindAll(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders.NewOrderPageView(page))
}

// FindOneOrder возвращает заказ с позициями и историей.
func (h *Handler) FindOneOrder(c *gin.Context) {
	order, err := h.orders.FindOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	details := OrderDetails{
		OrderView: orders.NewOrderView(order),
		Timeline:  []orders.TimelineEventView{},
	}
	if h.timeline != nil {
		events, err := h.timeline.List(order.ID)
		if err != nil {
			h.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to list timeline events")
		} else {
			details.Timeline = orders.NewTimelineView(events)
		}
	}
	c.JSON(http.StatusOK, details)
}

// ChangeOrderStatus меняет статус заказа.
func (h *Handler) ChangeOrderStatus(c *gin.Context) {
	var body changeStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.ChangeStatus(c.Request.Context(), orders.ChangeStatusRequest{
		ID:     c.Param("id"),
		Status: body.Status,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders.NewOrderView(order))
}

// CreatePaymentSession повторно открывает платёжную сессию для неоплаченного заказа.
func (h *Handler) CreatePaymentSession(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := h.orders.FindOne(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if order.Paid {
		c.JSON(http.StatusConflict, gin.H{"error": "order is already paid"})
		return
	}

	session, err := h.orders.CreatePaymentSession(ctx, order)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// OrderPaid принимает подтверждение оплаты от платёжного сервиса.
func (h *Handler) OrderPaid(c *gin.Context) {
	var req orders.PaidOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orders.OrderPaid(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"stripe_id": req.StripeID,
	}).Debug("payment confirmation accepted")
	c.JSON(http.StatusOK, orders.NewOrderView(order))
}
