package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/docmarket-payments/internal/auth"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/validation"
)

// RegisterOrdersRoutes registers order reads, listings, invoices and provider fulfillment
// updates.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	svc := cfg.Orders
	logger := cfg.logger()

	g := r.Group("/api/orders", auth.Middleware(cfg.Verifier))

	g.GET("/:id", func(c *gin.Context) {
		o, err := svc.Get(c.Request.Context(), c.Param("id"), caller(c))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
	})

	g.GET("/user/:userId", func(c *gin.Context) {
		var q validation.ListOrdersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		page, err := svc.ListForPayer(c.Request.Context(), c.Param("userId"), caller(c), q.Limit, q.Cursor)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orders": page.Orders, "next_cursor": page.NextCursor})
	})

	g.GET("/user/invoice/:orderId", func(c *gin.Context) {
		inv, err := cfg.Payments.GetInvoice(c.Request.Context(), c.Param("orderId"), caller(c))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "invoice": inv})
	})

	provider := g.Group("/provider", auth.RequireProvider())

	provider.GET("/:providerId", func(c *gin.Context) {
		var q validation.ProviderOrdersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		page, err := svc.ListForProvider(c.Request.Context(), c.Param("providerId"), caller(c), q.Status, q.Limit, q.Cursor)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orders": page.Orders, "next_cursor": page.NextCursor})
	})

	provider.PUT("/:id", func(c *gin.Context) {
		var req validation.UpdateOrderStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("id"), caller(c), req.Status)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
	})

	provider.POST("/bulk-status", func(c *gin.Context) {
		var req validation.BulkStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		updates := make([]orders.StatusUpdate, len(req.Updates))
		for i, u := range req.Updates {
			updates[i] = orders.StatusUpdate{OrderID: u.OrderID, Status: u.Status}
		}
		res := svc.UpdateStatusBulk(c.Request.Context(), caller(c), updates)
		c.JSON(http.StatusOK, gin.H{"success": true, "updated": res.Updated, "failed": res.Failed})
	})
}
