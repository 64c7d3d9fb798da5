package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/docmarket-payments/internal/auth"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
	"github.com/imrishuroy/docmarket-payments/internal/reconcile"
	"github.com/imrishuroy/docmarket-payments/internal/validation"
)

// Webhook headers
const (
	HeaderWebhookTimestamp = "x-webhook-timestamp"
	HeaderWebhookSignature = "x-webhook-signature"
)

// RegisterPaymentsRoutes registers the payment routes. The webhook is authenticated by its
// signature; everything else requires a bearer token.
func RegisterPaymentsRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	svc := cfg.Payments
	logger := cfg.logger()

	g := r.Group("/api/payments")

	g.POST("/webhook", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": "unable to read body"})
			return
		}
		_, err = svc.HandleWebhook(c.Request.Context(), reconcile.WebhookInput{
			Timestamp: c.GetHeader(HeaderWebhookTimestamp),
			Signature: c.GetHeader(HeaderWebhookSignature),
			Body:      body,
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.String(http.StatusOK, "ok")
	})

	authed := g.Group("", auth.Middleware(cfg.Verifier))

	authed.POST("/initiate", func(c *gin.Context) {
		var req validation.InitiatePaymentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		payer := caller(c)
		if req.PayerID != "" && req.PayerID != payer {
			writeError(c, logger, reconcile.ErrForbidden)
			return
		}

		res, err := svc.Initiate(c.Request.Context(), reconcile.InitiateInput{
			PayerID:    payer,
			ProviderID: req.ProviderID,
			ServiceID:  req.ServiceID,
			Amount:     req.Amount,
			Method:     payments.Method(validation.NormalizeMethod(req.Method)),
			Address: payments.Address{
				Line:     req.Address,
				Pincode:  req.Pincode,
				City:     req.City,
				District: req.District,
				State:    req.StateName,
				Country:  req.Country,
			},
			AppointmentSlot: req.AppointmentSlot,
			Customer: payments.Customer{
				Name:  req.CustomerName,
				Email: req.CustomerEmail,
				Phone: req.CustomerPhone,
			},
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}

		if res.Method == payments.MethodCOD {
			c.JSON(http.StatusCreated, gin.H{
				"success":          true,
				"paid":             false,
				"payment_id":       res.PaymentID,
				"transaction_id":   res.TransactionID,
				"gateway_order_id": res.GatewayOrderID,
				"order":            res.Order,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":            true,
			"payment_id":         res.PaymentID,
			"transaction_id":     res.TransactionID,
			"gateway_order_id":   res.GatewayOrderID,
			"payment_session_id": res.PaymentSessionID,
		})
	})

	authed.GET("/verify", func(c *gin.Context) {
		var q validation.VerifyPaymentQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		obs, err := svc.Verify(c.Request.Context(), reconcile.VerifyInput{
			CorrelationID: q.OrderID,
			PaymentIDHint: q.PaymentID,
			CallerID:      caller(c),
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}

		resp := gin.H{
			"success":          true,
			"paid":             obs.Paid,
			"payment_id":       obs.PaymentID,
			"gateway_order_id": obs.GatewayOrderID,
			"status":           obs.Status,
		}
		if obs.GatewayStatus != "" {
			resp["gateway_status"] = obs.GatewayStatus
		}
		if obs.Order != nil {
			resp["order"] = obs.Order
		}
		if obs.Retryable {
			resp["retryable"] = true
		}
		status := http.StatusOK
		if obs.Created {
			status = http.StatusCreated
		}
		c.JSON(status, resp)
	})

	authed.GET("/:id", func(c *gin.Context) {
		a, err := svc.GetPayment(c.Request.Context(), c.Param("id"), caller(c))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "payment": a})
	})
}
