// Package handlers exposes the payment and order entry points over gin.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/auth"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/reconcile"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Payments *reconcile.Service
	Orders   *orders.Service
	Verifier *auth.Verifier
	Logger   *zap.Logger
}

func (cfg HandlerConfig) logger() *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}

// writeError maps domain errors to status codes. Messages for 5xx never carry the cause.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := "something went wrong"
	switch {
	case errors.Is(err, reconcile.ErrValidation), errors.Is(err, orders.ErrInvalidStatus), errors.Is(err, orders.ErrInvalidCursor):
		status, code, msg = http.StatusBadRequest, "validation_failed", err.Error()
	case errors.Is(err, reconcile.ErrAuthentication):
		status, code, msg = http.StatusBadRequest, "invalid_signature", "signature verification failed"
	case errors.Is(err, reconcile.ErrForbidden), errors.Is(err, orders.ErrForbidden):
		status, code, msg = http.StatusForbidden, "forbidden", "not allowed for this caller"
	case errors.Is(err, reconcile.ErrNotFound), errors.Is(err, orders.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, orders.ErrStatusMismatch):
		status, code, msg = http.StatusConflict, "conflict", "resource was modified concurrently, retry"
	case errors.Is(err, reconcile.ErrUpstream):
		status, code, msg = http.StatusBadGateway, "upstream_unavailable", "payment gateway unavailable, retry later"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "msg": msg})
}

func caller(c *gin.Context) string {
	id, _ := auth.Caller(c)
	return id.ID
}
