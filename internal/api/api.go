// Package api exposes the service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/sender"
	"github.com/tracyhatemice/inboxsync/internal/service"
)

// Backend is the part of the service the API calls.
type Backend interface {
	StartSync(mailboxID string) (bool, error)
	StopSync(mailboxID string) (bool, error)
	Mailboxes() []service.MailboxInfo
	Sweep(ctx context.Context, owner string) (int, error)
	FetchRecent(ctx context.Context, owner string, limit int) ([]model.EmailDocument, error)
	GenerateReply(ctx context.Context, docID string) (string, error)
	Send(ctx context.Context, docID string) (service.Sent, error)
}

// NewRouter builds the HTTP routes.
func NewRouter(b Backend, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	h := &handler{backend: b, logger: logger}
	r.GET("/mailboxes", h.listMailboxes)
	r.POST("/mailboxes/:id/sync", h.startSync)
	r.DELETE("/mailboxes/:id/sync", h.stopSync)
	r.POST("/sweep", h.sweep)
	r.GET("/emails", h.listEmails)
	r.POST("/emails/:id/reply", h.generateReply)
	r.POST("/emails/:id/send", h.send)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

type handler struct {
	backend Backend
	logger  *slog.Logger
}

func (h *handler) listMailboxes(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Mailboxes())
}

func (h *handler) startSync(c *gin.Context) {
	started, err := h.backend.StartSync(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"mailbox": c.Param("id"), "started": started})
}

func (h *handler) stopSync(c *gin.Context) {
	stopped, err := h.backend.StopSync(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mailbox": c.Param("id"), "stopped": stopped})
}

func (h *handler) sweep(c *gin.Context) {
	n, err := h.backend.Sweep(c.Request.Context(), c.Query("owner"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classified": n})
}

func (h *handler) listEmails(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	docs, err := h.backend.FetchRecent(c.Request.Context(), c.Query("owner"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *handler) generateReply(c *gin.Context) {
	text, err := h.backend.GenerateReply(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "suggestedReply": text})
}

func (h *handler) send(c *gin.Context) {
	sent, err := h.backend.Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sent)
}

func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownMailbox), errors.Is(err, service.ErrUnknownDocument):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoReplier), errors.Is(err, service.ErrNoSender):
		status = http.StatusNotImplemented
	case errors.Is(err, sender.ErrNoIdentity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, classifier.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
