// Package httpapi is the HTTP boundary of the core. Identity arrives as
// an opaque owner token header treated as an unforgeable capability; no
// authentication happens here.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cliply/cliply/internal/analytics"
	"github.com/cliply/cliply/internal/links"
	"github.com/cliply/cliply/internal/metrics"
)

// OwnerHeader carries the opaque owner-identity token.
const OwnerHeader = "X-Owner-Token"

type LinkService interface {
	Create(ctx context.Context, destination, ownerID string) (*links.Link, error)
	Delete(ctx context.Context, id, requesterID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]links.Link, error)
}

type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
	Invalidate(ctx context.Context, id string)
}

type ClickRecorder interface {
	Submit(ev links.ClickEvent)
}

type StatsProvider interface {
	Summarize(ctx context.Context, linkID, requesterID string) (*analytics.Summary, error)
}

type Handler struct {
	links    LinkService
	resolver Resolver
	clicks   ClickRecorder
	stats    StatsProvider
	baseURL  string
}

func New(linkSvc LinkService, resolver Resolver, clicks ClickRecorder, stats StatsProvider, baseURL string) *Handler {
	return &Handler{
		links:    linkSvc,
		resolver: resolver,
		clicks:   clicks,
		stats:    stats,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Register mounts all routes on the engine. Middleware passed here guards
// link creation only; the redirect hot path must stay unthrottled so an
// existing link always resolves.
func (h *Handler) Register(r *gin.Engine, createMiddleware ...gin.HandlerFunc) {
	r.POST("/shorten", append(createMiddleware, h.Shorten)...)
	r.GET("/:id", h.Redirect)
	r.GET("/stats/:id", h.Stats)
	r.DELETE("/:id", h.Delete)
	r.GET("/links", h.List)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapF(metrics.Handler))
}

type shortenRequest struct {
	Destination string `json:"destination" binding:"required"`
}

func (h *Handler) Shorten(c *gin.Context) {
	var req shortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "destination is required"})
		return
	}

	link, err := h.links.Create(c.Request.Context(), req.Destination, ownerToken(c))
	if err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	metrics.Shortens.Inc()
	c.JSON(http.StatusOK, gin.H{
		"id":        link.ID,
		"short_url": h.baseURL + "/" + link.ID,
	})
}

func (h *Handler) Redirect(c *gin.Context) {
	id := c.Param("id")

	dest, err := h.resolver.Resolve(c.Request.Context(), id)
	if err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	metrics.Redirects.Inc()

	// Fire-and-forget: Submit never blocks and a recording failure never
	// reaches the visitor.
	h.clicks.Submit(links.ClickEvent{
		LinkID:     id,
		OccurredAt: time.Now().UTC(),
		Country:    c.GetHeader("CF-IPCountry"),
		UserAgent:  c.Request.UserAgent(),
	})

	c.Redirect(http.StatusMovedPermanently, dest)
}

func (h *Handler) Stats(c *gin.Context) {
	summary, err := h.stats.Summarize(c.Request.Context(), c.Param("id"), ownerToken(c))
	if err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.links.Delete(c.Request.Context(), id, ownerToken(c)); err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	h.resolver.Invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) List(c *gin.Context) {
	owner := ownerToken(c)
	if owner == "" {
		c.JSON(http.StatusForbidden, gin.H{"message": "owner token required"})
		return
	}

	result, err := h.links.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": result})
}

func ownerToken(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(OwnerHeader))
}

// errStatus maps domain errors to HTTP responses. Internal faults never
// leak storage detail to the caller.
func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, links.ErrInvalidDestination):
		return http.StatusBadRequest, "destination must be an absolute http(s) URL"
	case errors.Is(err, links.ErrNotFound):
		return http.StatusNotFound, "link not found"
	case errors.Is(err, links.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, links.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	case errors.Is(err, links.ErrExhausted):
		return http.StatusInternalServerError, "identifier space exhausted"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
