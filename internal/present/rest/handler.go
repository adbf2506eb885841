package rest

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
	"github.com/totegamma/blurchat/internal/present/rest/middleware"
	"github.com/totegamma/blurchat/internal/present/rest/presenter"
	"github.com/totegamma/blurchat/internal/usecase"
	"github.com/totegamma/blurchat/internal/utils"
)

// Handler serves the handle directory.
type Handler struct {
	config    domain.Config
	directory *usecase.DirectoryUsecase
	auth      *middleware.AuthMiddleware
	limiter   *middleware.RateLimiter
}

func NewHandler(
	config domain.Config,
	directory *usecase.DirectoryUsecase,
	auth *middleware.AuthMiddleware,
	limiter *middleware.RateLimiter,
) *Handler {
	return &Handler{
		config:    config,
		directory: directory,
		auth:      auth,
		limiter:   limiter,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/blurchat", h.handleWellKnown)
	e.GET("/directory", h.handleSnapshot)
	e.GET("/directory/:handle", h.handleLookup)
	e.PUT("/directory/:handle", h.handlePublish, h.auth.IdentifyIdentity, middleware.RequireIdentity, h.limiter.Middleware)
}

type wellKnown struct {
	Version   string            `json:"version"`
	Domain    string            `json:"domain"`
	Endpoints map[string]string `json:"endpoints"`
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	return presenter.OK(c, wellKnown{
		Version: h.config.Version,
		Domain:  h.config.FQDN,
		Endpoints: map[string]string{
			"snapshot": "GET /directory",
			"lookup":   "GET /directory/{handle}",
			"publish":  "PUT /directory/{handle}",
		},
	})
}

type snapshotResponse struct {
	Version     string                     `json:"version"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Entries     utils.OrderedKVMap[string] `json:"entries"`
}

func (h *Handler) handleSnapshot(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.directory.Snapshot(ctx)
	if err != nil {
		return h.fail(c, "snapshot", err)
	}

	handles := make([]string, 0, len(snapshot.Entries))
	for handle := range snapshot.Entries {
		handles = append(handles, handle)
	}
	sort.Strings(handles)

	entries := make(utils.OrderedKVMap[string], len(handles))
	for _, handle := range handles {
		entries.Set(handle, snapshot.Entries[handle])
	}

	metrics.DirectoryRequests.WithLabelValues("snapshot", "200").Inc()
	return presenter.OK(c, snapshotResponse{
		Version:     snapshot.Version,
		GeneratedAt: snapshot.GeneratedAt,
		Entries:     entries,
	})
}

func (h *Handler) handleLookup(c echo.Context) error {
	ctx := c.Request().Context()

	entry, err := h.directory.Lookup(ctx, c.Param("handle"))
	if err != nil {
		return h.fail(c, "lookup", err)
	}
	metrics.DirectoryRequests.WithLabelValues("lookup", "200").Inc()
	return presenter.OK(c, entry)
}

func (h *Handler) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	requester, _ := middleware.Requester(ctx)
	handle := c.Param("handle")
	if !blurchat.IsHandle(handle) {
		metrics.DirectoryRequests.WithLabelValues("publish", "400").Inc()
		return presenter.BadRequestMessage(c, "invalid handle")
	}
	if scoped, _ := middleware.TokenHandle(ctx); scoped != handle {
		metrics.DirectoryRequests.WithLabelValues("publish", "403").Inc()
		return presenter.Forbidden(c, "token is scoped to another handle")
	}

	entry, err := h.directory.Publish(ctx, handle, requester)
	if err != nil {
		return h.fail(c, "publish", err)
	}
	metrics.DirectoryRequests.WithLabelValues("publish", "200").Inc()
	return presenter.OK(c, entry)
}

func (h *Handler) fail(c echo.Context, route string, err error) error {
	status := presenter.Status(err)
	metrics.DirectoryRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	if status == http.StatusNotFound {
		return presenter.NotFound(c, err.Error())
	}
	return presenter.Error(c, err)
}
