package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/present/rest/presenter"
	"github.com/totegamma/blurchat/internal/usecase"
)

// ObserverHandler exposes a running session to a local UI.
type ObserverHandler struct {
	session      *usecase.Session
	pollInterval time.Duration
}

func NewObserverHandler(session *usecase.Session, timing domain.Timing) *ObserverHandler {
	poll := timing.ObserverPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &ObserverHandler{session: session, pollInterval: poll}
}

func (h *ObserverHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/realtime", h.handleRealtime)

	api := e.Group("/api/v1")
	api.GET("/session", h.handleSession)
	api.POST("/handles", h.handleGenerateHandle)
	api.POST("/register", h.handleRegister)
	api.GET("/identities/:handle", h.handleResolve)
	api.GET("/display/:handle", h.handleDisplayName)
	api.PUT("/nicknames/:handle", h.handleNickname)

	api.GET("/requests", h.handlePendingRequests)
	api.GET("/requests/count", h.handlePendingCount)
	api.POST("/requests", h.handleSendRequest)
	api.POST("/requests/:id/accept", h.handleAccept)
	api.POST("/requests/:id/reject", h.handleReject)

	api.GET("/rooms/:handle/typing", h.handleTypingText)
	api.POST("/rooms/:handle/typing", h.handleTyping)

	api.GET("/messages", h.handleMessages)
	api.POST("/messages", h.handleSendMessage)
	api.POST("/messages/:id/read", h.handleMarkRead)
	api.GET("/messages/:id/receipts", h.handleReceipts)
	api.POST("/messages/:id/press", h.handlePress)
	api.GET("/disclosures", h.handleDisclosures)
}

type sessionView struct {
	Handle       string `json:"handle"`
	Identity     string `json:"identity"`
	DisplayName  string `json:"displayName"`
	PendingCount int    `json:"pendingCount"`
	Messages     int    `json:"messages"`
}

func (h *ObserverHandler) view() sessionView {
	handle := h.session.Handle()
	v := sessionView{
		Handle:       handle,
		Identity:     h.session.Identity(),
		PendingCount: h.session.Handshake.PendingCount(),
		Messages:     len(h.session.Messages("")),
	}
	if handle != "" {
		v.DisplayName = h.session.Registry.DisplayNameFor(handle)
	}
	return v
}

func (h *ObserverHandler) handleSession(c echo.Context) error {
	return presenter.OK(c, h.view())
}

func (h *ObserverHandler) handleGenerateHandle(c echo.Context) error {
	handle, err := h.session.Registry.GenerateAvailableHandle()
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"handle": handle})
}

type registerRequest struct {
	Handle string `json:"handle"`
	Label  string `json:"label"`
}

func (h *ObserverHandler) handleRegister(c echo.Context) error {
	ctx := c.Request().Context()

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	user, err := h.session.Register(ctx, req.Handle, req.Label)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, user)
}

func (h *ObserverHandler) handleResolve(c echo.Context) error {
	handle := c.Param("handle")
	mapping, ok := h.session.Identities.Lookup(handle)
	if !ok {
		return presenter.NotFound(c, "handle not found")
	}
	return presenter.OK(c, echo.Map{
		"handle":    handle,
		"identity":  mapping.Identity,
		"origin":    mapping.Origin,
		"connected": h.session.Identities.IsConnected(handle),
	})
}

func (h *ObserverHandler) handleDisplayName(c echo.Context) error {
	handle := c.Param("handle")
	return presenter.OK(c, echo.Map{"handle": handle, "displayName": h.session.Registry.DisplayNameFor(handle)})
}

func (h *ObserverHandler) handleNickname(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	handle := c.Param("handle")
	if err := h.session.Registry.SetNickname(ctx, handle, req.Nickname); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"handle": handle, "displayName": h.session.Registry.DisplayNameFor(handle)})
}

func (h *ObserverHandler) handlePendingRequests(c echo.Context) error {
	return presenter.OK(c, h.session.Handshake.Pending())
}

func (h *ObserverHandler) handlePendingCount(c echo.Context) error {
	return presenter.OK(c, echo.Map{"count": h.session.Handshake.PendingCount()})
}

type sendRequestBody struct {
	ToHandle string `json:"toHandle"`
	Message  string `json:"message"`
}

func (h *ObserverHandler) handleSendRequest(c echo.Context) error {
	ctx := c.Request().Context()

	var req sendRequestBody
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	result, err := h.session.Handshake.SendRequest(ctx, req.ToHandle, req.Message)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, result)
}

func (h *ObserverHandler) handleAccept(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.session.Handshake.Accept(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	resp := echo.Map{"request": result.Request}
	if result.MappingConflict != nil {
		resp["mappingConflict"] = result.MappingConflict.Error()
	}
	return presenter.OK(c, resp)
}

func (h *ObserverHandler) handleReject(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := h.session.Handshake.Reject(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, req)
}

func (h *ObserverHandler) handleTypingText(c echo.Context) error {
	ctx := c.Request().Context()

	room, err := h.session.RoomFor(ctx, c.Param("handle"))
	if err != nil {
		return presenter.Error(c, err)
	}
	group := c.QueryParam("group") == "true"
	return presenter.OK(c, echo.Map{
		"room":  room,
		"users": h.session.Presence.GetTypingUsers(room),
		"text":  h.session.Presence.GetTypingText(room, group, h.session.Handle()),
	})
}

func (h *ObserverHandler) handleTyping(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if err := h.session.NotifyTyping(ctx, c.Param("handle"), req.Active); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *ObserverHandler) handleMessages(c echo.Context) error {
	return presenter.OK(c, h.session.Messages(c.QueryParam("room")))
}

func (h *ObserverHandler) handleSendMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ToHandle string `json:"toHandle"`
		Body     string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	msg, err := h.session.SendMessage(ctx, req.ToHandle, req.Body)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, msg)
}

func (h *ObserverHandler) handleMarkRead(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.session.MarkRead(ctx, c.Param("id")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *ObserverHandler) handleReceipts(c echo.Context) error {
	id := c.Param("id")
	room := c.QueryParam("room")
	if room == "" {
		return presenter.BadRequestMessage(c, "room parameter is required")
	}
	return presenter.OK(c, echo.Map{
		"messageId": id,
		"count":     h.session.Presence.GetReadCount(id, room),
	})
}

func (h *ObserverHandler) handlePress(c echo.Context) error {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	id := c.Param("id")
	var state domain.DisclosureState
	switch req.Action {
	case "start":
		state = h.session.Disclosure.PressStart(id)
	case "end":
		state = h.session.Disclosure.PressEnd(id)
	case "cancel":
		state = h.session.Disclosure.PressCancel(id)
	default:
		return presenter.BadRequestMessage(c, "action must be start, end or cancel")
	}
	return presenter.OK(c, echo.Map{"messageId": id, "state": state})
}

func (h *ObserverHandler) handleDisclosures(c echo.Context) error {
	return presenter.OK(c, h.session.Disclosure.Snapshots())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeFrame struct {
	Session     sessionView                 `json:"session"`
	Disclosures []domain.DisclosureSnapshot `json:"disclosures"`
	Pending     []domain.ContactRequest     `json:"pending"`
}

type realtimeRequest struct {
	Type string `json:"type"`
}

// handleRealtime pushes a snapshot of the session on every change and on
// every poll tick.
func (h *ObserverHandler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Str("module", "socket").Msg("failed to upgrade websocket")
		return err
	}
	defer ws.Close()

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	defer h.session.Disclosure.Subscribe(func(domain.DisclosureEvent) { notify() })()
	defer h.session.Handshake.Subscribe(func(usecase.HandshakeEvent) { notify() })()
	defer h.session.SubscribeMessages(func(usecase.MessageEvent) { notify() })()

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						log.Debug().Err(wsErr).Str("module", "socket").Msg("websocket closed")
					}
				} else {
					log.Debug().Err(err).Str("module", "socket").Msg("error reading message")
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
			case "refresh":
				notify()
			default:
				log.Info().Str("type", req.Type).Str("module", "socket").Msg("unknown request type")
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	write := func() bool {
		frame := realtimeFrame{
			Session:     h.view(),
			Disclosures: h.session.Disclosure.Snapshots(),
			Pending:     h.session.Handshake.Pending(),
		}
		if err := ws.WriteJSON(frame); err != nil {
			log.Debug().Err(err).Str("module", "socket").Msg("error writing message")
			return false
		}
		return true
	}

	if !write() {
		return nil
	}
	for {
		select {
		case <-quit:
			return nil
		case <-changed:
			if !write() {
				return nil
			}
		case <-ticker.C:
			if !write() {
				return nil
			}
		}
	}
}
