package presenter

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("bad request")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("bad request: " + msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func Unauthorized(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("unauthorized: " + msg)
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
}

func Forbidden(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("forbidden: " + msg)
	return c.JSON(http.StatusForbidden, errorResponse{Error: msg})
}

func TooManyRequests(c echo.Context) error {
	return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
}

func NotFound(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("not found: " + msg)
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func InternalError(c echo.Context, err error) error {
	log.Error().Err(err).Str("path", c.Path()).Msg("internal error")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// Status maps the domain error taxonomy onto an http status.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status Status picks for it.
func Error(c echo.Context, err error) error {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return InternalError(c, err)
	}
	log.Debug().Err(err).Int("status", status).Str("path", c.Path()).Msg("request failed")
	return c.JSON(status, errorResponse{Error: err.Error()})
}
