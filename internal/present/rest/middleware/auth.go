package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/present/rest/presenter"
	"github.com/totegamma/blurchat/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth *service.AuthService
}

func NewAuthMiddleware(auth *service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
	}
}

// IdentifyIdentity puts the identity proven by a Bearer token into the
// request context. Requests without a valid token pass through anonymous.
func (s *AuthMiddleware) IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyIdentity")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")

		if authHeader != "" {
			split := strings.Split(authHeader, " ")
			if len(split) != 2 {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				goto skipCheckAuthorization
			}

			authType, token := split[0], split[1]
			if authType != "Bearer" {
				span.RecordError(fmt.Errorf("only Bearer is acceptable"))
				goto skipCheckAuthorization
			}

			result, err := s.auth.AuthJwt(ctx, token)
			if err != nil {
				span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyIdentity: s.auth.AuthJwt failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, result.Identity)
			ctx = context.WithValue(ctx, domain.TokenHandleCtxKey, result.Handle)
			span.SetAttributes(attribute.String("RequesterId", result.Identity), attribute.String("TokenHandle", result.Handle))
		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// Requester returns the identity IdentifyIdentity stored, if any.
func Requester(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(domain.RequesterIdCtxKey).(string)
	return identity, ok && identity != ""
}

// TokenHandle returns the handle the request's token may publish.
func TokenHandle(ctx context.Context) (string, bool) {
	handle, ok := ctx.Value(domain.TokenHandleCtxKey).(string)
	return handle, ok && handle != ""
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := Requester(c.Request().Context()); !ok {
			return presenter.Unauthorized(c, "a valid bearer token is required")
		}
		return next(c)
	}
}
