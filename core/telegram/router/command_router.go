package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/leakbot/core/logger"
	tg "github.com/m3rciful/leakbot/core/telegram"
	"github.com/m3rciful/leakbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes binds every registered command, and each of its aliases, to its handler.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	}

	var routes []tg.Route
	for name, def := range reg.Commands() {
		name, def := name, def
		h := func(c tele.Context) error {
			return handleWithSummary(c, normalizeHandlerName(name), time.Now(), "", "", func() error {
				return def.Handler(c)
			})
		}
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
		for _, alias := range def.Aliases {
			routes = append(routes, tg.Route{Endpoint: commandEndpoint(alias), Handler: h})
		}
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "routes.commands"),
		slog.String("status", "ok"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("routes", len(routes)),
	)

	return routes
}

func commandEndpoint(name string) string {
	if name == "" || name[0] == '/' {
		return name
	}
	return "/" + name
}
