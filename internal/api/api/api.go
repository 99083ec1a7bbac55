package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"ticketing/cmd/middleware"
	"ticketing/internal/model"
)

type Routers struct {
	Service     Service
	Tokens      middleware.TokenParser
	Log         *zerolog.Logger
	Mode        string
	CORSOrigins []string
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New(r.Mode)

	app.Use(middleware.RequestID())
	app.Use(middleware.Recovery(r.Log))
	app.Use(middleware.LoggingMiddleware(r.Log))
	app.Use(corsMiddleware(r.CORSOrigins))

	h := &Handler{svc: r.Service, log: r.Log}

	v1 := app.Group("/v1")
	v1.POST("/auth/register", h.Register)
	v1.POST("/auth/login", h.Login)
	v1.GET("/events", h.ListEvents)
	v1.GET("/events/:id", h.GetEvent)
	v1.POST("/payments/webhook", h.Webhook)

	authed := v1.Group("", middleware.RequireAuth(r.Tokens))
	manage := middleware.RequireRole(model.RoleOrganizer, model.RoleAdmin)
	authed.POST("/events", manage, h.CreateEvent)
	authed.PUT("/events/:id", manage, h.UpdateEvent)
	authed.DELETE("/events/:id", manage, h.DeleteEvent)
	authed.GET("/events/:id/bookings", manage, h.ListEventBookings)
	authed.POST("/events/:id/book", h.Book)

	authed.GET("/bookings", h.ListMyBookings)
	authed.GET("/bookings/:id", h.GetBooking)
	authed.POST("/bookings/:id/cancel", h.CancelBooking)
	authed.POST("/bookings/:id/refund", manage, h.RefundBooking)

	admin := authed.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	admin.GET("/users", h.ListUsers)
	admin.PATCH("/users/:id/role", h.ChangeRole)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.GET("/bookings", h.ListAllBookings)

	app.GET("/health", func(c *ginext.Context) {
		c.JSON(http.StatusOK, ginext.H{"status": "ok"})
	})

	return app
}

func corsMiddleware(origins []string) ginext.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AddAllowHeaders("Authorization", middleware.RequestIDHeader)
	cfg.AddExposeHeaders(middleware.RequestIDHeader)
	return cors.New(cfg)
}
