// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"aeras/internal/http/handlers"
	"aeras/internal/http/middleware"
)

func (s *Server) Routes() http.Handler {
	d := s.deps
	r := gin.New()
	r.Use(middleware.Recovery(d.Logger), middleware.Tracing(), middleware.Logging(d.Logger))
	if d.Registry != nil {
		r.Use(middleware.Metrics(d.Registry))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	requestHandler := handlers.NewRequestHandler(d.Dispatch)
	r.POST("/api/requests", requestHandler.Create)
	r.GET("/api/requests", requestHandler.List)
	r.GET("/api/requests/:id", requestHandler.Get)
	r.POST("/api/requests/:id/accept", requestHandler.Accept)
	r.POST("/api/requests/:id/reject", requestHandler.Reject)

	rideHandler := handlers.NewRideHandler(d.Rides, d.Location)
	r.GET("/api/rides/:id", rideHandler.Get)
	r.POST("/api/rides/:id/pickup", rideHandler.Pickup)
	r.POST("/api/rides/:id/dropoff", rideHandler.Dropoff)

	operatorHandler := handlers.NewOperatorHandler(d.Operators, d.Rides, d.Location)
	r.POST("/api/operators", operatorHandler.Register)
	r.GET("/api/operators", operatorHandler.List)
	r.PUT("/api/operators/:id/location", operatorHandler.UpdateLocation)
	r.GET("/api/operators/:id/active-ride", operatorHandler.ActiveRide)
	r.GET("/api/operators/:id/history", operatorHandler.History)

	adminHandler := handlers.NewAdminHandler(d.Rides)
	r.GET("/api/admin/points/pending", adminHandler.PendingReviews)
	r.POST("/api/admin/points/:id/review", adminHandler.Review)
	r.POST("/api/admin/rides/:id/resolve", adminHandler.Resolve)
	r.POST("/api/admin/reconcile", adminHandler.Reconcile)

	if d.Signals != nil {
		r.GET("/ws/signals", gin.WrapH(d.Signals))
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Traceparent"},
	})
	return c.Handler(r)
}
