// Package portalvpn предоставляет маршруты для основного приложения.
package portalvpn

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/admin/inboundlist"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/admin/keyreissue"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/health"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/payment/paymentcreate"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/payment/paymentlist"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/payment/paymentstatus"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/subscriber/read"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/subscriber/tierlist"
	"github.com/magabrotheeeer/portal-vpn/internal/http/handlers/subscriber/trial"
	"github.com/magabrotheeeer/portal-vpn/internal/http/middlewarectx"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
	provisioningservice "github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, provisioning *provisioningservice.Service, gateway *paymentprovider.Client) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	// Вебхук шлюза живёт вне /api/v1 и без rate limit: его адрес
	// регистрируется в кабинете Platega, а повторная доставка дороже отказа.
	r.Post("/webhook/platega", paymentwebhook.New(logger, gateway, provisioning).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger))
		r.Get("/tiers", tierlist.New(logger, provisioning).ServeHTTP)
		r.Post("/subscribers/{id}/trial", trial.New(logger, provisioning).ServeHTTP)
		r.Get("/subscribers/{id}", read.New(logger, provisioning).ServeHTTP)
		r.Post("/subscribers/{id}/payments", paymentcreate.New(logger, provisioning).ServeHTTP)
		r.Get("/subscribers/{id}/payments", paymentlist.New(logger, provisioning).ServeHTTP)
		r.Get("/payments/{transactionID}", paymentstatus.New(logger, provisioning).ServeHTTP)
		r.Get("/admin/inbounds", inboundlist.New(logger, provisioning).ServeHTTP)
		r.Post("/admin/subscribers/{id}/key", keyreissue.New(logger, provisioning).ServeHTTP)
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
