// Package portalvpn собирает и запускает основное приложение: хранилище,
// клиенты панели и платёжного шлюза, уведомления, алерты и HTTP-сервер.
package portalvpn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/portal-vpn/internal/alerts"
	"github.com/magabrotheeeer/portal-vpn/internal/cache"
	"github.com/magabrotheeeer/portal-vpn/internal/config"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
	"github.com/magabrotheeeer/portal-vpn/internal/migrations"
	"github.com/magabrotheeeer/portal-vpn/internal/notifier"
	"github.com/magabrotheeeer/portal-vpn/internal/panel"
	"github.com/magabrotheeeer/portal-vpn/internal/paymentprovider"
	provisioningservice "github.com/magabrotheeeer/portal-vpn/internal/services/provisioning"
	"github.com/magabrotheeeer/portal-vpn/internal/storage"
)

type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *storage.Storage
	cache    *cache.Cache
	amqpConn *amqp.Connection
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	var cacheRedis *cache.Cache
	if cfg.AddressRedis != "" {
		cacheRedis, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("redis not configured, subscriber cache disabled")
	}

	panelClient := panel.New(logger, cfg.Panel)
	gatewayClient := paymentprovider.New(logger, cfg.Platega)

	tgNotifier, err := notifier.New(logger, cfg.Telegram.BotToken)
	if err != nil {
		return nil, err
	}

	var amqpConn *amqp.Connection
	var amqpChannel *amqp.Channel
	if cfg.RabbitURL != "" {
		amqpConn, amqpChannel, err = rabbitmq.Connect(cfg.RabbitURL)
		if err != nil {
			return nil, err
		}
	}
	alerter, err := alerts.New(logger, amqpChannel, cfg.AlertsQueue, tgNotifier, cfg.Telegram.AdminChatID)
	if err != nil {
		return nil, err
	}

	var svcCache provisioningservice.Cache
	if cacheRedis != nil {
		svcCache = cacheRedis
	}
	provisioning := provisioningservice.New(logger, db, panelClient, gatewayClient,
		tgNotifier, alerter, svcCache, cfg)

	// Сессия панели поднимается заранее, чтобы первый запрос пользователя
	// не платил за логин. Ошибка не фатальна: клиент переавторизуется лениво.
	if err := panelClient.Authenticate(ctx); err != nil {
		logger.Warn("initial panel authentication failed", sl.Err(err))
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, provisioning, gatewayClient)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
		amqpConn: amqpConn,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.cache != nil {
			_ = a.cache.Close()
		}
		if a.amqpConn != nil {
			_ = a.amqpConn.Close()
		}
		_ = a.db.DB.Close()
		return err
	}
}
