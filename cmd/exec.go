package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	pubnub "github.com/pubnub/go/v7"
	"golang.org/x/sync/errgroup"

	"ticket-inventory/config"
	"ticket-inventory/internal/handlers"
	"ticket-inventory/internal/intake"
	"ticket-inventory/internal/services"
	"ticket-inventory/internal/store"
	"ticket-inventory/internal/store/redisstore"
	"ticket-inventory/monitoring"
	"ticket-inventory/security"
	"ticket-inventory/utils"
)

// engine groups the services that share one store.
type engine struct {
	store       store.Store
	tickets     *services.TicketStore
	catalog     *services.CatalogService
	ledger      *services.LedgerService
	reservation *services.ReservationService
	sweeper     *services.Sweeper
	reconciler  *services.Reconciler
}

func newEngine(st store.Store, cfg *config.Config) *engine {
	tickets := services.NewTicketStore(st)
	ledger := services.NewLedgerService(st)
	sweeper := services.NewSweeper(st, cfg.SweepInterval, cfg.SweepBatchSize)
	return &engine{
		store:       st,
		tickets:     tickets,
		catalog:     services.NewCatalogService(st, tickets),
		ledger:      ledger,
		reservation: services.NewReservationService(st, ledger, cfg.HoldTTL, cfg.MaxHoldTTL),
		sweeper:     sweeper,
		reconciler:  services.NewReconciler(st, tickets, cfg.ReconcileGrace),
	}
}

// inventoryStats feeds the monitor.
type inventoryStats struct {
	*services.Sweeper
	*services.Reconciler
}

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient, err := utils.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	eng := newEngine(redisstore.New(redisClient, cfg.MaxBatchSize), cfg)

	var pn *pubnub.PubNub
	var publisher *intake.Publisher
	if cfg.PubNubEnabled() {
		pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
		publisher = intake.NewPublisher(intake.PubNubSender{PN: pn}, cfg.PubNubIntentChannel)
	} else {
		slog.Warn("PubNub keys not set, purchase intents disabled")
	}

	app.RootCmd.AddCommand(newReconcileCommand(eng.reconciler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(cancel)

	g, gctx := errgroup.WithContext(ctx)

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		startBackground(gctx, g, cfg, eng, pn, publisher)
		registerRoutes(se, cfg, eng, publisher, security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute))
		log.Println("Server routes registered")
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
		cancel()
		if err := g.Wait(); err != nil {
			slog.Error("Background task failed", "error", err)
		}
		return te.Next()
	})

	return app.Start()
}

func startBackground(ctx context.Context, g *errgroup.Group, cfg *config.Config, eng *engine, pn *pubnub.PubNub, publisher *intake.Publisher) {
	g.Go(func() error { return eng.sweeper.Start(ctx) })

	if cfg.EnableMetrics {
		monitor := monitoring.NewMonitor(inventoryStats{eng.sweeper, eng.reconciler}, cfg.MetricsInterval)
		g.Go(func() error { return monitor.Run(ctx) })

		srv := monitoring.NewServer(cfg.MetricsPort)
		g.Go(func() error {
			slog.Info("Metrics server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if pn != nil {
		consumer := intake.NewConsumer(eng.reservation, publisher, cfg.IntentMaxAge)
		g.Go(func() error {
			return consumer.Run(ctx, intake.Subscribe(ctx, pn, cfg.PubNubIntentChannel))
		})
	}
}

func registerRoutes(se *core.ServeEvent, cfg *config.Config, eng *engine, publisher *intake.Publisher, limiter *security.RateLimiter) {
	eventHandler := handlers.NewEventHandler(eng.catalog)
	ticketHandler := handlers.NewTicketHandler(eng.reservation)
	var intents handlers.IntentPublisher
	if publisher != nil {
		intents = publisher
	}
	purchaseHandler := handlers.NewPurchaseHandler(eng.ledger, intents)
	healthHandler := handlers.NewHealthHandler(eng.store)

	// Event endpoints
	se.Router.POST("/api/v1/events", eventHandler.CreateEvent)
	se.Router.GET("/api/v1/events", eventHandler.ListEvents)
	se.Router.GET("/api/v1/events/{eventId}", eventHandler.GetEvent)
	se.Router.GET("/api/v1/events/{eventId}/tickets", eventHandler.GetEventTickets)

	// Ticket endpoints
	se.Router.POST("/api/v1/tickets/hold", ticketHandler.HoldTicket).BindFunc(limiter.Middleware)
	se.Router.POST("/api/v1/tickets/release", ticketHandler.ReleaseTicket)
	se.Router.POST("/api/v1/tickets/purchase", ticketHandler.PurchaseTicket).BindFunc(limiter.Middleware)

	// Purchase endpoints
	se.Router.POST("/api/v1/purchases/intents", purchaseHandler.SubmitIntent).BindFunc(limiter.Middleware)
	se.Router.GET("/api/v1/purchases/{purchaseId}", purchaseHandler.GetPurchase)
	se.Router.POST("/api/v1/purchases/{purchaseId}/cancel", purchaseHandler.CancelPurchase)
	se.Router.GET("/api/v1/users/{userId}/purchases", purchaseHandler.ListUserPurchases)

	se.Router.GET("/health", healthHandler.Health)

	slog.Info("Routes registered", "environment", cfg.Environment, "intents_enabled", publisher != nil)
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, stopping background tasks...")
	cancel()
}
