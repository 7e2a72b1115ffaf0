package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/walletgate/walletgate/internal/alarms"
	"github.com/walletgate/walletgate/internal/api"
	"github.com/walletgate/walletgate/internal/app"
	"github.com/walletgate/walletgate/internal/approval"
	"github.com/walletgate/walletgate/internal/config"
	"github.com/walletgate/walletgate/internal/dispatch"
	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/lockbox"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/notify"
	"github.com/walletgate/walletgate/internal/registry"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/internal/ui"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Volatile session state: unlock secret slot, side-panel payload records.
	// Empty on every start.
	session := storage.NewSession()

	// Repositories
	siteRepo := storage.NewSiteRepository(store)
	prefRepo := storage.NewPreferenceRepository(store)
	keyringRepo := storage.NewKeyringRepository(store)
	approvalRepo := storage.NewApprovalRepository(store)
	alarmRepo := storage.NewAlarmRepository(store)

	// Transport bus: every context attaches here.
	bus := transport.NewBus(cfg.GatewayToken, cfg.RequestTimeout)

	// Durable alarms drive the auto-lock deadline across restarts.
	scheduler := alarms.NewScheduler(alarmRepo)

	lb := lockbox.New(session, prefRepo, scheduler, cfg.DefaultAutoLockMinutes)
	kr := keyring.New(keyringRepo, keyring.NewSecretboxCipher(), lb)

	reg := registry.New(siteRepo, bus)
	notifier := notify.New(bus, reg)
	walletService := app.NewWalletService(kr, reg, prefRepo, notifier)

	// Approval surfaces
	uiManager := ui.NewManager(session, bus, ui.NewCommandOpener(cfg.UIOpenCommand))
	orchestrator := approval.NewOrchestrator(uiManager, approvalRepo, bus)

	// Per-family dispatchers share one origin rate limiter.
	limiter := dispatch.NewOriginLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)
	dispatchers := []*dispatch.Dispatcher{
		dispatch.NewEVM(walletService, orchestrator, reg, limiter, cfg.RequestTimeout),
		dispatch.NewSVM(walletService, orchestrator, reg, limiter, cfg.RequestTimeout),
		dispatch.NewTON(walletService, orchestrator, reg, limiter, cfg.RequestTimeout),
	}

	ctx := context.Background()

	deviceID, err := ensureDeviceID(ctx, prefRepo)
	if err != nil {
		slog.Error("failed to ensure device id", "error", err)
		os.Exit(1)
	}

	// Re-attach persisted alarms; past-due deadlines fire immediately, so a
	// lapsed auto-lock takes effect before any request is served.
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("failed to start alarm scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// Approvals that were pending when the previous process died resolve as
	// rejections now instead of never.
	if err := orchestrator.SweepOrphans(ctx); err != nil {
		slog.Error("failed to sweep orphaned approvals", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, bus, walletService, orchestrator, uiManager, lb, prefRepo, dispatchers)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	slog.Info("gateway started", "port", cfg.Port, "device_id", deviceID)

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}
	}

	slog.Info("gateway stopped")
}

// ensureDeviceID returns the installation's stable device id, generating one
// on first start.
func ensureDeviceID(ctx context.Context, prefs *storage.PreferenceRepository) (string, error) {
	var id string
	found, err := prefs.Get(ctx, storage.PrefDeviceID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := prefs.Set(ctx, storage.PrefDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}
