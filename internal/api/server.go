// Package api assembles the gateway's externally visible surface: the
// websocket attachment endpoint for page and UI contexts, the privileged UI
// topics, health, and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/walletgate/walletgate/internal/app"
	"github.com/walletgate/walletgate/internal/approval"
	"github.com/walletgate/walletgate/internal/config"
	"github.com/walletgate/walletgate/internal/dispatch"
	"github.com/walletgate/walletgate/internal/lockbox"
	"github.com/walletgate/walletgate/internal/transport"
	"github.com/walletgate/walletgate/internal/ui"
	"github.com/walletgate/walletgate/pkg/types"
)

// Server wires the transport bus to the gateway's services and owns the HTTP
// listener.
type Server struct {
	config        *config.Config
	bus           *transport.Bus
	walletService *app.WalletService
	orchestrator  *approval.Orchestrator
	uiManager     *ui.Manager
	lockbox       *lockbox.Lockbox
	prefs         app.PreferenceStore
	dispatchers   []*dispatch.Dispatcher
	httpServer    *http.Server
}

// NewServer creates a new gateway server
func NewServer(
	cfg *config.Config,
	bus *transport.Bus,
	walletService *app.WalletService,
	orchestrator *approval.Orchestrator,
	uiManager *ui.Manager,
	lb *lockbox.Lockbox,
	prefs app.PreferenceStore,
	dispatchers []*dispatch.Dispatcher,
) *Server {
	return &Server{
		config:        cfg,
		bus:           bus,
		walletService: walletService,
		orchestrator:  orchestrator,
		uiManager:     uiManager,
		lockbox:       lb,
		prefs:         prefs,
		dispatchers:   dispatchers,
	}
}

// Start registers every bus topic and starts the HTTP listener. Topics must
// all be registered before the first context attaches.
func (s *Server) Start() error {
	for _, d := range s.dispatchers {
		s.bus.Handle(d.Topic(), d.BusHandler())
	}
	s.registerUITopics()

	// Closing a popup or side panel rejects the approvals living on it.
	s.bus.OnPeerClosed(func(peer transport.Peer) {
		ctx := context.Background()
		switch peer.Kind {
		case transport.ContextPopup:
			s.orchestrator.RejectSurface(ctx, types.SurfacePopup, peer.WindowID)
		case transport.ContextSidePanel:
			s.orchestrator.RejectSurface(ctx, types.SurfaceSidePanel, peer.WindowID)
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/channel", s.bus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
