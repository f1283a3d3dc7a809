// Package app wires the configured components into a running service.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/raftaar/ambudispatch/api/bookings"
	"github.com/raftaar/ambudispatch/api/webhook"
	"github.com/raftaar/ambudispatch/config"
	"github.com/raftaar/ambudispatch/core/call"
	"github.com/raftaar/ambudispatch/core/classify"
	"github.com/raftaar/ambudispatch/core/dispatch"
	coremetrics "github.com/raftaar/ambudispatch/core/metrics"
	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/notify"
	"github.com/raftaar/ambudispatch/core/queue"
	"github.com/raftaar/ambudispatch/infra/logger"
	"github.com/raftaar/ambudispatch/infra/metrics"
	"github.com/raftaar/ambudispatch/infra/mq"
	"github.com/raftaar/ambudispatch/infra/store/postgres"
	"github.com/raftaar/ambudispatch/infra/store/sqlite"
	"github.com/raftaar/ambudispatch/infra/voice"
	"github.com/raftaar/ambudispatch/infra/whatsapp"
	"github.com/raftaar/ambudispatch/internal/eventbus"
)

// Service owns the coordinator, its store and the HTTP surface.
type Service struct {
	Coordinator *dispatch.Coordinator
	Store       queue.Store

	cfg       *config.Config
	bus       *eventbus.Bus
	publisher *mq.Publisher
	log       logger.Logger
}

// New builds a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	store, err := newStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	voiceClient, err := voice.NewClient(cfg.Voice, logger.New("voice"))
	if err != nil {
		return nil, err
	}
	retriever := call.NewRetriever(voiceClient,
		time.Duration(cfg.Dispatch.MaxWaitSeconds)*time.Second,
		time.Duration(cfg.Dispatch.PollIntervalSeconds)*time.Second,
		logger.New("retriever"))

	var notifier dispatch.Notifier
	if cfg.Messaging.APIKey != "" {
		sender, err := whatsapp.NewClient(cfg.Messaging, logger.New("whatsapp"))
		if err != nil {
			return nil, err
		}
		notifier = notify.New(sender, logger.New("notify"))
	} else {
		logg.Warnf("messaging api key not set, location notifications disabled")
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	var publisher *mq.Publisher
	if cfg.Events.Enabled {
		publisher, err = mq.NewPublisher(cfg.Events, logger.New("mq"))
		if err != nil {
			return nil, err
		}
		publisher.Start(bus)
	}

	coord, err := dispatch.NewCoordinator(store, voiceClient, retriever,
		classify.NewKeywordClassifier(), notifier, cfg.Dispatch, sink, bus,
		logger.New("dispatch"))
	if err != nil {
		return nil, err
	}

	return &Service{
		Coordinator: coord,
		Store:       store,
		cfg:         cfg,
		bus:         bus,
		publisher:   publisher,
		log:         logg,
	}, nil
}

func newStore(cfg config.StoreConfig) (queue.Store, error) {
	switch cfg.Backend {
	case "memory":
		return queue.NewMemoryStore(), nil
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.Connect(context.Background(), cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// Run serves the HTTP surface and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/webhook/call-complete", webhook.NewHandler(s.Coordinator, s.cfg.API.Token, logger.New("webhook")))
	mux.Handle("/api/bookings/queue", bookings.NewQueueHandler(s.Store, s.cfg.API.Token))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// DispatchRequest is the JSON shape accepted by DispatchFile.
type DispatchRequest struct {
	Booking    model.Booking     `json:"booking"`
	Candidates []model.Candidate `json:"candidates"`
}

// DispatchFile triggers a one-off dispatch described by a JSON file.
func (s *Service) DispatchFile(ctx context.Context, path string) (dispatch.Outcome, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("read dispatch request: %w", err)
	}
	var req DispatchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return dispatch.Outcome{}, fmt.Errorf("decode dispatch request: %w", err)
	}
	return s.Coordinator.DispatchBooking(ctx, req.Booking, req.Candidates)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	err := s.Coordinator.Close()
	if s.publisher != nil {
		if cerr := s.publisher.Close(); err == nil {
			err = cerr
		}
	}
	s.bus.Close()
	if closer, ok := s.Store.(interface{ Close() error }); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
