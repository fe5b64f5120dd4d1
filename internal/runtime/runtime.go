package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/ellie/internal/bus"
	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/eventstore"
	"github.com/loqalabs/ellie/internal/exercise"
	"github.com/loqalabs/ellie/internal/llm"
	"github.com/loqalabs/ellie/internal/natsserver"
	"github.com/loqalabs/ellie/internal/observe"
	"github.com/loqalabs/ellie/internal/practice"
	"github.com/loqalabs/ellie/internal/resilience"
	"github.com/loqalabs/ellie/internal/stt"
	"github.com/loqalabs/ellie/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	store     *eventstore.Store
	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	sessions  *practice.Manager
	practice  *practice.Service
	exercises *exercise.Suggester

	metricsHandler http.Handler
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the runtime until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.metricsHandler = tel.metrics
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()

	if err := r.init(ctx); err != nil {
		r.close()
		return err
	}
	defer r.close()

	servers := []*http.Server{{
		Addr:              fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metricsHandler)
		servers = append(servers, &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			r.logger.Info("http listener started", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("name", r.cfg.RuntimeName))
	return g.Wait()
}

// init builds the practice pipeline from config.
func (r *Runtime) init(ctx context.Context) error {
	cfg := r.cfg

	exec, err := resilience.NewExecutor(resilience.Policy{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
		Multiplier:     cfg.Retry.Multiplier,
	}, resilience.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}

	recognizer, err := stt.New(cfg.STT, cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("stt: %w", err)
	}
	generator, err := llm.New(cfg.LLM, cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	synth, err := tts.New(cfg.TTS, cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	r.store = store

	opts := []practice.Option{practice.WithHistory(store)}
	if cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return err
		}
		opts = append(opts, practice.WithPublisher(r.bus))
	}

	llmSvc := llm.NewService(generator, exec, cfg.LLM, r.logger)
	r.sessions = practice.NewManager(store, store, cfg.Practice.DefaultLearner, r.logger)
	r.practice = practice.NewService(
		stt.NewService(recognizer, exec, r.logger),
		llm.NewCorrector(llmSvc, r.logger),
		tts.NewService(synth, exec, cfg.TTS, r.logger),
		r.logger,
		opts...,
	)

	// The mock generator only echoes, so exercises come from the built-in list.
	var completer exercise.Completer
	if cfg.LLM.Mode != "mock" {
		completer = llmSvc
	}
	r.exercises = exercise.NewSuggester(completer, r.logger)

	r.logger.Info("practice pipeline ready",
		slog.String("stt", cfg.STT.Mode),
		slog.String("llm", cfg.LLM.Mode),
		slog.String("tts", cfg.TTS.Mode),
		slog.Int("max_retries", exec.Policy().MaxRetries),
		slog.Duration("first_backoff", exec.Policy().Delay(0)),
		slog.Bool("bus", cfg.Bus.Enabled))
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slogError(err))
			}
		}
	}
}

func (r *Runtime) close() {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
}

// Handler returns the HTTP surface wrapped in request telemetry.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("POST /api/process", r.handleProcess)
	mux.HandleFunc("GET /api/exercise", r.handleExercise)
	mux.HandleFunc("GET /api/score", r.handleScore)
	mux.HandleFunc("GET /api/history", r.handleHistory)
	if r.metricsHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("GET /metrics", r.metricsHandler)
	}
	if dir := r.cfg.HTTP.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
	}
	return observe.Middleware(observe.DefaultMetrics(), r.logger)(mux)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
