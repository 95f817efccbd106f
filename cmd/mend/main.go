package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jordanhubbard/mend/internal/api"
	"github.com/jordanhubbard/mend/internal/cache"
	"github.com/jordanhubbard/mend/internal/config"
	"github.com/jordanhubbard/mend/internal/controller"
	"github.com/jordanhubbard/mend/internal/evaluator"
	"github.com/jordanhubbard/mend/internal/events"
	"github.com/jordanhubbard/mend/internal/executor"
	"github.com/jordanhubbard/mend/internal/generator"
	"github.com/jordanhubbard/mend/internal/learning"
	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/monitor"
	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/internal/scheduler"
	"github.com/jordanhubbard/mend/internal/store"
	"github.com/jordanhubbard/mend/internal/telemetry"
	"github.com/jordanhubbard/mend/internal/transfer"
	"github.com/jordanhubbard/mend/pkg/messages"
	"github.com/jordanhubbard/mend/pkg/models"

	"github.com/facebookgo/clock"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Mend v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry is optional; the server runs untraced without it.
	if cfg.OTLPEndpoint != "" {
		shutdownTelemetry, err := telemetry.InitTelemetry(runCtx, "mend", cfg.OTLPEndpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	kstore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open knowledge store: %v", err)
	}
	defer kstore.Close()

	repo := repository.New()
	library := patterns.NewLibrary(repo)
	bus := events.NewBus(256)
	defer bus.Close()
	mets := metrics.NewMetrics()

	if err := controller.Rehydrate(runCtx, kstore, repo, library); err != nil {
		log.Fatalf("failed to rehydrate knowledge: %v", err)
	}

	var backend cache.Backend
	if cfg.RedisAddr != "" {
		rb, err := cache.NewRedisBackend(runCtx, cfg.RedisAddr, "", 0)
		if err != nil {
			log.Printf("Warning: Redis unavailable, metric snapshots stay in-memory: %v", err)
		} else {
			backend = rb
			defer rb.Close()
		}
	}
	snaps := cache.New(backend)

	learn := learning.New(repo, library)

	var runStep executor.StepFunc
	if cfg.ExecMode == "shell" {
		runStep = executor.ShellStep
		log.Printf("Remediation steps run real commands (exec_mode=shell)")
	}
	exec := executor.New(snaps, runStep)

	mgr, closeTransfer := setupTransfer(cfg, repo, library, mets)
	defer closeTransfer()

	ctrl := controller.New(controller.Config{
		SystemID:              cfg.SystemID,
		AutoExecThreshold:     cfg.Controller.AutoExecThreshold,
		DedupSimilarity:       cfg.Controller.DedupSimilarity,
		CoolDown:              cfg.Controller.CoolDown,
		QueueSize:             cfg.Controller.QueueSize,
		SelfDiagnosisInterval: cfg.Controller.SelfDiagnosisInterval,
		LearningCycleInterval: cfg.Controller.LearningCycleInterval,
	}, controller.Deps{
		Repo:     repo,
		Library:  library,
		Gen:      generator.New(library),
		Eval:     evaluator.New(library, repo),
		Exec:     exec,
		Learn:    learn,
		Transfer: mgr,
		Store:    kstore,
		Bus:      bus,
		Metrics:  mets,
		Sched:    scheduler.New(clock.New()),
		Snaps:    snaps,
	})

	mon := monitor.NewSimMonitor()
	ctrl.Start(runCtx, mon)
	defer ctrl.Stop()

	apiServer := api.NewServer(ctrl, repo, bus, cfg.JWTSecret)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer.SetupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Mend API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// openStore selects the knowledge store backend from configuration.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage {
	case "postgres":
		return store.NewPostgresStore(cfg.PostgresDSN)
	case "", "file":
		return store.NewFileStore(filepath.Join(cfg.DataDir, "knowledge"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// setupTransfer wires the knowledge transfer manager: NATS when reachable,
// always with the file fallback, plus peer registration and the inbox
// watcher. The returned func closes everything.
func setupTransfer(cfg *config.Config, repo *repository.Repository, library *patterns.Library, mets *metrics.Metrics) (*transfer.Manager, func()) {
	fallback, err := transfer.NewFallback(cfg.Transfer.OutboxDir, cfg.Transfer.InboxDir)
	if err != nil {
		log.Fatalf("failed to prepare transfer directories: %v", err)
	}

	var channel transfer.Channel
	var natsChan *transfer.NatsChannel
	if cfg.NATSURL != "" {
		natsChan, err = transfer.NewNatsChannel(transfer.NatsConfig{URL: cfg.NATSURL, Timeout: 5 * time.Second})
		if err != nil {
			log.Printf("Warning: NATS unavailable, transfers use the file fallback: %v", err)
		} else {
			channel = natsChan
		}
	}

	mgr := transfer.NewManager(cfg.SystemID, repo, library, channel, fallback, mets)
	for _, p := range cfg.Transfer.Peers {
		peer := transfer.Peer{ID: p.ID}
		for _, s := range p.Specializations {
			peer.Specializations = append(peer.Specializations, models.ChallengeType(s))
		}
		mgr.RegisterPeer(peer)
	}

	receive := func(pkg *messages.TransferPackage) error {
		err := mgr.ReceivePackage(pkg)
		if mets != nil {
			result := "accepted"
			if err != nil {
				result = "rejected"
			}
			mets.PackagesReceived.WithLabelValues(result).Inc()
		}
		return err
	}

	if natsChan != nil {
		if err := natsChan.Listen(cfg.SystemID, receive); err != nil {
			log.Printf("Warning: failed to listen for transfers on NATS: %v", err)
		}
	}
	if err := fallback.Watch(receive); err != nil {
		log.Printf("Warning: inbox watcher unavailable: %v", err)
	}

	return mgr, func() {
		fallback.Close()
		if natsChan != nil {
			natsChan.Close()
		}
	}
}
