// Command secureagg runs the aggregation service for one federated-learning
// deployment: it loads configuration, builds the shared discrete-log
// recovery table, and serves the HTTP trigger API the relay backend calls
// to start per-task aggregation runs.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"SecureAgg/backend"
	"SecureAgg/internal/config"
	"SecureAgg/internal/params"
	"SecureAgg/model"
	"SecureAgg/orchestrator"
	"SecureAgg/pkg/bsgs"
	"SecureAgg/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("SECUREAGG_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("unknown log level %q, staying at %s", cfg.LogLevel, log.GetLevel())
	}

	// The baby-step table covers the full protocol bound and is shared by
	// every task; building it costs a few seconds once at startup.
	log.Infoln("building discrete-log recovery table")
	recoverer, err := bsgs.NewRecoverer(params.BSGSMinBound, params.BSGSMaxBound, params.QuantizationScale)
	if err != nil {
		log.Fatalf("discrete-log recoverer: %v", err)
	}

	relays := func(taskID string) (orchestrator.Relay, error) {
		return backend.NewClient(taskID, cfg.BackendURL)
	}

	orch := orchestrator.New(orchestrator.Config{
		Keys:               cfg.Keys,
		ArtifactDir:        cfg.ArtifactDir,
		EncryptedZero:      cfg.EncryptedZero,
		MinParticipants:    cfg.MinParticipants,
		MaxParticipants:    cfg.MaxParticipants,
		AggregationTimeout: cfg.AggregationTimeout,
		FeedbackTimeout:    cfg.FeedbackTimeout,
		PollInterval:       cfg.PollInterval,
		TolerableFaultRate: cfg.TolerableFaultRate,
		LearningRate:       cfg.LearningRate,
	}, relays, recoverer, modelSource(cfg.ArtifactDir), defaultEvaluator())

	svc := service.New(orch, orchestrator.NewRegistry(), cfg.Keys)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: svc.Router(),
	}

	go func() {
		log.Infof("aggregation service listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infoln("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// modelSource resumes a task from its latest published artifact; with no
// prior artifact the first aggregated update defines the model dimension.
func modelSource(artifactDir string) func(taskID string) (model.Model, error) {
	return func(taskID string) (model.Model, error) {
		if m, err := model.LoadLatestArtifact(artifactDir, taskID); err == nil {
			return m, nil
		}
		log.Warnf("no prior artifact for task %s, starting from zero weights", taskID)
		return nil, nil
	}
}

// defaultEvaluator reports a neutral accuracy; deployments with a
// validation set inject a real evaluator.
func defaultEvaluator() model.Evaluator {
	return model.EvaluatorFunc(func(model.Model) (float64, error) {
		return 0, nil
	})
}
