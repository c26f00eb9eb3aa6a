package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"voxcast/internal/checkpoint"
	"voxcast/internal/config"
	"voxcast/internal/events"
	"voxcast/internal/home"
	"voxcast/internal/inference"
	"voxcast/internal/metrics"
	"voxcast/internal/pipeline"
	"voxcast/internal/scheduler"
	"voxcast/internal/store"
)

// app wires the full stack for one CLI invocation.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	checkpoints *checkpoint.Store
	bus         *events.Bus
	pipe        *pipeline.Pipeline
	sched       *scheduler.Scheduler
	tracker     *metrics.Tracker
}

func newApp(cfgFile string) (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	if cfgFile == "" && h.ConfigExists() {
		cfgFile = h.ConfigPath()
	}

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	logger := newLogger(cfg.Log)

	st, err := store.Open(resolvePath(cfg.Store.Path, h.DatabasePath()))
	if err != nil {
		return nil, err
	}

	cps, err := checkpoint.NewStore(
		resolvePath(cfg.Pipeline.CheckpointDir, h.CheckpointsPath()),
		time.Duration(cfg.Pipeline.CheckpointTTLHours)*time.Hour,
		logger,
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := inference.NewOpenAIEngine(inference.OpenAIConfig{
		APIKey:     config.ResolveEnvVars(cfg.Engine.APIKey),
		BaseURL:    cfg.Engine.BaseURL,
		Model:      cfg.Engine.Model,
		MaxRetries: cfg.Engine.MaxRetries,
		Timeout:    time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	})
	tracker := metrics.NewTracker()
	// The model slot is exclusive: one request in flight, everything else
	// waits its turn.
	exclusive := inference.NewExclusive(metrics.NewInstrumented(engine, tracker), inference.NewGate(1))

	bus := events.NewBus()

	pipe, err := pipeline.New(pipeline.Config{
		UnitSizeChars:            cfg.Pipeline.UnitSizeChars,
		MaxContextCharsPerEntity: cfg.Pipeline.MaxContextCharsPerEntity,
		Pass3BatchSize:           cfg.Pipeline.Pass3BatchSize,
		PreprocessConcurrency:    cfg.PreprocessConcurrency(),
	}, exclusive, cps, st, bus, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		checkpoints: cps,
		bus:         bus,
		pipe:        pipe,
		tracker:     tracker,
	}

	sched, err := scheduler.New(scheduler.Config{
		Runner: a.runJob,
		Store:  st,
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	pipe.SetCancelledCheck(sched.IsCancelled)
	a.sched = sched

	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// runJob is the scheduler runner: it reloads the document's chapters and
// dispatches into the pipeline.
func (a *app) runJob(ctx context.Context, job *scheduler.Job) error {
	doc, err := a.loadDocument(ctx, job.DocumentID)
	if err != nil {
		a.store.SetDocumentStatus(ctx, job.DocumentID, store.DocumentFailed, err.Error())
		return err
	}

	mode := pipeline.ModeFull
	chapterIndex := -1
	switch job.Type {
	case scheduler.TypeDiscoveryOnly:
		mode = pipeline.ModeDiscovery
	case scheduler.TypeSingleChapter:
		chapterIndex = job.ChapterIndex
	case scheduler.TypeTraitsOnly:
		mode = pipeline.ModeTraits
	case scheduler.TypeAudioOnly:
		mode = pipeline.ModeAudio
	}

	a.store.SetDocumentStatus(ctx, doc.ID, store.DocumentInProgress, "")

	runErr := a.pipe.Run(ctx, doc, mode, chapterIndex)
	switch {
	case runErr == nil:
		a.store.SetDocumentStatus(ctx, doc.ID, store.DocumentCompleted, "")
	case runErr == context.Canceled || ctx.Err() != nil:
		// Status is set by the cancellation path; leave it alone here.
	default:
		a.store.SetDocumentStatus(ctx, doc.ID, store.DocumentFailed, runErr.Error())
	}
	return runErr
}

// loadDocument rebuilds a pipeline document from its persisted source paths.
func (a *app) loadDocument(ctx context.Context, documentID string) (*pipeline.Document, error) {
	rec, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("document %q not found", documentID)
	}

	chapters, err := readChapters(rec.SourcePaths)
	if err != nil {
		return nil, err
	}
	return &pipeline.Document{
		ID:       rec.ID,
		Title:    rec.Title,
		Chapters: chapters,
	}, nil
}

// readChapters loads chapter files in order, one chapter per file.
func readChapters(paths []string) ([]string, error) {
	chapters := make([]string, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read chapter %s: %w", path, err)
		}
		chapters = append(chapters, string(data))
	}
	return chapters, nil
}

// runUntilDone drives the scheduler until every job in ids reaches a
// terminal state, then stops it.
func (a *app) runUntilDone(ctx context.Context, ids map[string]bool) error {
	eventCh, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		a.sched.Run(runCtx)
		close(done)
	}()

	pending := len(ids)
	for pending > 0 {
		select {
		case <-ctx.Done():
			stop()
			<-done
			return ctx.Err()
		case ev := <-eventCh:
			switch ev.Kind {
			case events.KindProgress:
				a.logger.Info(ev.Message, "document_id", ev.DocumentID, "percent", ev.Percent)
			case events.KindDiscovery:
				a.logger.Info("character discovered", "name", ev.EntityName, "chapter", ev.ChapterIndex)
			case events.KindJobState:
				if ids[ev.JobID] && isTerminal(ev.JobState) {
					delete(ids, ev.JobID)
					pending--
				}
			}
		}
	}

	stop()
	<-done

	usage := a.tracker.Total()
	a.logger.Info("inference usage",
		"calls", usage.Calls, "failures", usage.Failures,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens,
		"inference_time", usage.TotalDuration.Round(time.Millisecond))
	return nil
}

func isTerminal(state string) bool {
	switch store.JobStatus(state) {
	case store.JobCompleted, store.JobFailed, store.JobCancelled:
		return true
	}
	return false
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// resolvePath maps empty or default ($HOME-relative) config values onto the
// voxcast home directory; explicit paths are used as-is.
func resolvePath(configured, homePath string) string {
	if configured == "" || strings.HasPrefix(configured, "$HOME") {
		return homePath
	}
	return configured
}
