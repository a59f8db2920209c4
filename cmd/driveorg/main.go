package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/events"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/job"
	"git.home.luguber.info/inful/driveorg/internal/llm"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/server"
	"git.home.luguber.info/inful/driveorg/internal/store"
	"git.home.luguber.info/inful/driveorg/internal/watcher"
)

// Exit codes: 0 success, 1 setup error, 2 job failure, 3 cancelled.
const (
	exitOK        = 0
	exitSetup     = 1
	exitJobFailed = 2
	exitCancelled = 3
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Archive string `arg:"" help:"Deposited ZIP archive to organize"`
		DryRun  bool   `help:"Plan and report without touching the filesystem"`
	} `cmd:"" help:"Process one archive through the full pipeline"`

	Serve struct{} `cmd:"" help:"Run the HTTP API, input watcher and scheduler"`

	Status struct {
		JobID string `arg:"" optional:"" help:"Job to inspect (omit to list recent jobs)"`
	} `cmd:"" help:"Show job status"`

	Approve struct {
		JobID string `arg:"" help:"Job held at the review gate"`
	} `cmd:"" help:"Approve a reviewed plan and execute it"`

	Rollback struct {
		JobID string `arg:"" help:"Job whose working tree should be discarded"`
	} `cmd:"" help:"Discard a job's execution output and reset it for re-execution"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitSetup)
		}
		fmt.Println("Configuration written to", CLI.Config)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSetup)
	}
	setupLogging(cfg, CLI.Verbose)

	switch ctx.Command() {
	case "run <archive>":
		os.Exit(runOnce(cfg))
	case "serve":
		os.Exit(serve(cfg))
	case "status", "status <job-id>":
		os.Exit(status(cfg))
	case "approve <job-id>":
		os.Exit(approve(cfg))
	case "rollback <job-id>":
		os.Exit(rollback(cfg))
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", ctx.Command())
		os.Exit(exitSetup)
	}
}

func setupLogging(cfg *config.Config, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.Store.Path, cfg.Workers.CPU)
}

func buildController(cfg *config.Config, st *store.Store, rec metrics.Recorder, pub *events.Publisher) *job.Controller {
	local := llm.NewLocalClient(cfg.LocalLLM, cfg.Workers.Net)
	remote := llm.NewRemoteClient(cfg.RemoteLLM, cfg.Workers.Net)
	return job.New(cfg, st, local, remote, rec, pub)
}

func runOnce(cfg *config.Config) int {
	if CLI.Run.DryRun {
		cfg.Processing.DryRun = true
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store setup failed", "error", err)
		return exitSetup
	}
	defer st.Close()

	pub, err := events.Connect(cfg.Events)
	if err != nil {
		slog.Error("Event publisher setup failed", "error", err)
		return exitSetup
	}
	defer pub.Close()

	ctrl := buildController(cfg, st, nil, pub)
	j, err := ctrl.Submit(ctx, CLI.Run.Archive)
	if err != nil {
		slog.Error("Job submission failed", "error", err)
		return exitSetup
	}

	if err := ctrl.Process(ctx, j.ID); err != nil {
		if errors.Is(err, faults.ErrCancelled) || errors.Is(err, context.Canceled) {
			return exitCancelled
		}
		slog.Error("Job failed", "job_id", j.ID, "error", err)
		return exitJobFailed
	}

	final, err := st.GetJob(context.Background(), j.ID)
	if err != nil {
		slog.Error("Job lookup failed", "error", err)
		return exitJobFailed
	}
	printJob(final)
	if final.Status == store.JobReviewRequired {
		fmt.Printf("Plan ready for review. Approve with: driveorg approve %s\n", j.ID)
	}
	return exitOK
}

func serve(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store setup failed", "error", err)
		return exitSetup
	}
	defer st.Close()

	pub, err := events.Connect(cfg.Events)
	if err != nil {
		slog.Error("Event publisher setup failed", "error", err)
		return exitSetup
	}
	defer pub.Close()

	var rec metrics.Recorder
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		rec = metrics.NewPrometheusRecorder(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	ctrl := buildController(cfg, st, rec, pub)

	w, err := watcher.New(cfg, st, ctrl)
	if err != nil {
		slog.Error("Watcher setup failed", "error", err)
		return exitSetup
	}
	if err := w.Start(ctx); err != nil {
		slog.Error("Watcher start failed", "error", err)
		return exitSetup
	}
	defer func() {
		if err := w.Stop(context.Background()); err != nil {
			slog.Warn("Watcher shutdown failed", "error", err)
		}
	}()

	// Pick up jobs interrupted by a previous shutdown.
	go func() {
		if err := ctrl.Resume(ctx); err != nil {
			slog.Warn("Job resume failed", "error", err)
		}
	}()

	api := server.New(cfg, st, ctrl, metricsHandler)
	if err := api.Start(ctx); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return exitSetup
	}
	return exitOK
}

func status(cfg *config.Config) int {
	ctx := context.Background()
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store setup failed", "error", err)
		return exitSetup
	}
	defer st.Close()

	if CLI.Status.JobID != "" {
		j, err := st.GetJob(ctx, CLI.Status.JobID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitSetup
		}
		printJob(j)
		return exitOK
	}

	jobs, err := st.ListJobs(ctx, "", 20)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitSetup
	}
	for _, j := range jobs {
		fmt.Printf("%-36s  %-15s  %3d%%  %s\n", j.ID, j.Status, j.Progress, j.SourceArchive)
	}
	return exitOK
}

func approve(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store setup failed", "error", err)
		return exitSetup
	}
	defer st.Close()

	pub, err := events.Connect(cfg.Events)
	if err != nil {
		slog.Error("Event publisher setup failed", "error", err)
		return exitSetup
	}
	defer pub.Close()

	ctrl := buildController(cfg, st, nil, pub)
	if err := ctrl.Approve(ctx, CLI.Approve.JobID); err != nil {
		if errors.Is(err, faults.ErrCancelled) || errors.Is(err, context.Canceled) {
			return exitCancelled
		}
		slog.Error("Approval failed", "job_id", CLI.Approve.JobID, "error", err)
		if errors.Is(err, faults.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return exitSetup
		}
		return exitJobFailed
	}

	final, err := st.GetJob(context.Background(), CLI.Approve.JobID)
	if err == nil {
		printJob(final)
	}
	return exitOK
}

func rollback(cfg *config.Config) int {
	ctx := context.Background()
	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Store setup failed", "error", err)
		return exitSetup
	}
	defer st.Close()

	ctrl := buildController(cfg, st, nil, nil)
	if err := ctrl.Rollback(ctx, CLI.Rollback.JobID); err != nil {
		slog.Error("Rollback failed", "job_id", CLI.Rollback.JobID, "error", err)
		return exitJobFailed
	}
	fmt.Println("Rolled back job", CLI.Rollback.JobID)
	return exitOK
}

func printJob(j *store.Job) {
	fmt.Printf("Job:        %s\n", j.ID)
	fmt.Printf("Status:     %s", j.Status)
	if j.CurrentPhase != "" {
		fmt.Printf(" (%s)", j.CurrentPhase)
	}
	fmt.Println()
	fmt.Printf("Progress:   %d%%\n", j.Progress)
	fmt.Printf("Source:     %s\n", j.SourceArchive)
	if j.OutputArchive != "" {
		fmt.Printf("Output:     %s\n", j.OutputArchive)
	}
	fmt.Printf("Files:      %d processed, %d renamed, %d moved\n",
		j.FilesProcessed, j.FilesRenamed, j.FilesMoved)
	fmt.Printf("Duplicates: %d groups, %d shortcuts\n", j.DuplicatesFound, j.ShortcutsCreated)
	fmt.Printf("Versions:   %d chains\n", j.VersionChainsFound)
	if j.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", j.ErrorMessage)
	}
}
