package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shanehull/douclip/internal/ai"
	"github.com/shanehull/douclip/internal/config"
	"github.com/shanehull/douclip/internal/extract"
	"github.com/shanehull/douclip/internal/filter"
	"github.com/shanehull/douclip/internal/history"
	"github.com/shanehull/douclip/internal/inlabs"
	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/notify"
	"github.com/shanehull/douclip/internal/pipeline"
	"github.com/shanehull/douclip/internal/planner"
	"github.com/shanehull/douclip/internal/types"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()

	if a.log != nil {
		_ = a.log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "douclip",
		Short:        "Clip the Diário Oficial da União for configured keywords",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")

	root.AddCommand(newRunCmd(a), newBackfillCmd(a), newRunsCmd(a))
	return root
}

func (a *app) init() error {
	// Secrets usually live in .env next to the config; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, err := logger.New(level)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func (a *app) openStore() (*history.Store, error) {
	store, err := history.Open(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// execute runs the pipeline once. The result is returned even on failure so
// the caller can still report the recorded run.
func (a *app) execute(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if err := a.cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.log.Warn("Failed to close history", zap.Error(cerr))
		}
	}()

	client, err := inlabs.New(a.cfg.INLABSClientConfig(), a.log.With(zap.String("component", "inlabs")))
	if err != nil {
		return a.recordSetupFailure(ctx, store, req, fmt.Errorf("failed to create inlabs client: %w", err))
	}

	engine := filter.NewEngine(a.cfg.CompiledFilters(), a.cfg.SnippetSize)
	orch := pipeline.New(
		client,
		store,
		extract.NewSet(a.log.With(zap.String("component", "extract"))),
		engine,
		a.cfg.PipelineOptions(),
		a.log.With(zap.String("component", "pipeline")),
	)

	return orch.Run(ctx, req)
}

// recordSetupFailure writes an error run for a failure that happens before
// the pipeline starts, so it still shows up in the history.
func (a *app) recordSetupFailure(ctx context.Context, store *history.Store, req pipeline.Request, cause error) (*pipeline.Result, error) {
	run := &types.Run{Mode: req.Mode, StartDate: planner.Day(req.Start), EndDate: planner.Day(req.End)}
	if dates, err := planner.Plan(req.Mode, req.Start, req.End, a.cfg.LookbackDays()); err == nil {
		if first, last, ok := planner.Window(dates); ok {
			run.StartDate, run.EndDate = first, last
		}
	}

	a.log.Error("Run failed", zap.String("mode", string(req.Mode)), zap.Error(cause))
	recorded, err := store.RecordFailure(context.WithoutCancel(ctx), run, cause)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return &pipeline.Result{Run: recorded}, cause
}

func (a *app) notifier(allowEmail bool) *notify.Notifier {
	var summarizer notify.Summarizer
	if a.cfg.AI.APIKey != "" {
		summarizer = ai.NewSummarizer(a.cfg.AI.APIKey, a.cfg.AI.Model)
	}

	log := a.log.With(zap.String("component", "notify"))
	return notify.NewNotifier(
		notify.NewHTMLEmailRenderer(a.cfg.Mail.SubjectPrefix),
		notify.NewEmailSender(a.cfg.EmailConfig(), log),
		summarizer,
		a.cfg.AlwaysWindow(),
		a.cfg.Mail.Enabled && allowEmail,
		log,
	)
}
