package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kanban-board/classifier"
	"kanban-board/config"
	"kanban-board/domain"
	"kanban-board/storage"
	"kanban-board/triage"
)

const (
	keyDryRun     = "TRIAGE_DRY_RUN"
	keyRules      = "TRIAGE_RULES"
	keyWorkerIdle = "TRIAGE_WORKER_IDLE"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(config.New(), os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Move tasks waiting in klausi back to karim with an audit note",
		Long: `Classifies every task in the klausi column, prepends a German audit note to its
description and moves it to karim. Per-task failures are reported but do not
change the exit status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			c, err := loadClassifier(v.GetString(keyRules))
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), store, c, v.GetBool(keyDryRun), out)
		},
	}
	cmd.PersistentFlags().String("rules", "", "YAML file with classification rules (defaults to the built-in rules)")
	cmd.Flags().Bool("dry-run", false, "report what would move without writing")
	_ = v.BindPFlag(keyRules, cmd.PersistentFlags().Lookup("rules"))
	_ = v.BindPFlag(keyDryRun, cmd.Flags().Lookup("dry-run"))

	cmd.AddCommand(newWorkerCmd(v, out))
	return cmd
}

func newWorkerCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a triage pass for every request on the triage queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			c, err := loadClassifier(v.GetString(keyRules))
			if err != nil {
				return err
			}
			p := triage.NewProcessor(store,
				triage.WithActivity(store),
				triage.WithClassifier(c),
				triage.WithLogger(log.StandardLogger()),
			)
			w := triage.NewWorker(store, p, log.StandardLogger(), v.GetDuration(keyWorkerIdle))
			w.OnRun(func(req domain.TriageRequest, results []triage.Result) {
				_ = triage.WriteSummary(out, results, req.DryRun)
			})
			log.Info("triage worker started")
			if err := w.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			log.Info("triage worker stopped")
			return nil
		},
	}
	cmd.Flags().Duration("idle", 5*time.Second, "poll interval while the queue is empty")
	_ = v.BindPFlag(keyWorkerIdle, cmd.Flags().Lookup("idle"))
	return cmd
}

// openStore builds the storage client. Change notifications are attached when
// Redis is configured so open boards refresh after a run.
func openStore(v *viper.Viper) (*storage.Storage, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	var notifier *storage.Notifier
	if cfg.RedisConnectionString != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		notifier = storage.NewNotifier(redis.NewClient(opts), cfg.ChangesChannel, log.StandardLogger())
	}
	store, err := storage.New(cfg.StorageOptions(), notifier, log.StandardLogger())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return store, nil
}

func loadClassifier(path string) (*classifier.Classifier, error) {
	if path == "" {
		return classifier.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	defer f.Close()
	rules, err := classifier.LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return classifier.New(rules...), nil
}

type triageStore interface {
	triage.Store
	triage.ActivityRecorder
}

// runOnce performs a single pass and prints the summary. Only a failure to
// list the tasks is returned.
func runOnce(ctx context.Context, store triageStore, c *classifier.Classifier, dryRun bool, out io.Writer) error {
	p := triage.NewProcessor(store,
		triage.WithActivity(store),
		triage.WithClassifier(c),
		triage.WithLogger(log.StandardLogger()),
	)
	results, err := p.Run(ctx, dryRun)
	if err != nil {
		return err
	}
	return triage.WriteSummary(out, results, dryRun)
}
