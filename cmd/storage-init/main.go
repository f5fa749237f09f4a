package main

import (
	"context"
	"errors"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kanban-board/config"
	"kanban-board/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:           "storage-init",
		Short:         "Create the board tables and triage queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				log.Errorf("config: %v", err)
				return err
			}
			if cfg.Debug {
				log.SetLevel(log.DebugLevel)
			}
			seed, _ := cmd.Flags().GetBool("seed")
			return run(cmd.Context(), cfg, seed)
		},
	}
	cmd.Flags().Bool("seed", false, "insert the demo tasks")
	return cmd
}

func run(ctx context.Context, cfg config.Config, seed bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info("storage init starting")

	if err := createTables(ctx, cfg.StorageConnectionString, []string{
		cfg.TasksTable,
		cfg.ActivityTable,
		cfg.NotesTable,
		cfg.DeliverablesTable,
	}); err != nil {
		log.Errorf("create tables: %v", err)
		return err
	}
	if err := createQueues(ctx, cfg.StorageConnectionString, []string{cfg.TriageQueue}); err != nil {
		log.Errorf("create queues: %v", err)
		return err
	}

	if seed {
		if err := seedTasks(ctx, cfg); err != nil {
			log.Errorf("seed: %v", err)
			return err
		}
	}
	log.Info("storage init complete")
	return nil
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

// seedTasks upserts the demo tasks. Open boards are notified when Redis is
// configured.
func seedTasks(ctx context.Context, cfg config.Config) error {
	var notifier *storage.Notifier
	if cfg.RedisConnectionString != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		notifier = storage.NewNotifier(rc, cfg.ChangesChannel, log.StandardLogger())
	}
	store, err := storage.New(cfg.StorageOptions(), notifier, log.StandardLogger())
	if err != nil {
		return err
	}
	tasks := demoTasks()
	if err := store.SeedTasks(ctx, tasks); err != nil {
		return err
	}
	for _, t := range tasks {
		log.WithFields(log.Fields{"task": t.ID, "stage": t.Stage}).Infof("seeded %s", t.Title)
	}
	return nil
}
