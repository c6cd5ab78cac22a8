package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/catalog"
	"stackanalyser/internal/cli"
	"stackanalyser/internal/config"
	"stackanalyser/internal/logging"
	"stackanalyser/internal/mail"
	"stackanalyser/internal/pipeline"
	"stackanalyser/internal/storage"
	"stackanalyser/internal/tasks"
	"stackanalyser/internal/workspace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Paths.DatabaseDriver, cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run database: %w", err)
	}
	defer store.Close()

	cat, err := catalog.New(cfg.Paths.DatabaseDriver, cfg.Paths.CatalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	var sender mail.Sender = mail.Noop{Logger: log}
	if cfg.Mail.Host != "" {
		sender = mail.SMTPSender{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
		}
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	engine := &analysis.Engine{
		Source:   cat,
		Attacher: cat,
		Runner:   tasks.NewImageJ(cfg.ImageJ, tasks.WithLogger(log)),
		Mailer:   sender,
		Workspace: workspace.Options{
			Root:        cfg.Workspace.Root,
			ForceRemove: cfg.Workspace.ForceRemove,
			Logger:      log,
		},
		ChunkSize:        cfg.Workspace.ChunkSize,
		MailFrom:         cfg.Mail.From,
		DefaultRecipient: cfg.Mail.DefaultRecipient,
		Host:             host,
		Log:              log,
	}

	pipe := pipeline.New(ctx, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, log, store, pipeline.NewRouter(log, store, engine))
	defer pipe.Stop()

	root := cli.NewRoot(pipe, cfg, log, store, cat)
	return cli.NewRootCmd(root).ExecuteContext(ctx)
}
