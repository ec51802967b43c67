package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/you/event-booking/pkg/config"
	"github.com/you/event-booking/pkg/db"
	"github.com/you/event-booking/pkg/httpx"
	"github.com/you/event-booking/pkg/obs"
	"github.com/you/event-booking/services/event-service/internal/domain"
	"github.com/you/event-booking/services/event-service/internal/repository"
	"github.com/you/event-booking/services/event-service/internal/service"
	thttp "github.com/you/event-booking/services/event-service/internal/transport/http"
)

const serviceName = "event-service"

func main() {
	var cfg config.Event
	rootCmd := &cobra.Command{
		Use:          "event",
		Short:        "event inventory service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load(&cfg)
		},
	}
	rootCmd.AddCommand(
		serveCommand(&cfg),
		migrateCommand(&cfg),
		seedCommand(&cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openRepo(cfg *config.Event) (*repository.EventRepo, error) {
	gdb, err := db.Open(cfg.PGEventDSN)
	if err != nil {
		return nil, err
	}
	return repository.NewEventRepo(gdb), nil
}

func serveCommand(cfg *config.Event) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownObs, err := obs.Init(ctx, serviceName, cfg.Obs)
			if err != nil {
				return err
			}
			logger := obs.NewLogger(serviceName, cfg.Obs)
			defer func() { _ = logger.Sync() }()

			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			if err := repo.Migrate(); err != nil {
				return err
			}

			r := httpx.NewEngine(serviceName, nil, logger)
			thttp.NewEventHandler(service.NewEventSvc(repo)).Register(r)
			srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = srv.Shutdown(shutdownCtx)
			return errors.Join(err, shutdownObs(shutdownCtx))
		},
	}
}

func migrateCommand(cfg *config.Event) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the events table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			if err := repo.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrated up")
			return nil
		},
	}
}

func seedCommand(cfg *config.Event) *cobra.Command {
	var (
		in        domain.Event
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "insert an event, or reset it with --overwrite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			if err := repo.Migrate(); err != nil {
				return err
			}
			svc := service.NewEventSvc(repo)
			seed := svc.Create
			if overwrite {
				seed = svc.Seed
			}
			e, err := seed(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded event %s (%q) with %d tickets\n", e.ID, e.Title, e.AvailableTickets)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "event id (generated when empty)")
	cmd.Flags().StringVar(&in.Title, "title", "", "event title")
	cmd.Flags().IntVar(&in.AvailableTickets, "tickets", 0, "available tickets")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing event with the same id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
