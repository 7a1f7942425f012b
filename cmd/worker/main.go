package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/livsafe-api/internal/config"
	"github.com/jwalitptl/livsafe-api/internal/repository/sqlstore"
	authService "github.com/jwalitptl/livsafe-api/internal/service/auth"
	"github.com/jwalitptl/livsafe-api/internal/service/maintenance"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/auth"
	"github.com/jwalitptl/livsafe-api/pkg/logger"
	"github.com/jwalitptl/livsafe-api/pkg/messaging"
	"github.com/jwalitptl/livsafe-api/pkg/messaging/redis"
	"github.com/jwalitptl/livsafe-api/pkg/security"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type worker struct {
	configFile string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	w := &worker{}

	cmd := &cobra.Command{
		Use:           "livsafe-worker",
		Short:         "Maintenance jobs for the LivSafe API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(w.configFile)
			if err != nil {
				return err
			}
			logger.Setup(cfg.Log.ToLoggerConfig())
			w.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&w.configFile, "config", "", "path to a config file")

	cmd.AddCommand(
		w.migrateCommand(),
		w.reconcileCommand(),
		w.cleanupSessionsCommand(),
		w.eventsCommand(),
	)
	return cmd
}

func (w *worker) openDB(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlstore.NewDB(w.cfg.Database)
	if err != nil {
		return nil, err
	}
	if _, err := sqlstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (w *worker) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending shared store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqlstore.NewDB(w.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := sqlstore.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info().Int("applied", applied).Str("driver", w.cfg.Database.Driver).Msg("migrations complete")
			return nil
		},
	}
}

func (w *worker) reconcileCommand() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Provision missing tenant stores, migrate existing ones and report orphans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := w.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			tenants, err := tenant.NewProvisioner(w.cfg.Tenants.Root, logger.Zap(w.cfg.Log.ToLoggerConfig()), nil)
			if err != nil {
				return err
			}

			report, err := maintenance.NewService(sqlstore.New(db), tenants).Reconcile(cmd.Context(), prune)
			if err != nil {
				return err
			}

			log.Info().
				Int("provisioned", report.Provisioned).
				Int("checked", report.Checked).
				Int("orphans", len(report.Orphans)).
				Int("pruned", report.Pruned).
				Msg("reconcile complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "remove tenant stores whose owner no longer exists")
	return cmd
}

func (w *worker) cleanupSessionsCommand() *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Delete expired login sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := w.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			jwtSvc, err := auth.NewJWTService(w.cfg.JWT.Secret, w.cfg.JWT.Expiry())
			if err != nil {
				return err
			}
			svc := authService.NewService(sqlstore.New(db),
				security.NewBcryptHasher(w.cfg.Security.BcryptCost), jwtSvc, nil)

			cleanup := func() error {
				n, err := svc.CleanupSessions(cmd.Context())
				if err != nil {
					return err
				}
				log.Info().Int64("deleted", n).Msg("expired sessions removed")
				return nil
			}

			if every <= 0 {
				return cleanup()
			}

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := cleanup(); err != nil {
					log.Error().Err(err).Msg("session cleanup failed")
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat at this interval until interrupted")
	return cmd
}

func (w *worker) eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow domain events published on the Redis channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if w.cfg.Redis.URL == "" {
				return fmt.Errorf("redis.url is not configured")
			}

			broker, err := redis.NewRedisBroker(cmd.Context(), w.cfg.Redis.ToBrokerConfig(), log.Logger)
			if err != nil {
				return err
			}
			defer broker.Close()

			channel := w.cfg.Redis.Channel
			if channel == "" {
				channel = messaging.DefaultChannel
			}
			messages, err := broker.Subscribe(cmd.Context(), channel)
			if err != nil {
				return err
			}
			log.Info().Str("channel", channel).Msg("following events")

			for payload := range messages {
				var msg struct {
					Type       string          `json:"type"`
					Payload    json.RawMessage `json:"payload"`
					OccurredAt time.Time       `json:"occurred_at"`
				}
				if err := json.Unmarshal(payload, &msg); err != nil {
					log.Warn().Err(err).Msg("skipping malformed event")
					continue
				}
				log.Info().
					Str("type", msg.Type).
					Time("occurred_at", msg.OccurredAt).
					RawJSON("payload", msg.Payload).
					Msg("event")
			}
			return nil
		},
	}
}
