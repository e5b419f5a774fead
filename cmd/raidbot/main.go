package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raidworks/raidbot/internal/auth"
	"github.com/raidworks/raidbot/internal/config"
	"github.com/raidworks/raidbot/internal/database"
	"github.com/raidworks/raidbot/internal/logging"
	"github.com/raidworks/raidbot/internal/metrics"
	"github.com/raidworks/raidbot/internal/notify"
	"github.com/raidworks/raidbot/internal/raid"
	"github.com/raidworks/raidbot/internal/reaction"
	"github.com/raidworks/raidbot/internal/roster"
	"github.com/raidworks/raidbot/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "raidbot",
		Short: "Raid campaign coordination service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("metrics-base-url", defaults.GetString("metrics.base_url"), "Tweet metrics API base URL")
	cmd.PersistentFlags().String("metrics-bearer-token", "", "Tweet metrics API bearer token (overrides env)")
	cmd.PersistentFlags().String("telegram-api-base", defaults.GetString("telegram.api_base"), "Telegram bot API base URL")
	cmd.PersistentFlags().String("telegram-bot-token", "", "Telegram bot token (overrides env)")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("raid.poll_interval"), "Raid metrics poll interval")
	cmd.PersistentFlags().Duration("raid-duration", defaults.GetDuration("raid.duration"), "Raid expiry horizon")
	cmd.PersistentFlags().String("callback-signing-secret", "", "Reaction callback signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "metrics.base_url", "metrics-base-url")
	bindFlag(cmd, "metrics.bearer_token", "metrics-bearer-token")
	bindFlag(cmd, "telegram.api_base", "telegram-api-base")
	bindFlag(cmd, "telegram.bot_token", "telegram-bot-token")
	bindFlag(cmd, "raid.poll_interval", "poll-interval")
	bindFlag(cmd, "raid.duration", "raid-duration")
	bindFlag(cmd, "callback.signing_secret", "callback-signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger,
		&raid.Raid{},
		&reaction.Reaction{},
		&roster.Team{},
		&roster.Raider{},
		&roster.Project{},
		&roster.ProjectBalance{},
	)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tweetSource, err := metrics.NewTweetSource(metrics.TweetSourceConfig{
		BaseURL:     appConfig.MetricsBaseURL,
		BearerToken: appConfig.MetricsBearerToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	telegram, err := notify.NewTelegram(notify.TelegramConfig{
		APIBase:  appConfig.TelegramAPIBase,
		BotToken: appConfig.TelegramBotToken,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	callbacks, err := auth.NewCallbackIssuer(auth.CallbackIssuerConfig{
		SigningSecret: []byte(appConfig.CallbackSigningKey),
		TokenTTL:      appConfig.RaidDuration,
	})
	if err != nil {
		return err
	}

	engine, err := raid.NewEngine(raid.EngineConfig{
		Database:     db,
		Metrics:      tweetSource,
		Notifier:     telegram,
		IDProvider:   raid.NewUUIDProvider(),
		Clock:        time.Now,
		Logger:       logger,
		PollInterval: appConfig.PollInterval,
		RaidDuration: appConfig.RaidDuration,
	})
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	reactionService, err := reaction.NewService(reaction.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rosterService, err := roster.NewService(roster.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := engine.Restore(ctx); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:     engine,
		Reactions:  reactionService,
		Roster:     rosterService,
		Callbacks:  callbacks,
		Privileges: telegram,
		Announcer:  telegram,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
