package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/config"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	configViper := config.NewViper()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "anki2spotify-api",
		Short:        "Anki deck import backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configViper, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
	}

	setupFlags(rootCmd, configViper, &cfgFile)
	rootCmd.AddCommand(newServeCommand(configViper), newInspectCommand(configViper))
	return rootCmd
}

func newServeCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP import API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
	}
}

func setupFlags(cmd *cobra.Command, configViper *viper.Viper, cfgFile *string) {
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("cookie-name", defaults.GetString("tauth.cookie_name"), "Session cookie name")
	flags.String("temp-dir", defaults.GetString("import.temp_dir"), "Scratch directory for decoded collections")
	flags.Int64("max-package-bytes", defaults.GetInt64("import.max_package_bytes"), "Largest accepted package in bytes")

	bindFlag(cmd, configViper, "http.address", "http-address")
	bindFlag(cmd, configViper, "log.level", "log-level")
	bindFlag(cmd, configViper, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, configViper, "tauth.cookie_name", "cookie-name")
	bindFlag(cmd, configViper, "import.temp_dir", "temp-dir")
	bindFlag(cmd, configViper, "import.max_package_bytes", "max-package-bytes")
}

func bindFlag(cmd *cobra.Command, configViper *viper.Viper, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(configViper *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	configViper.SetConfigFile(cfgFile)
	return configViper.ReadInConfig()
}

func newParser(appConfig config.AppConfig, logger *zap.Logger) *apkg.Parser {
	return apkg.NewParser(apkg.ParserConfig{
		TempDir:            appConfig.ImportTempDir,
		MaxPackageBytes:    appConfig.MaxPackageBytes,
		MaxCollectionBytes: appConfig.MaxCollectionBytes,
		Logger:             logger,
	})
}

func runServer(ctx context.Context, configViper *viper.Viper) error {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Parser:           newParser(appConfig, logger),
		IDProvider:       server.NewUUIDProvider(),
		Logger:           logger,
		MaxUploadBytes:   appConfig.MaxPackageBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
