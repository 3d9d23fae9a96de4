package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/deepsearch/ai/agent"
	"github.com/hrygo/deepsearch/ai/llm"
	"github.com/hrygo/deepsearch/ai/metrics"
	"github.com/hrygo/deepsearch/ai/search"
	"github.com/hrygo/deepsearch/ai/tracing"
	"github.com/hrygo/deepsearch/internal/profile"
	"github.com/hrygo/deepsearch/internal/version"
	"github.com/hrygo/deepsearch/server"
	"github.com/hrygo/deepsearch/server/auth"
	apiv1 "github.com/hrygo/deepsearch/server/router/api/v1"
	"github.com/hrygo/deepsearch/store"
	"github.com/hrygo/deepsearch/store/db"
	"github.com/hrygo/deepsearch/stream"
)

var rootCmd = &cobra.Command{
	Use:   "deepsearch",
	Short: "A web chat service with live search: resumable streaming answers grounded in web results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load .env from the current directory; absence is fine.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return err
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return err
		}

		llmService, err := llm.NewService(&llm.Config{
			Model:   instanceProfile.LLMModel,
			APIKey:  instanceProfile.LLMAPIKey,
			BaseURL: instanceProfile.LLMBaseURL,
			Timeout: instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create llm service", "error", err)
			return err
		}

		var searchService search.Service
		if instanceProfile.IsSearchEnabled() {
			searchService, err = search.NewService(&search.Config{
				APIKey:  instanceProfile.SearchAPIKey,
				BaseURL: instanceProfile.SearchBaseURL,
			})
			if err != nil {
				slog.Error("failed to create search service", "error", err)
				return err
			}
		} else {
			slog.Warn("web search disabled, no api key configured")
			searchService = search.Disabled()
		}

		tracer := tracing.New(&tracing.Config{
			PublicKey: instanceProfile.TracePublicKey,
			SecretKey: instanceProfile.TraceSecretKey,
			BaseURL:   instanceProfile.TraceBaseURL,
		})
		exporter := metrics.NewPrometheusExporter(metrics.Config{})

		broker := stream.NewBroker(stream.Config{
			Retention: time.Duration(instanceProfile.StreamRetentionSeconds) * time.Second,
		})

		orchestrator := agent.New(llmService, searchService, storeInstance, tracer, exporter, agent.Config{
			Model: instanceProfile.LLMModel,
		})

		authProvider := auth.NewJWTProvider(instanceProfile.JWTSecret, "deepsearch")
		apiService := apiv1.NewAPIV1Service(instanceProfile, storeInstance, broker, orchestrator, authProvider, tracer, exporter)
		s := server.NewServer(instanceProfile, apiService, broker, tracer, exporter)

		// Trigger graceful shutdown on SIGINT or SIGTERM. SIGTERM is what
		// most process managers (systemd, kubernetes) send first.
		signalCtx, stop := signal.NotifyContext(ctx, terminationSignals...)
		defer stop()

		group, groupCtx := errgroup.WithContext(signalCtx)
		group.Go(s.Start)
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			s.Shutdown(shutdownCtx)
			return nil
		})

		printGreetings(instanceProfile)
		return group.Wait()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28080, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("deepsearch")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("DeepSearch %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
