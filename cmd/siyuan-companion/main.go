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

	"github.com/hrygo/siyuan-companion/internal/profile"
	"github.com/hrygo/siyuan-companion/internal/version"
	"github.com/hrygo/siyuan-companion/server"
	"github.com/hrygo/siyuan-companion/store"
	"github.com/hrygo/siyuan-companion/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "siyuan-companion",
		Short: `A sidecar for SiYuan that indexes your notes into a vector store and grounds OpenAI-compatible requests with retrieved context.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as
			// a systemd service, which carries its own environment)
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode:             viper.GetString("mode"),
				Addr:             viper.GetString("addr"),
				Port:             viper.GetInt("port"),
				Data:             viper.GetString("data"),
				SiyuanURL:        viper.GetString("siyuan-url"),
				SiyuanToken:      viper.GetString("siyuan-token"),
				VectorDriver:     viper.GetString("vector-driver"),
				QdrantLocation:   viper.GetString("qdrant-location"),
				CollectionName:   viper.GetString("qdrant-collection-name"),
				VectorDSN:        viper.GetString("vector-dsn"),
				OpenAIURL:        viper.GetString("openai-url"),
				OpenAIToken:      viper.GetString("openai-token"),
				CompanionToken:   viper.GetString("companion-token"),
				ForceUpdateIndex: viper.GetBool("force-update-index"),
				LogLevel:         viper.GetString("companion-logging-level"),
				IndexInterval:    viper.GetDuration("index-interval"),
				Version:          version.String(),
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: instanceProfile.SlogLevel(),
			})))

			ctx, cancel := context.WithCancel(context.Background())
			driver, err := db.NewDriver(instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to create vector store driver", "error", err)
				os.Exit(1)
			}

			storeInstance := store.New(driver, instanceProfile)

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				os.Exit(1)
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM. The default
			// signal sent by the `kill` command is SIGTERM, which most
			// process managers use to request shutdown.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				cancel()
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("vector-driver", "qdrant")
	viper.SetDefault("port", 8000)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8000, "port of server")
	rootCmd.PersistentFlags().String("data", ".", "data directory holding the update cursor")
	rootCmd.PersistentFlags().String("siyuan-url", "http://localhost:6806", "SiYuan kernel API root")
	rootCmd.PersistentFlags().String("siyuan-token", "", "SiYuan kernel API token")
	rootCmd.PersistentFlags().String("vector-driver", "qdrant", "vector store driver (qdrant, postgres)")
	rootCmd.PersistentFlags().String("qdrant-location", "localhost:6334", "qdrant gRPC target, http(s):// accepted")
	rootCmd.PersistentFlags().String("qdrant-collection-name", "siyuan_ai_companion", "vector collection / table name")
	rootCmd.PersistentFlags().String("vector-dsn", "", "postgres DSN when the vector driver is postgres")
	rootCmd.PersistentFlags().String("openai-url", "https://api.openai.com/v1", "upstream OpenAI-compatible base URL")
	rootCmd.PersistentFlags().String("openai-token", "", "upstream bearer token")
	rootCmd.PersistentFlags().String("companion-token", "", "inbound bearer token, empty disables auth")
	rootCmd.PersistentFlags().Bool("force-update-index", false, "delete the update cursor before the first sweep")
	rootCmd.PersistentFlags().String("companion-logging-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("index-interval", 5*time.Minute, "interval between index sweeps")

	for _, key := range []string{
		"mode", "addr", "port", "data",
		"siyuan-url", "siyuan-token",
		"vector-driver", "qdrant-location", "qdrant-collection-name", "vector-dsn",
		"openai-url", "openai-token", "companion-token",
		"force-update-index", "companion-logging-level", "index-interval",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	// Environment variables use the flag names in UPPER_SNAKE form
	// (SIYUAN_URL, QDRANT_LOCATION, ...), no prefix.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("SiYuan Companion %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Vector driver: %s\n", profile.VectorDriver)
	fmt.Printf("SiYuan kernel: %s\n", profile.SiyuanURL)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}

	fmt.Println()
	fmt.Printf("Source code: %s\n", "https://github.com/hrygo/siyuan-companion")
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
