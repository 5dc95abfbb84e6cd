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

	"github.com/hrygo/mnemo/ai/memory"
	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/internal/version"
	"github.com/hrygo/mnemo/server"
	"github.com/hrygo/mnemo/server/auth"
)

var (
	rootCmd = &cobra.Command{
		Use:   "mnemo",
		Short: `Semantic memory service: a similarity-keyed response cache and per-owner knowledge retrieval.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// systemd units pass configuration through EnvironmentFile instead
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := loadProfile()
			logging.Setup(os.Stderr, instanceProfile.IsDev(), logging.ParseLevel(instanceProfile.LogLevel))

			ctx, cancel := context.WithCancel(context.Background())
			rt, err := memory.NewRuntime(ctx, instanceProfile)
			if err != nil {
				cancel()
				printDatabaseError(err, instanceProfile)
				slog.Error("failed to create memory runtime", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, rt)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				_ = rt.Shutdown(ctx)
				cancel()
				return
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			<-ctx.Done()
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue an API access token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile := &profile.Profile{}
			instanceProfile.FromEnv()
			authenticator := auth.NewAuthenticator(instanceProfile.JWTSecret)
			if authenticator == nil {
				return fmt.Errorf("MNEMO_JWT_SECRET is not set")
			}

			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := authenticator.IssueToken(args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("tuning", "", "path to a YAML file overriding memory thresholds")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "log-level", "tuning"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("mnemo")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	tokenCmd.Flags().String("role", "", `token role, "admin" allows cross-owner operations`)
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func loadProfile() *profile.Profile {
	instanceProfile := &profile.Profile{
		Mode:       viper.GetString("mode"),
		Addr:       viper.GetString("addr"),
		Port:       viper.GetInt("port"),
		Data:       viper.GetString("data"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		LogLevel:   viper.GetString("log-level"),
		TuningFile: viper.GetString("tuning"),
		Version:    version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		panic(err)
	}
	return instanceProfile
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Mnemo %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Embedding: %s (%s, %d dims)\n", profile.EmbeddingProvider, profile.EmbeddingModel, profile.EmbeddingDimensions)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.JWTSecret == "" {
		fmt.Fprint(os.Stderr, "API authentication is disabled (set MNEMO_JWT_SECRET to enable)\n")
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nFailed to start memory runtime")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not reachable.")
		fmt.Fprintf(os.Stderr, "   DSN: %s\n", profile.DSN)
		fmt.Fprintf(os.Stderr, "   Or use SQLite: ./mnemo --driver=sqlite --data=./data\n")

	case strings.Contains(errMsg, "sslmode") || strings.Contains(errMsg, "SSL is not enabled"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL SSL configuration mismatch.")
		fmt.Fprintf(os.Stderr, "   Add ?sslmode=disable to your DSN.\n")

	case strings.Contains(errMsg, "extension \"vector\""):
		fmt.Fprintln(os.Stderr, "\nThe pgvector extension is not installed.")
		fmt.Fprintf(os.Stderr, "   Run: CREATE EXTENSION vector;\n")

	case strings.Contains(errMsg, "embedding API key"):
		fmt.Fprintln(os.Stderr, "\nEmbedding provider is not configured.")
		fmt.Fprintf(os.Stderr, "   Set MNEMO_EMBEDDING_API_KEY, or MNEMO_EMBEDDING_PROVIDER=local for offline use.\n")

	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
