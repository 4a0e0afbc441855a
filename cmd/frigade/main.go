// Command frigade is a small diagnostic CLI for the Frigade SDK. It
// initializes a client against the hosted API and prints every flow visible
// to the configured user with its derived status, completed step count and
// next actionable step.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/frigade/frigade-go"
	"github.com/frigade/frigade-go/internal/store"
	"github.com/frigade/frigade-go/internal/util"
)

// Default configuration constants
const (
	// DefaultTimeout bounds the initial sync.
	DefaultTimeout = 30 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if *flags.apiKey == "" {
		slog.Error("No API key provided; set FRIGADE_API_KEY or --api-key")
		os.Exit(1)
	}

	opts, local, err := buildClientOptions(flags)
	if err != nil {
		slog.Error("Failed to configure local store", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	client, err := frigade.New(ctx, *flags.apiKey, opts...)
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		if local != nil {
			local.Close()
		}
		os.Exit(1)
	}
	defer client.Close()

	if err := printFlows(client, *flags.verbose); err != nil {
		slog.Error("Failed to list flows", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	APIKey  string
	UserID  string
	OrgID   string
	BaseURL string
	DSN     string
}

// Flags holds command line flag values
type Flags struct {
	apiKey  *string
	userID  *string
	orgID   *string
	baseURL *string
	dsn     *string
	verbose *bool
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("FRIGADE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIKey:  os.Getenv("FRIGADE_API_KEY"),
		UserID:  os.Getenv("FRIGADE_USER_ID"),
		OrgID:   os.Getenv("FRIGADE_ORG_ID"),
		BaseURL: os.Getenv("FRIGADE_API_URL"),
		DSN:     os.Getenv("FRIGADE_DB_DSN"),
	}

	slog.Debug("environment variables loaded",
		"FRIGADE_API_KEY_SET", config.APIKey != "",
		"FRIGADE_USER_ID", config.UserID,
		"FRIGADE_ORG_ID", config.OrgID,
		"FRIGADE_API_URL", config.BaseURL,
		"FRIGADE_DB_DSN_SET", config.DSN != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiKey:  flag.String("api-key", config.APIKey, "Frigade public API key (overrides $FRIGADE_API_KEY)"),
		userID:  flag.String("user-id", config.UserID, "user identifier; a guest id is generated when empty (overrides $FRIGADE_USER_ID)"),
		orgID:   flag.String("org-id", config.OrgID, "organization identifier for targeting (overrides $FRIGADE_ORG_ID)"),
		baseURL: flag.String("api-url", config.BaseURL, "hosted API endpoint override (overrides $FRIGADE_API_URL)"),
		dsn:     flag.String("db-dsn", config.DSN, "local store DSN, SQLite path or PostgreSQL URL (overrides $FRIGADE_DB_DSN)"),
		verbose: flag.Bool("steps", false, "also print each step with its status"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"apiKeySet", *flags.apiKey != "",
		"userID", *flags.userID,
		"orgID", *flags.orgID,
		"baseURL", *flags.baseURL,
		"dsnSet", *flags.dsn != "",
		"steps", *flags.verbose)

	return flags
}

// buildClientOptions constructs client options, opening the local store when
// a DSN is configured. The returned store is owned by the client once New
// succeeds.
func buildClientOptions(flags Flags) ([]frigade.Option, store.Store, error) {
	var opts []frigade.Option
	if *flags.userID != "" {
		opts = append(opts, frigade.WithUserID(*flags.userID))
	}
	if *flags.orgID != "" {
		opts = append(opts, frigade.WithOrganizationID(*flags.orgID))
	}
	if *flags.baseURL != "" {
		opts = append(opts, frigade.WithBaseURL(*flags.baseURL))
	}

	var local store.Store
	if *flags.dsn != "" {
		var err error
		if store.DetectDSNType(*flags.dsn) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			local, err = store.NewPostgresStore(store.WithDSN(*flags.dsn))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dsn)
			local, err = store.NewSQLiteStore(store.WithDSN(*flags.dsn))
		}
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, frigade.WithStore(local))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return opts, local, nil
}

// printFlows lists every catalog flow with its derived state.
func printFlows(client *frigade.Client, withSteps bool) error {
	flows, err := client.GetFlows()
	if err != nil {
		return err
	}
	fmt.Printf("user: %s\n", client.UserID())
	if len(flows) == 0 {
		fmt.Println("no flows in catalog")
		return nil
	}
	for _, flow := range flows {
		def, err := flow.Definition()
		if err != nil {
			return err
		}
		visibility := "hidden"
		if flow.Visible() {
			visibility = "visible"
		}
		fmt.Printf("%s (%s, %s): %s, %d/%d steps completed, next step %d\n",
			flow.ID(), def.Type, visibility, flow.Status(),
			flow.StepsCompleted(), flow.TotalSteps(), flow.NextStepIndex())
		if withSteps {
			for _, step := range flow.Steps() {
				sdef, err := step.Definition()
				if err != nil {
					return err
				}
				fmt.Printf("  [%d] %s (%s): %s\n", step.Index(), step.ID(), sdef.Title, step.Status())
			}
		}
	}
	return nil
}
