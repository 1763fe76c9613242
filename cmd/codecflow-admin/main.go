package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/config"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

func main() {
	var (
		command       = flag.String("command", "", "Command to execute: create-key, revoke-key, list-keys, cleanup, stats, migrate")
		configFile    = flag.String("config", "", "Configuration file path")
		keyName       = flag.String("name", "", "API key name")
		description   = flag.String("description", "", "API key description")
		admin         = flag.Bool("admin", false, "Grant admin privileges to the new key")
		maxConcurrent = flag.Int("max-concurrent", 0, "Concurrent job limit for the new key (0 uses the configured default)")
		expiresDays   = flag.Int("expires-days", 0, "Days until the new key expires (0 means never)")
		retentionDays = flag.Int("retention-days", 0, "Retention override for cleanup (0 uses the configured default)")
		dryRun        = flag.Bool("dry-run", false, "Report what cleanup would delete without deleting")
	)
	flag.Parse()

	if *command == "" {
		fmt.Println("CodecFlow Admin Tool")
		fmt.Println("Usage: codecflow-admin -command=<cmd> [options]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  create-key   Create an API key (the secret is printed once)")
		fmt.Println("  revoke-key   Revoke an API key by name")
		fmt.Println("  list-keys    List API keys")
		fmt.Println("  cleanup      Delete terminal jobs past the retention window")
		fmt.Println("  stats        Show job counts and throughput")
		fmt.Println("  migrate      Apply pending schema migrations")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config <path>        Configuration file")
		fmt.Println("  -name <name>          Key name for create-key and revoke-key")
		fmt.Println("  -admin                Create the key with admin privileges")
		fmt.Println("  -max-concurrent <n>   Concurrent job limit for the new key")
		fmt.Println("  -expires-days <n>     Expiry for the new key")
		fmt.Println("  -retention-days <n>   Retention override for cleanup")
		fmt.Println("  -dry-run              Cleanup reports instead of deleting")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Admin runs are interactive; keep log noise out of the output.
	logging.InitGlobalLogger(&logging.Config{
		Level:            logging.WarnLevel,
		Output:           os.Stderr,
		EnableSanitizing: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := jobstore.NewDatabase(ctx, &jobstore.DatabaseConfig{
		ConnectionString: cfg.Database.URL,
		MaxConnections:   2,
		MigrationsPath:   cfg.Database.MigrationsPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *command {
	case "create-key":
		if *keyName == "" {
			fmt.Fprintf(os.Stderr, "Error: -name is required for create-key\n")
			os.Exit(1)
		}
		limit := *maxConcurrent
		if limit <= 0 {
			limit = cfg.Jobs.MaxConcurrentPerKey
		}
		var expiresAt *time.Time
		if *expiresDays > 0 {
			t := time.Now().UTC().AddDate(0, 0, *expiresDays)
			expiresAt = &t
		}
		if err := createKey(ctx, db, *keyName, *description, *admin, limit, expiresAt); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating key: %v\n", err)
			os.Exit(1)
		}
	case "revoke-key":
		if *keyName == "" {
			fmt.Fprintf(os.Stderr, "Error: -name is required for revoke-key\n")
			os.Exit(1)
		}
		if err := db.RevokeAPIKey(ctx, *keyName); err != nil {
			fmt.Fprintf(os.Stderr, "Error revoking key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Key %q revoked\n", *keyName)
	case "list-keys":
		if err := listKeys(ctx, db); err != nil {
			fmt.Fprintf(os.Stderr, "Error listing keys: %v\n", err)
			os.Exit(1)
		}
	case "cleanup":
		days := *retentionDays
		if days <= 0 {
			days = cfg.Jobs.RetentionDays
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		n, err := db.CleanupOld(ctx, cutoff, *dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running cleanup: %v\n", err)
			os.Exit(1)
		}
		if *dryRun {
			fmt.Printf("Would delete %d jobs older than %d days\n", n, days)
		} else {
			fmt.Printf("Deleted %d jobs older than %d days\n", n, days)
		}
	case "stats":
		if err := showStats(ctx, db); err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching stats: %v\n", err)
			os.Exit(1)
		}
	case "migrate":
		if err := db.MigrateToLatest(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Schema is up to date")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		os.Exit(1)
	}
}

func createKey(ctx context.Context, db *jobstore.Database, name, description string,
	admin bool, maxConcurrent int, expiresAt *time.Time) error {

	key, secret, err := db.CreateAPIKey(ctx, name, description, admin, maxConcurrent, expiresAt)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Created API key %q (id %s)\n", key.Name, key.ID)
		if key.IsAdmin {
			fmt.Println("Privileges: admin")
		}
		fmt.Printf("Concurrent job limit: %d\n", key.MaxConcurrentJobs)
		if expiresAt != nil {
			fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
		}
		fmt.Println()
		fmt.Println("Store this secret now; it is not shown again:")
		fmt.Println()
		fmt.Printf("  %s\n", secret)
	} else {
		// Piped output gets the bare secret for scripting.
		fmt.Println(secret)
	}
	return nil
}

func listKeys(ctx context.Context, db *jobstore.Database) error {
	keys, err := db.ListAPIKeys(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tADMIN\tMAX CONCURRENT\tREQUESTS\tLAST USED\tEXPIRES")
	for _, key := range keys {
		lastUsed := "-"
		if key.LastUsedAt != nil {
			lastUsed = key.LastUsedAt.Format("2006-01-02 15:04")
		}
		expires := "-"
		if key.ExpiresAt != nil {
			expires = key.ExpiresAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\t%s\n",
			key.Name, key.ID, key.IsAdmin, key.MaxConcurrentJobs, key.TotalRequests, lastUsed, expires)
	}
	return w.Flush()
}

func showStats(ctx context.Context, db *jobstore.Database) error {
	stats, err := db.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for status, count := range stats.ByStatus {
		fmt.Fprintf(w, "%s\t%d\n", status, count)
	}
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "QUEUE\tCOUNT")
	for queue, count := range stats.ByQueue {
		fmt.Fprintf(w, "%s\t%d\n", queue, count)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if stats.AvgProcessingSecs != nil {
		fmt.Printf("\nAvg processing time: %.1fs\n", *stats.AvgProcessingSecs)
	}
	if stats.SuccessRate7d != nil {
		fmt.Printf("Success rate (7d): %.1f%%\n", *stats.SuccessRate7d*100)
	}
	return nil
}
