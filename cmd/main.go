package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docuploader/internal/app"
	"docuploader/internal/config"
	"docuploader/internal/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "docuploader [flags] <folder | file...>",
	Short: "Upload documents to an S3 compatible store and record them",
	Long: `Uploads a folder tree or a list of files under a container id, with
safe remote names, existence checks, bounded retries and a document record
per stored object.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List documents whose metadata write was interrupted",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")

	// Storage flags
	pf := rootCmd.PersistentFlags()
	pf.String("backend", "minio", "Storage backend (minio/s3/local)")
	pf.String("endpoint", "", "Object store endpoint")
	pf.String("access-key", "", "Object store access key")
	pf.String("secret-key", "", "Object store secret key")
	pf.String("region", "us-east-1", "Object store region")
	pf.String("bucket", "", "Bucket name")
	pf.Bool("secure", false, "Use HTTPS")
	pf.String("local-root", "", "Root directory for the local backend")

	// Metadata flags
	pf.String("metadata-driver", "sqlite", "Metadata store driver (sqlite/postgres)")
	pf.String("metadata-dsn", "./documents.db", "Metadata store DSN")
	pf.String("actor", "", "Actor id recorded on document rows")
	pf.String("log-level", "info", "Log level (debug/info/warn/error)")

	// Upload flags
	f := rootCmd.Flags()
	f.String("container", "", "Container id that roots every remote key (required)")
	f.String("subfolder", "", "Subfolder below the container")
	f.Bool("dry-run", false, "Validate and print keys without uploading")
	f.Int("retries", 3, "Maximum retries per file")
	f.Int("retry-backoff-ms", 1000, "Initial retry backoff in milliseconds")
	f.Duration("request-timeout", 0, "Deadline for each store call")
	f.Int64("max-file-size-mb", 50, "Largest accepted file in MB")
	f.Int("max-files", 0, "Maximum files per batch (0 = unlimited)")
	f.String("existing-policy", config.PolicyTreatExistingAsSuccess,
		"What to do when the key exists (treat_existing_as_success/fail_on_existing)")
	f.Bool("strict", false, "Check file signatures against extensions")
	f.StringSlice("extensions", nil, "Allowed extensions")
	f.Bool("show-progress", true, "Show progress display")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(auditCmd)
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	container, _ := cmd.Flags().GetString("container")
	subfolder, _ := cmd.Flags().GetString("subfolder")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader, err := app.New(context.Background(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}
	defer func() {
		if closeErr := uploader.Close(); closeErr != nil {
			log.Error("Error closing uploader", zap.Error(closeErr))
		}
	}()

	report, err := uploader.Run(ctx, app.Request{
		Paths:       args,
		ContainerID: container,
		Subfolder:   subfolder,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		log.Info("Received shutdown signal, batch stopped after the file in flight")
	}

	if dryRun {
		fmt.Print(app.PlanSummary(report.Plan))
		return nil
	}

	fmt.Print(app.Summary(report.Result))
	if n := len(report.Result.Failures); n > 0 {
		return fmt.Errorf("%d file(s) failed", n)
	}
	return nil
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	uploader, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}
	defer uploader.Close()

	docs, err := uploader.Audit(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(app.AuditSummary(docs))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
