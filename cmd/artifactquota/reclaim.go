package main

import (
	"fmt"
	"os"
	"time"

	"github.com/lucasew/artifactquota/internal/app"
	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/lucasew/artifactquota/internal/remote"
	"github.com/lucasew/artifactquota/internal/sizing"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Deletes artifacts until the pending upload fits under the limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tolerate(reclaim(cmd), viper.GetBool("fail-on-error"))
	},
}

func reclaim(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	r, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(r.Close(), "Failed to close ledger")
	}()

	description := "evicting"
	if cfg.DryRun {
		description = "evicting (dry run)"
	}
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
	defer func() {
		errutil.LogMsg(bar.Finish(), "Failed to finish progress bar")
	}()
	r.OnEvict = func(a artifact.Artifact) {
		errutil.LogMsg(bar.Add64(a.Size), "Failed to update progress bar")
	}

	_, err = r.Run(cmd.Context())
	return err
}

// tolerate returns err when failOnError is set. Otherwise the error is only
// logged with its causes and the command succeeds.
func tolerate(err error, failOnError bool) error {
	if err == nil || failOnError {
		return err
	}
	errutil.ReportError(err, "Reclamation failed, continuing because fail-on-error is disabled", "trace", errutil.Render(err))
	return nil
}

// loadConfig assembles the reclamation config from flags and environment.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg := app.DefaultConfig()

	cfg.Backend = viper.GetString("backend")
	ns, err := app.ParseNamespace(viper.GetString("repository"))
	if err != nil {
		return cfg, err
	}
	cfg.Namespace = ns
	cfg.Token = viper.GetString("token")
	cfg.APIURL = viper.GetString("api-url")
	cfg.S3Region = viper.GetString("s3-region")
	cfg.S3Endpoint = viper.GetString("s3-endpoint")
	cfg.CACertFile = viper.GetString("ca-cert")
	cfg.LocalRoot = viper.GetString("local-root")

	if s := viper.GetString("limit"); s != "" {
		limit, err := sizing.ParseBytes(s)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", app.ErrInvalidLimit, err)
		}
		cfg.Limit = limit
	}
	if cfg.RequestSize, err = optionalBytes("request-size"); err != nil {
		return cfg, err
	}
	if cfg.FixedReservedSize, err = optionalBytes("fixed-reserved-size"); err != nil {
		return cfg, err
	}

	paths, err := cmd.Flags().GetStringArray("upload-path")
	if err != nil {
		return cfg, err
	}
	listed, err := app.ParsePaths(viper.GetString("upload-paths"))
	if err != nil {
		return cfg, err
	}
	cfg.UploadPaths = append(paths, listed...)

	cfg.RemoveDirection = viper.GetString("remove-direction")
	if cfg.CompressionLevel, err = sizing.ParseLevel(viper.GetString("compression-level")); err != nil {
		return cfg, err
	}
	cfg.TempDir = viper.GetString("temp-dir")

	cfg.MaxRetries = viper.GetInt("max-retries")
	cfg.RetriesEnabled = viper.GetBool("retries-enabled")
	cfg.PageSize = viper.GetInt("page-size")

	cfg.CountUnnamed = viper.GetBool("count-unnamed")
	cfg.DryRun = viper.GetBool("dry-run")
	cfg.LedgerPath = viper.GetString("ledger")
	return cfg, nil
}

func optionalBytes(key string) (*int64, error) {
	s := viper.GetString(key)
	if s == "" {
		return nil, nil
	}
	n, err := sizing.ParseBytes(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &n, nil
}

func init() {
	rootCmd.AddCommand(reclaimCmd)

	flags := reclaimCmd.Flags()
	flags.String("backend", app.BackendGitHub, "Artifact backend (github, s3, local)")
	flags.String("repository", "", "Namespace to reclaim: owner/repo for github, bucket[/prefix] for s3")
	flags.String("token", "", "GitHub token")
	flags.String("api-url", "", "GitHub API base URL")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "Custom S3 endpoint, enables path-style addressing")
	flags.String("ca-cert", "", "Extra CA certificate (PEM) to trust")
	flags.String("local-root", "", "Root directory of the local backend")

	flags.String("limit", "", "Storage limit, e.g. 500MB or 1GiB")
	flags.String("request-size", "", "Declared size of the pending upload")
	flags.String("fixed-reserved-size", "", "Fixed size to reserve instead of measuring")
	flags.StringArray("upload-path", nil, "Pending path to measure (repeatable)")
	flags.String("upload-paths", "", "Pending paths, one per line or as a quoted list")
	flags.String("remove-direction", "oldest", "Which artifacts to delete first (oldest, newest)")
	flags.String("compression-level", "0", "Compression level used to measure pending paths (0-9)")
	flags.String("temp-dir", "", "Directory for transient archives")

	flags.Int("max-retries", remote.DefaultMaxRetries, "Maximum retries per remote call")
	flags.Bool("retries-enabled", true, "Wait and retry when rate limited")
	flags.Int("page-size", remote.DefaultPageSize, "Page size for run listing")

	flags.Bool("count-unnamed", true, "Count unnamed artifacts towards freed space even though they cannot be deleted")
	flags.Bool("dry-run", false, "Plan and report without deleting anything")
	flags.Bool("fail-on-error", true, "Exit non-zero when the reclamation fails")

	bindFlag(flags, "backend", "ARTIFACTQUOTA_BACKEND")
	bindFlag(flags, "repository", "ARTIFACTQUOTA_REPOSITORY", "GITHUB_REPOSITORY")
	bindFlag(flags, "token", "ARTIFACTQUOTA_TOKEN", "INPUT_TOKEN", "GITHUB_TOKEN")
	bindFlag(flags, "api-url", "ARTIFACTQUOTA_API_URL", "GITHUB_API_URL")
	bindFlag(flags, "s3-region", "ARTIFACTQUOTA_S3_REGION", "AWS_REGION")
	bindFlag(flags, "s3-endpoint", "ARTIFACTQUOTA_S3_ENDPOINT")
	bindFlag(flags, "ca-cert", "ARTIFACTQUOTA_CA_CERT")
	bindFlag(flags, "local-root", "ARTIFACTQUOTA_LOCAL_ROOT")

	bindFlag(flags, "limit", "ARTIFACTQUOTA_LIMIT", "INPUT_LIMIT")
	bindFlag(flags, "request-size", "ARTIFACTQUOTA_REQUEST_SIZE", "INPUT_REQUESTSIZE")
	bindFlag(flags, "fixed-reserved-size", "ARTIFACTQUOTA_FIXED_RESERVED_SIZE", "INPUT_FIXEDRESERVEDSIZE")
	bindFlag(flags, "upload-paths", "ARTIFACTQUOTA_UPLOAD_PATHS", "INPUT_UPLOADPATHS")
	bindFlag(flags, "remove-direction", "ARTIFACTQUOTA_REMOVE_DIRECTION", "INPUT_REMOVEDIRECTION")
	bindFlag(flags, "compression-level", "ARTIFACTQUOTA_COMPRESSION_LEVEL", "INPUT_COMPRESSIONLEVEL")
	bindFlag(flags, "temp-dir", "ARTIFACTQUOTA_TEMP_DIR", "RUNNER_TEMP")

	bindFlag(flags, "max-retries", "ARTIFACTQUOTA_MAX_RETRIES", "INPUT_MAXRETRIES")
	bindFlag(flags, "retries-enabled", "ARTIFACTQUOTA_RETRIES_ENABLED", "INPUT_RETRIESENABLED")
	bindFlag(flags, "page-size", "ARTIFACTQUOTA_PAGE_SIZE", "INPUT_PAGESIZE")

	bindFlag(flags, "count-unnamed", "ARTIFACTQUOTA_COUNT_UNNAMED")
	bindFlag(flags, "dry-run", "ARTIFACTQUOTA_DRY_RUN")
	bindFlag(flags, "fail-on-error", "ARTIFACTQUOTA_FAIL_ON_ERROR", "INPUT_FAILONERROR")
}
