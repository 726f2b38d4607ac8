package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/db"
	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/lucasew/artifactquota/internal/eviction"
	_ "github.com/lucasew/artifactquota/internal/eviction/age"
	"github.com/lucasew/artifactquota/internal/httpclient"
	"github.com/lucasew/artifactquota/internal/inventory"
	"github.com/lucasew/artifactquota/internal/remote"
	"github.com/lucasew/artifactquota/internal/remote/github"
	"github.com/lucasew/artifactquota/internal/remote/localfs"
	"github.com/lucasew/artifactquota/internal/remote/s3store"
	"github.com/lucasew/artifactquota/internal/sizing"
)

const userAgent = "artifactquota"

// Result gathers what each stage of a reclamation produced. Fields of
// stages that did not run are nil.
type Result struct {
	Estimate  *sizing.Estimate
	Inventory *inventory.Inventory
	Plan      *eviction.Plan
	Report    *eviction.Report
}

// Reclaimer runs one quota reclamation: estimate, collect, plan, evict.
type Reclaimer struct {
	cfg    Config
	client *remote.Resilient
	ledger *db.DB

	// OnEvict, if set, observes every deleted artifact.
	OnEvict func(artifact.Artifact)

	now func() time.Time
}

// New validates cfg and builds the configured backend.
func New(ctx context.Context, cfg Config) (*Reclaimer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient, err := httpclient.NewClient(httpclient.Options{
		CACertFile: cfg.CACertFile,
		UserAgent:  userAgent,
	})
	if err != nil {
		return nil, err
	}

	var client remote.Client
	switch cfg.Backend {
	case BackendLocal:
		client = localfs.New(cfg.LocalRoot)
	case BackendS3:
		client, err = s3store.NewFromEnv(ctx, s3store.Options{
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
	default:
		client = github.New(cfg.APIURL, cfg.Token, httpClient)
	}

	return NewWithClient(cfg, client)
}

// NewWithClient builds a Reclaimer on top of an existing raw client.
func NewWithClient(cfg Config, client remote.Client) (*Reclaimer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := remote.DefaultOptions()
	opts.MaxRetries = cfg.MaxRetries
	opts.RetriesEnabled = cfg.RetriesEnabled
	opts.PageSize = cfg.PageSize
	opts.InitialInterval = cfg.RetryInterval

	r := &Reclaimer{
		cfg:    cfg,
		client: remote.NewResilient(client, opts),
		now:    time.Now,
	}

	if cfg.LedgerPath != "" {
		ledger, err := db.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger at %s: %w", cfg.LedgerPath, err)
		}
		r.ledger = ledger
	}
	return r, nil
}

// Close releases the ledger, if any.
func (r *Reclaimer) Close() error {
	if r.ledger == nil {
		return nil
	}
	return r.ledger.Close()
}

// Run performs the reclamation. On a failed eviction the partial result is
// returned together with the error.
func (r *Reclaimer) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	estimator := &sizing.Estimator{
		Declared: r.cfg.RequestSize,
		Fixed:    r.cfg.FixedReservedSize,
		Paths:    r.cfg.UploadPaths,
		Level:    r.cfg.CompressionLevel,
		TempDir:  r.cfg.TempDir,
	}
	est, err := estimator.Estimate(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to estimate upload size: %w", err)
	}
	res.Estimate = est

	if est.Bytes > r.cfg.Limit {
		return res, fmt.Errorf("%w: %s > %s", ErrExceedsLimit, FormatBytes(est.Bytes), FormatBytes(r.cfg.Limit))
	}
	slog.Info("Total size of artifacts to upload", "size", FormatBytes(est.Bytes), "mode", est.Mode.String(), "missing_paths", len(est.Missing))

	inv, err := inventory.NewCollector(r.client).Collect(ctx, r.cfg.Namespace)
	if err != nil {
		return res, err
	}
	res.Inventory = inv
	slog.Info("Total size of current artifacts", "size", FormatBytes(inv.TotalSize()), "count", len(inv.Artifacts))

	strategy, err := eviction.GetStrategy(r.cfg.RemoveDirection)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidDirection, err)
	}

	quota := eviction.Quota{Limit: r.cfg.Limit, Pending: est.Bytes, Existing: inv.TotalSize()}
	res.Plan = eviction.NewPlan(quota, inv.Artifacts, strategy)

	mgr := eviction.NewManager(r.client, r.cfg.Namespace)
	mgr.CountUnnamed = r.cfg.CountUnnamed
	mgr.DryRun = r.cfg.DryRun
	mgr.OnEvict = r.OnEvict

	report, execErr := mgr.Execute(ctx, res.Plan)
	res.Report = report

	r.record(ctx, report, execErr)
	logSummary(report)

	if execErr != nil {
		return res, execErr
	}
	return res, nil
}

func (r *Reclaimer) record(ctx context.Context, report *eviction.Report, runErr error) {
	if r.ledger == nil {
		return
	}
	id, err := r.ledger.Record(ctx, r.cfg.Namespace, r.now(), report, r.cfg.DryRun, runErr)
	if err != nil {
		errutil.ReportError(err, "Failed to record reclamation in ledger", "path", r.cfg.LedgerPath)
		return
	}
	slog.Debug("Recorded reclamation", "id", id)
}

func logSummary(report *eviction.Report) {
	if report.Deficit <= 0 {
		slog.Info("Available space", "headroom", FormatBytes(report.Headroom()))
		return
	}
	for _, g := range report.ByRun() {
		slog.Info("Deleted artifacts from run", "run_id", g.RunID, "workflow_id", g.WorkflowID, "count", len(g.Artifacts), "size", FormatBytes(g.Size))
	}
	slog.Info("Deleted artifacts to free up space",
		"count", len(report.Deleted),
		"skipped", len(report.Skipped),
		"freed", FormatBytes(report.Freed()),
		"counted", FormatBytes(report.DeletedSize),
		"available", FormatBytes(report.Quota.Headroom(report.Freed())),
	)
}

// FormatBytes renders a byte count in binary units, keeping the sign of
// negative values such as a surplus reported as a negative deficit.
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
