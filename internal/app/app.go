// Package app wires every domain service against its storage-layer
// dependencies, mirroring the teacher's own top-level Application
// aggregate (applications/application.go) adapted to the archive
// service's components instead of the blockchain service layer's.
package app

import (
	"context"
	"fmt"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
	"github.com/sjafferali/claudelens-archive/internal/app/services/backup"
	"github.com/sjafferali/claudelens-archive/internal/app/services/cost"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ingest"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/services/progress"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ratelimit"
	"github.com/sjafferali/claudelens-archive/internal/app/services/restore"
	"github.com/sjafferali/claudelens-archive/internal/app/services/scheduler"
	"github.com/sjafferali/claudelens-archive/internal/app/services/search"
	"github.com/sjafferali/claudelens-archive/internal/app/services/tenant"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
	mongostore "github.com/sjafferali/claudelens-archive/internal/app/storage/mongo"
	"github.com/sjafferali/claudelens-archive/internal/config"
	platmongo "github.com/sjafferali/claudelens-archive/internal/platform/mongo"
)

const serviceName = "claudelens-archive"

// Dependencies bundles every storage-layer collaborator the domain
// services need beyond the shared storage.Stores, so tests can assemble
// an Application over in-memory doubles without a live MongoDB.
type Dependencies struct {
	Stores            *storage.Stores
	RateLimitRecords  ratelimit.RecordStore
	RateLimitSettings ratelimit.SettingsStore
	RateLimitRollups  ratelimit.RollupStore
	BackupMetadata    backup.MetadataStore
	BackupSink        backup.FileSink
	RestoreJobs       restore.JobStore
	RestoreSource     restore.ArchiveSource
}

// Application holds every wired service; HTTP/WebSocket transports are
// out of scope (spec.md §1 Non-goals) so nothing here depends on one.
type Application struct {
	cfg    *config.Config
	client *mongodriver.Client
	log    *logging.Logger
	metric *metrics.Metrics

	Stores    *storage.Stores
	Tenant    *tenant.Resolver
	Ownership *ownership.Resolver
	Cost      *cost.Calculator
	Ingest    *ingest.Pipeline
	RateLimit *ratelimit.Engine
	Backup    *backup.Engine
	Restore   *restore.Engine
	Progress  *progress.Broadcaster
	Search    *search.Adapter
	Scheduler *scheduler.Scheduler
}

// New connects to MongoDB per cfg and wires every service against it. The
// caller owns the returned Application's lifecycle: Start it to begin the
// background scheduler, Stop it to disconnect cleanly.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	client, err := platmongo.Open(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	db := platmongo.Database(client, cfg.MongoURI, cfg.MongoDBName)
	deps := Dependencies{
		Stores:            mongostore.NewStores(db),
		RateLimitRecords:  mongostore.NewRecordStore(db),
		RateLimitSettings: mongostore.NewSettingsStore(db),
		RateLimitRollups:  mongostore.NewRollupStore(db),
		BackupMetadata:    mongostore.NewBackupMetadataStore(db),
		BackupSink:        backup.NewLocalDiskSink(cfg.ArchiveStorageDir),
		RestoreJobs:       mongostore.NewRestoreJobStore(db),
		RestoreSource:     backup.NewLocalDiskSink(cfg.ArchiveStorageDir),
	}

	log := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.New(serviceName)

	application := Wire(cfg, deps, log, m)
	application.client = client
	return application, nil
}

// Wire assembles an Application from already-constructed dependencies,
// independent of whether they are backed by MongoDB or in-memory doubles.
func Wire(cfg *config.Config, deps Dependencies, log *logging.Logger, m *metrics.Metrics) *Application {
	tenantResolver := tenant.New(deps.Stores.Users, deps.Stores.Users, cfg.TokenSigningSecret)
	tenantResolver.TrustLoopback = cfg.TrustLoopback
	tenantResolver.DefaultAdminID = cfg.DefaultAdminID

	owners := ownership.New(deps.Stores.Projects, deps.Stores.Sessions)
	costCalc := cost.New(cost.NewLiteLLMProvider(), time.Hour)
	bus := progress.New()

	ingestPipeline := ingest.New(deps.Stores, costCalc, log, m, serviceName)
	rateLimiter := ratelimit.New(deps.RateLimitRecords, deps.RateLimitSettings, deps.RateLimitRollups, log, m, serviceName)
	backupEngine := backup.New(deps.Stores, owners, deps.BackupMetadata, deps.BackupSink, bus, log, m, serviceName)
	restoreEngine := restore.New(deps.Stores, deps.BackupMetadata, deps.RestoreJobs, deps.RestoreSource, bus, log, m, serviceName)
	searchAdapter := search.New(owners, deps.Stores.Messages, log)

	sched := scheduler.New(
		log, m, serviceName,
		rateLimiter, rateLimiter,
		deps.Stores.Messages,
		scheduler.NewLocalDiskTempCleaner(cfg.TempFileDir),
		scheduler.WithRetention(time.Duration(cfg.RateLimitRetentionDays)*24*time.Hour),
	)

	return &Application{
		cfg:       cfg,
		log:       log,
		metric:    m,
		Stores:    deps.Stores,
		Tenant:    tenantResolver,
		Ownership: owners,
		Cost:      costCalc,
		Ingest:    ingestPipeline,
		RateLimit: rateLimiter,
		Backup:    backupEngine,
		Restore:   restoreEngine,
		Progress:  bus,
		Search:    searchAdapter,
		Scheduler: sched,
	}
}

// Start begins the background scheduler, unless disabled by config.
func (a *Application) Start(ctx context.Context) error {
	if !a.cfg.SchedulerEnabled {
		return nil
	}
	return a.Scheduler.Start(ctx)
}

// Stop halts the background scheduler and disconnects from MongoDB, if
// this Application owns a connection (it won't, when built via Wire
// directly for tests).
func (a *Application) Stop(ctx context.Context) error {
	if a.cfg.SchedulerEnabled {
		a.Scheduler.Stop()
	}
	if a.client != nil {
		return a.client.Disconnect(ctx)
	}
	return nil
}
