package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// RecordStore persists accepted rate-limit attempts, one physical
// collection per axis (`<axis>_rate_tracking`, per the ratelimit
// package's own doc comment) so each axis's retention pruning and
// counting stays an independent, cheaply-indexed query.
type RecordStore struct {
	db *mongo.Database
}

func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) collFor(axis domain.RateLimitAxis) *mongo.Collection {
	return s.db.Collection(string(axis) + "_rate_tracking")
}

type rateRecordDoc struct {
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
}

func (s *RecordStore) CountSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (int64, error) {
	n, err := s.collFor(axis).CountDocuments(ctx, bson.M{"user_id": userID, "timestamp": bson.M{"$gte": since}})
	if err != nil {
		return 0, errors.Internal("count rate limit records", err)
	}
	return n, nil
}

func (s *RecordStore) OldestSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (time.Time, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	var d rateRecordDoc
	err := s.collFor(axis).FindOne(ctx, bson.M{"user_id": userID, "timestamp": bson.M{"$gte": since}}, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Internal("find oldest rate limit record", err)
	}
	return d.Timestamp, true, nil
}

func (s *RecordStore) Append(ctx context.Context, rec domain.RateLimitRecord) error {
	_, err := s.collFor(rec.Axis).InsertOne(ctx, rateRecordDoc{UserID: rec.UserID, Timestamp: rec.Timestamp})
	if err != nil {
		return errors.Internal("append rate limit record", err)
	}
	return nil
}

func (s *RecordStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, axis := range domain.AllAxes {
		res, err := s.collFor(axis).DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
		if err != nil {
			return total, errors.Internal("prune rate limit records", err)
		}
		total += res.DeletedCount
	}
	return total, nil
}

// SettingsStore persists the single cross-axis rate limit settings
// document in the `settings` collection under a fixed id, per spec.md §6.
type SettingsStore struct {
	coll *mongo.Collection
}

func NewSettingsStore(db *mongo.Database) *SettingsStore {
	return &SettingsStore{coll: db.Collection("settings")}
}

const rateLimitSettingsID = "rate_limit"

type axisLimitDoc struct {
	Limit         int   `bson:"limit"`
	WindowSeconds int64 `bson:"window_seconds"`
	Enabled       bool  `bson:"enabled"`
}

type settingsDoc struct {
	ID              string                  `bson:"_id"`
	Axes            map[string]axisLimitDoc `bson:"axes,omitempty"`
	GloballyEnabled bool                    `bson:"globally_enabled"`
	RetentionDays   int                     `bson:"retention_days"`
	MaxUploadSizeMB int                     `bson:"max_upload_size_mb"`
	UpdatedBy       string                  `bson:"updated_by,omitempty"`
	UpdatedAt       time.Time               `bson:"updated_at,omitempty"`
}

func (s *SettingsStore) Get(ctx context.Context) (domain.RateLimitSettings, error) {
	var d settingsDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": rateLimitSettingsID}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		// No settings document yet: enforcement stays disabled until an
		// operator writes one, rather than guessing at defaults.
		return domain.RateLimitSettings{}, nil
	}
	if err != nil {
		return domain.RateLimitSettings{}, errors.Internal("find rate limit settings", err)
	}
	axes := make(map[domain.RateLimitAxis]domain.LimitDescriptor, len(d.Axes))
	for k, v := range d.Axes {
		axes[domain.RateLimitAxis(k)] = domain.LimitDescriptor{
			Limit:   v.Limit,
			Window:  time.Duration(v.WindowSeconds) * time.Second,
			Enabled: v.Enabled,
		}
	}
	return domain.RateLimitSettings{
		Axes:            axes,
		GloballyEnabled: d.GloballyEnabled,
		RetentionDays:   d.RetentionDays,
		MaxUploadSizeMB: d.MaxUploadSizeMB,
		UpdatedBy:       d.UpdatedBy,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

// RollupStore persists flushed usage rollups in the `usage_rollups`
// collection; no single-document identity is needed since each flush
// only ever appends.
type RollupStore struct {
	coll *mongo.Collection
}

func NewRollupStore(db *mongo.Database) *RollupStore {
	return &RollupStore{coll: db.Collection("usage_rollups")}
}

type usageRollupDoc struct {
	UserID           string    `bson:"user_id"`
	Axis             string    `bson:"axis"`
	BucketStart      time.Time `bson:"bucket_start"`
	Interval         string    `bson:"interval"`
	RequestsMade     int64     `bson:"requests_made"`
	RequestsAllowed  int64     `bson:"requests_allowed"`
	RequestsBlocked  int64     `bson:"requests_blocked"`
	PeakUsageRatio   float64   `bson:"peak_usage_ratio"`
	AvgLatencyMS     float64   `bson:"avg_latency_ms"`
	BytesTransferred int64     `bson:"bytes_transferred"`
}

func (s *RollupStore) Flush(ctx context.Context, rollups []domain.UsageRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rollups))
	for i, r := range rollups {
		docs[i] = usageRollupDoc{
			UserID: r.UserID, Axis: string(r.Axis), BucketStart: r.BucketStart, Interval: r.Interval,
			RequestsMade: r.RequestsMade, RequestsAllowed: r.RequestsAllowed, RequestsBlocked: r.RequestsBlocked,
			PeakUsageRatio: r.PeakUsageRatio, AvgLatencyMS: r.AvgLatencyMS, BytesTransferred: r.BytesTransferred,
		}
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return errors.Internal("flush usage rollups", err)
	}
	return nil
}

// BackupMetadataStore persists archive metadata in the `backup_metadata`
// collection (spec.md §6).
type BackupMetadataStore struct {
	coll *mongo.Collection
}

func NewBackupMetadataStore(db *mongo.Database) *BackupMetadataStore {
	return &BackupMetadataStore{coll: db.Collection("backup_metadata")}
}

type backupFilterDoc struct {
	ProjectIDs      []string   `bson:"project_ids,omitempty"`
	SessionIDs      []string   `bson:"session_ids,omitempty"`
	StartTime       *time.Time `bson:"start_time,omitempty"`
	EndTime         *time.Time `bson:"end_time,omitempty"`
	IncludePatterns []string   `bson:"include_patterns,omitempty"`
	ExcludePatterns []string   `bson:"exclude_patterns,omitempty"`
	MinMessageCount int64      `bson:"min_message_count,omitempty"`
	MaxMessageCount int64      `bson:"max_message_count,omitempty"`
}

type contentCountsDoc struct {
	Projects int64 `bson:"projects"`
	Sessions int64 `bson:"sessions"`
	Messages int64 `bson:"messages"`
	Prompts  int64 `bson:"prompts"`
	Settings int64 `bson:"settings"`
}

type backupMetadataDoc struct {
	ID              string           `bson:"_id"`
	Name            string           `bson:"name"`
	CreatedAt       time.Time        `bson:"created_at"`
	CreatedBy       string           `bson:"created_by"`
	FilePath        string           `bson:"file_path"`
	SizeBytes       int64            `bson:"size_bytes"`
	CompressedBytes int64            `bson:"compressed_bytes"`
	Checksum        string           `bson:"checksum"`
	Type            string           `bson:"type"`
	Filter          backupFilterDoc  `bson:"filter"`
	ContentCounts   contentCountsDoc `bson:"content_counts"`
	Status          string           `bson:"status"`
	Error           string           `bson:"error,omitempty"`
}

func toBackupMetadataDoc(m *domain.BackupMetadata) backupMetadataDoc {
	return backupMetadataDoc{
		ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt, CreatedBy: m.CreatedBy,
		FilePath: m.FilePath, SizeBytes: m.SizeBytes, CompressedBytes: m.CompressedBytes,
		Checksum: m.Checksum, Type: string(m.Type),
		Filter: backupFilterDoc{
			ProjectIDs: m.Filter.ProjectIDs, SessionIDs: m.Filter.SessionIDs,
			StartTime: m.Filter.StartTime, EndTime: m.Filter.EndTime,
			IncludePatterns: m.Filter.IncludePatterns, ExcludePatterns: m.Filter.ExcludePatterns,
			MinMessageCount: m.Filter.MinMessageCount, MaxMessageCount: m.Filter.MaxMessageCount,
		},
		ContentCounts: contentCountsDoc{
			Projects: m.ContentCounts.Projects, Sessions: m.ContentCounts.Sessions,
			Messages: m.ContentCounts.Messages, Prompts: m.ContentCounts.Prompts, Settings: m.ContentCounts.Settings,
		},
		Status: string(m.Status), Error: m.Error,
	}
}

func fromBackupMetadataDoc(d backupMetadataDoc) *domain.BackupMetadata {
	return &domain.BackupMetadata{
		ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt, CreatedBy: d.CreatedBy,
		FilePath: d.FilePath, SizeBytes: d.SizeBytes, CompressedBytes: d.CompressedBytes,
		Checksum: d.Checksum, Type: domain.BackupType(d.Type),
		Filter: domain.BackupFilter{
			ProjectIDs: d.Filter.ProjectIDs, SessionIDs: d.Filter.SessionIDs,
			StartTime: d.Filter.StartTime, EndTime: d.Filter.EndTime,
			IncludePatterns: d.Filter.IncludePatterns, ExcludePatterns: d.Filter.ExcludePatterns,
			MinMessageCount: d.Filter.MinMessageCount, MaxMessageCount: d.Filter.MaxMessageCount,
		},
		ContentCounts: domain.ContentCounts{
			Projects: d.ContentCounts.Projects, Sessions: d.ContentCounts.Sessions,
			Messages: d.ContentCounts.Messages, Prompts: d.ContentCounts.Prompts, Settings: d.ContentCounts.Settings,
		},
		Status: domain.BackupStatus(d.Status), Error: d.Error,
	}
}

func (s *BackupMetadataStore) Create(ctx context.Context, m *domain.BackupMetadata) error {
	_, err := s.coll.InsertOne(ctx, toBackupMetadataDoc(m))
	if err != nil {
		return errors.Internal("create backup metadata", err)
	}
	return nil
}

func (s *BackupMetadataStore) Update(ctx context.Context, m *domain.BackupMetadata) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": m.ID}, toBackupMetadataDoc(m))
	if err != nil {
		return errors.Internal("update backup metadata", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("backup", m.ID)
	}
	return nil
}

func (s *BackupMetadataStore) GetByID(ctx context.Context, id string) (*domain.BackupMetadata, error) {
	var d backupMetadataDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("backup", id)
	}
	if err != nil {
		return nil, errors.Internal("find backup metadata", err)
	}
	return fromBackupMetadataDoc(d), nil
}

func (s *BackupMetadataStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Internal("delete backup metadata", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("backup", id)
	}
	return nil
}

// RestoreJobStore persists restore attempts in the `restore_jobs`
// collection (spec.md §6).
type RestoreJobStore struct {
	coll *mongo.Collection
}

func NewRestoreJobStore(db *mongo.Database) *RestoreJobStore {
	return &RestoreJobStore{coll: db.Collection("restore_jobs")}
}

type restoreStatsDoc struct {
	Inserted          int64            `bson:"inserted"`
	Replaced          int64            `bson:"replaced"`
	Merged            int64            `bson:"merged"`
	Skipped           int64            `bson:"skipped"`
	Failed            int64            `bson:"failed"`
	ConflictsByEntity map[string]int64 `bson:"conflicts_by_entity,omitempty"`
}

type restoreJobDoc struct {
	ID          string          `bson:"_id"`
	BackupID    string          `bson:"backup_id"`
	Mode        string          `bson:"mode"`
	Policy      string          `bson:"policy"`
	RequestedBy string          `bson:"requested_by"`
	Status      string          `bson:"status"`
	Stats       restoreStatsDoc `bson:"stats"`
	Errors      []string        `bson:"errors,omitempty"`
	StartedAt   time.Time       `bson:"started_at"`
	FinishedAt  time.Time       `bson:"finished_at,omitempty"`
}

func toRestoreJobDoc(j *domain.RestoreJob) restoreJobDoc {
	return restoreJobDoc{
		ID: j.ID, BackupID: j.BackupID, Mode: string(j.Mode), Policy: string(j.Policy),
		RequestedBy: j.RequestedBy, Status: string(j.Status),
		Stats: restoreStatsDoc{
			Inserted: j.Stats.Inserted, Replaced: j.Stats.Replaced, Merged: j.Stats.Merged,
			Skipped: j.Stats.Skipped, Failed: j.Stats.Failed, ConflictsByEntity: j.Stats.ConflictsByEntity,
		},
		Errors: j.Errors, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt,
	}
}

func fromRestoreJobDoc(d restoreJobDoc) *domain.RestoreJob {
	return &domain.RestoreJob{
		ID: d.ID, BackupID: d.BackupID, Mode: domain.RestoreMode(d.Mode), Policy: domain.ConflictPolicy(d.Policy),
		RequestedBy: d.RequestedBy, Status: domain.RestoreStatus(d.Status),
		Stats: domain.RestoreStats{
			Inserted: d.Stats.Inserted, Replaced: d.Stats.Replaced, Merged: d.Stats.Merged,
			Skipped: d.Stats.Skipped, Failed: d.Stats.Failed, ConflictsByEntity: d.Stats.ConflictsByEntity,
		},
		Errors: d.Errors, StartedAt: d.StartedAt, FinishedAt: d.FinishedAt,
	}
}

func (s *RestoreJobStore) Create(ctx context.Context, j *domain.RestoreJob) error {
	_, err := s.coll.InsertOne(ctx, toRestoreJobDoc(j))
	if err != nil {
		return errors.Internal("create restore job", err)
	}
	return nil
}

func (s *RestoreJobStore) Update(ctx context.Context, j *domain.RestoreJob) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": j.ID}, toRestoreJobDoc(j))
	if err != nil {
		return errors.Internal("update restore job", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("restore job", j.ID)
	}
	return nil
}

func (s *RestoreJobStore) GetByID(ctx context.Context, id string) (*domain.RestoreJob, error) {
	var d restoreJobDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("restore job", id)
	}
	if err != nil {
		return nil, errors.Internal("find restore job", err)
	}
	return fromRestoreJobDoc(d), nil
}
