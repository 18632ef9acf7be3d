package domain

import "time"

// BackupStatus is the lifecycle state of a backup archive.
type BackupStatus string

const (
	BackupPending    BackupStatus = "pending"
	BackupInProgress BackupStatus = "in_progress"
	BackupCompleted  BackupStatus = "completed"
	BackupFailed     BackupStatus = "failed"
	BackupCorrupted  BackupStatus = "corrupted"
	BackupDeleting   BackupStatus = "deleting"
)

// BackupType distinguishes a full snapshot from a selective one.
type BackupType string

const (
	BackupFull       BackupType = "full"
	BackupSelective  BackupType = "selective"
)

// BackupFilter narrows a selective backup to a subset of entities.
type BackupFilter struct {
	ProjectIDs        []string
	SessionIDs        []string
	StartTime         *time.Time
	EndTime           *time.Time
	IncludePatterns   []string
	ExcludePatterns   []string
	MinMessageCount   int64
	MaxMessageCount   int64
}

// ContentCounts tallies entities written to (or found in) an archive.
type ContentCounts struct {
	Projects int64
	Sessions int64
	Messages int64
	Prompts  int64
	Settings int64
}

// BackupMetadata describes one archive file (spec.md §3).
type BackupMetadata struct {
	ID               string
	Name             string
	CreatedAt        time.Time
	CreatedBy        string
	FilePath         string
	SizeBytes        int64
	CompressedBytes  int64
	Checksum         string
	Type             BackupType
	Filter           BackupFilter
	ContentCounts    ContentCounts
	Status           BackupStatus
	Error            string
}

// RestoreMode selects how much of an archive is applied.
type RestoreMode string

const (
	RestoreFull       RestoreMode = "full"
	RestoreSelective  RestoreMode = "selective"
	RestoreMerge      RestoreMode = "merge"
)

// ConflictPolicy resolves an id collision during restore apply.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictRename    ConflictPolicy = "rename"
	ConflictMerge     ConflictPolicy = "merge"
)

// RestoreStatus is the lifecycle state of a restore attempt.
type RestoreStatus string

const (
	RestorePending    RestoreStatus = "pending"
	RestoreInProgress RestoreStatus = "in_progress"
	RestoreCompleted  RestoreStatus = "completed"
	RestoreFailed     RestoreStatus = "failed"
	RestoreCancelled  RestoreStatus = "cancelled"
)

// RestoreStats tallies the outcome of a restore apply pass.
type RestoreStats struct {
	Inserted int64
	Replaced int64
	Merged   int64
	Skipped  int64
	Failed   int64
	ConflictsByEntity map[string]int64
}

// RestoreJob describes one restore attempt (spec.md §3).
type RestoreJob struct {
	ID           string
	BackupID     string
	Mode         RestoreMode
	Policy       ConflictPolicy
	RequestedBy  string
	Status       RestoreStatus
	Stats        RestoreStats
	Errors       []string
	StartedAt    time.Time
	FinishedAt   time.Time
}
