package domain

import "time"

// RateLimitAxis enumerates the distinct rate-limited activity kinds
// (spec.md §4.6).
type RateLimitAxis string

const (
	AxisHTTP       RateLimitAxis = "http"
	AxisIngest     RateLimitAxis = "ingest"
	AxisAI         RateLimitAxis = "ai"
	AxisExport     RateLimitAxis = "export"
	AxisImport     RateLimitAxis = "import"
	AxisBackup     RateLimitAxis = "backup"
	AxisRestore    RateLimitAxis = "restore"
	AxisSearch     RateLimitAxis = "search"
	AxisAnalytics  RateLimitAxis = "analytics"
	AxisWebsocket  RateLimitAxis = "websocket"
)

// AllAxes lists every axis the engine enforces.
var AllAxes = []RateLimitAxis{
	AxisHTTP, AxisIngest, AxisAI, AxisExport, AxisImport,
	AxisBackup, AxisRestore, AxisSearch, AxisAnalytics, AxisWebsocket,
}

// LimitDescriptor configures one axis. Limit == 0 means unlimited.
type LimitDescriptor struct {
	Limit   int
	Window  time.Duration
	Enabled bool
}

// RateLimitSettings is the single settings document covering every axis.
type RateLimitSettings struct {
	Axes               map[RateLimitAxis]LimitDescriptor
	GloballyEnabled     bool
	RetentionDays       int
	MaxUploadSizeMB     int
	UpdatedBy           string
	UpdatedAt           time.Time
}

// RateLimitRecord is one accepted attempt: the principal, the axis and
// the time it was accepted. Denied attempts are not recorded.
type RateLimitRecord struct {
	UserID      string
	Axis        RateLimitAxis
	Timestamp   time.Time
}

// UsageRollup aggregates RateLimitRecords for one (principal, axis,
// interval bucket) per spec.md §4.6.
type UsageRollup struct {
	UserID           string
	Axis             RateLimitAxis
	BucketStart      time.Time
	Interval         string // minute|hour|day|week|month
	RequestsMade     int64
	RequestsAllowed  int64
	RequestsBlocked  int64
	PeakUsageRatio   float64
	AvgLatencyMS     float64
	BytesTransferred int64
}

// Decision is the result of an enforcement check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Limit      int
	Remaining  int
}
