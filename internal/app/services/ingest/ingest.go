// Package ingest implements the batch Ingestion Pipeline from spec.md §4.4:
// validation, content-hash deduplication, project/session materialization,
// and cost attribution, with per-record partial-failure isolation.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
	"github.com/sjafferali/claudelens-archive/internal/app/services/cost"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

// MaxBatchSize is the maximum number of message records accepted per call
// to Ingest, per spec.md §4.4.
const MaxBatchSize = 1000

// Record is the wire shape of one message to ingest, mirroring the fields
// spec.md §3 enumerates for Message plus the routing fields ingestion needs
// (cwd, explicit cost) that are not persisted on domain.Message itself.
type Record struct {
	UUID       string
	SessionID  string
	ParentUUID string
	Type       domain.MessageType
	Timestamp  time.Time
	Content    domain.Payload
	Model      string
	Usage      domain.TokenUsage
	Cost       *float64
	LatencyMS  int64
	GitBranch  string
	WorkingDir string
}

// Stats reports the outcome of one Ingest call, spec.md §4.4's return value.
type Stats struct {
	Received        int
	Inserted        int
	Updated         int
	Skipped         int
	Failed          int
	SessionsCreated int
	ProjectsCreated []string
	Duration        time.Duration
	Errors          []RecordError
}

// RecordError reports why a single record failed processing, so the rest
// of the batch can still be processed (spec.md §4.4 "partial failure").
type RecordError struct {
	UUID  string
	Index int
	Err   error
}

var scriptTagPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

// Pipeline ties the project/session materialization, content-hash
// deduplication, and cost attribution together.
type Pipeline struct {
	stores *storage.Stores
	costs  *cost.Calculator
	log    *logging.Logger
	metric *metrics.Metrics
	svc    string
}

func New(stores *storage.Stores, costs *cost.Calculator, log *logging.Logger, m *metrics.Metrics, service string) *Pipeline {
	return &Pipeline{stores: stores, costs: costs, log: log, metric: m, svc: service}
}

// Ingest processes a batch for principal, returning per-batch statistics.
// A record that fails validation or storage never aborts the remaining
// records (spec.md §4.4 "On partial failure").
func (p *Pipeline) Ingest(ctx context.Context, ownerID string, records []Record, overwrite bool) (Stats, error) {
	start := time.Now()
	stats := Stats{Received: len(records)}

	if len(records) > MaxBatchSize {
		return stats, errors.OutOfRange("messages", 0, MaxBatchSize)
	}

	projectByPath := make(map[string]*domain.Project)
	sessionByID := make(map[string]*domain.Session)

	for i, rec := range records {
		if err := p.ingestOne(ctx, ownerID, rec, overwrite, projectByPath, sessionByID, &stats); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, RecordError{UUID: rec.UUID, Index: i, Err: err})
		}
	}

	stats.Duration = time.Since(start)
	p.log.LogIngestBatch(ctx, "", stats.Inserted+stats.Updated, stats.Skipped, stats.Failed, stats.Duration)
	if p.metric != nil {
		p.metric.RecordIngestBatch(p.svc, stats.Inserted+stats.Updated, stats.Skipped, stats.Failed, stats.Duration)
	}
	return stats, nil
}

func (p *Pipeline) ingestOne(
	ctx context.Context,
	ownerID string,
	rec Record,
	overwrite bool,
	projectByPath map[string]*domain.Project,
	sessionByID map[string]*domain.Session,
	stats *Stats,
) error {
	if err := validate(rec); err != nil {
		return err
	}

	rec.Content.Raw = sanitize(rec.Content.Raw)

	msg := &domain.Message{
		UUID:       rec.UUID,
		SessionID:  rec.SessionID,
		ParentUUID: rec.ParentUUID,
		Type:       rec.Type,
		Content:    rec.Content,
		Timestamp:  rec.Timestamp.UTC(),
		Model:      rec.Model,
		Usage:      rec.Usage,
		LatencyMS:  rec.LatencyMS,
		GitBranch:  rec.GitBranch,
		WorkingDir: rec.WorkingDir,
	}
	msg.ContentHash = contentHash(msg)
	if rec.Cost != nil {
		msg.Cost = *rec.Cost
	} else {
		msg.Cost = p.costs.Compute(ctx, rec.Model, rec.Usage)
	}

	// In overwrite mode, fetch the stored message first: if its content
	// hash is unchanged, the record is a re-send, not a real update, and
	// counts as skipped without touching the store or the session total
	// (spec.md §4.4 "Deduplication").
	var existingMsg *domain.Message
	if overwrite {
		em, err := p.stores.Messages.FindByUUID(ctx, rec.UUID, msg.Timestamp)
		switch {
		case err == nil:
			existingMsg = em
		case errors.IsServiceError(err) && errors.GetServiceError(err).Code == errors.ErrCodeNotFound:
			// no stored message yet; this record will be an insert.
		default:
			return err
		}
		if existingMsg != nil && existingMsg.ContentHash == msg.ContentHash {
			stats.Skipped++
			return nil
		}
	}

	project, err := p.materializeProject(ctx, ownerID, rec.WorkingDir, projectByPath, stats)
	if err != nil {
		return err
	}

	session, created, err := p.materializeSession(ctx, project, rec.SessionID, rec.Timestamp.UTC(), sessionByID, stats)
	if err != nil {
		return err
	}

	existed, err := p.stores.Messages.Upsert(ctx, msg, overwrite)
	if err != nil {
		return err
	}

	switch {
	case !existed:
		stats.Inserted++
		session.MessageCount++
		session.TotalCost += msg.Cost
	case overwrite:
		// Recompute this session's contribution from the replaced message
		// rather than accumulating: subtract its prior cost before adding
		// the new one, so total_cost reflects the current message set
		// instead of double-counting a changed cost (spec.md I5).
		stats.Updated++
		var prevCost float64
		if existingMsg != nil {
			prevCost = existingMsg.Cost
		}
		session.TotalCost += msg.Cost - prevCost
	default:
		stats.Skipped++
		return nil
	}

	if session.StartedAt.IsZero() || msg.Timestamp.Before(session.StartedAt) {
		session.StartedAt = msg.Timestamp
	}
	if msg.Timestamp.After(session.LastSeenAt) {
		session.LastSeenAt = msg.Timestamp
	}
	session.UpdatedAt = time.Now().UTC()
	if err := p.stores.Sessions.Update(ctx, session); err != nil {
		return err
	}

	_ = created
	return nil
}

// validate enforces spec.md §4.4's per-record shape rules.
func validate(rec Record) error {
	if rec.UUID == "" {
		return errors.MissingParameter("uuid")
	}
	if _, err := uuid.Parse(rec.UUID); err != nil {
		return errors.InvalidFormat("uuid", "uuid")
	}
	if !domain.ValidMessageTypes[rec.Type] {
		return errors.ValidationFailure("type", "not a recognized message type")
	}
	if rec.Timestamp.IsZero() {
		return errors.MissingParameter("timestamp")
	}
	if rec.SessionID == "" {
		return errors.MissingParameter("session_id")
	}
	if rec.Type == domain.MessageAssistant && rec.Content.Raw == nil {
		return errors.ValidationFailure("message", "assistant records must carry a message payload")
	}
	if rec.Cost != nil && (*rec.Cost < 0 || *rec.Cost >= 100) {
		return errors.OutOfRange("cost", 0, 100)
	}
	return nil
}

// sanitize strips script-tag fragments case-insensitively, spec.md §4.4.
func sanitize(raw []byte) []byte {
	if raw == nil {
		return nil
	}
	return scriptTagPattern.ReplaceAll(raw, nil)
}

// contentHash hashes the fields a record's identity depends on, so
// overwrite-mode can distinguish a genuine change from a re-send.
func contentHash(m *domain.Message) string {
	h := sha256.New()
	h.Write([]byte(m.UUID))
	h.Write([]byte(m.SessionID))
	h.Write([]byte(m.Type))
	h.Write(m.Content.Raw)
	h.Write([]byte(m.Model))
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) materializeProject(
	ctx context.Context,
	ownerID, path string,
	cached map[string]*domain.Project,
	stats *Stats,
) (*domain.Project, error) {
	if path == "" {
		path = "unknown"
	}
	key := ownerID + "\x00" + path
	if proj, ok := cached[key]; ok {
		return proj, nil
	}

	existing, err := p.stores.Projects.GetByPath(ctx, ownerID, path)
	if err == nil {
		cached[key] = existing
		return existing, nil
	}
	if !errors.IsServiceError(err) || errors.GetServiceError(err).Code != errors.ErrCodeNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	proj := &domain.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Path:      path,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.stores.Projects.Create(ctx, proj); err != nil {
		return nil, err
	}
	stats.ProjectsCreated = append(stats.ProjectsCreated, proj.ID)
	cached[key] = proj
	return proj, nil
}

func (p *Pipeline) materializeSession(
	ctx context.Context,
	project *domain.Project,
	sessionID string,
	timestamp time.Time,
	cached map[string]*domain.Session,
	stats *Stats,
) (*domain.Session, bool, error) {
	if sess, ok := cached[sessionID]; ok {
		return sess, false, nil
	}

	existing, err := p.stores.Sessions.GetByID(ctx, sessionID)
	if err == nil {
		cached[sessionID] = existing
		return existing, false, nil
	}
	if !errors.IsServiceError(err) || errors.GetServiceError(err).Code != errors.ErrCodeNotFound {
		return nil, false, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:         sessionID,
		ProjectID:  project.ID,
		StartedAt:  timestamp,
		LastSeenAt: timestamp,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.stores.Sessions.Create(ctx, sess); err != nil {
		return nil, false, err
	}
	project.SessionCount++
	_ = p.stores.Projects.Update(ctx, project)
	stats.SessionsCreated++
	cached[sessionID] = sess
	return sess, true, nil
}
