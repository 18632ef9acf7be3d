// Package restore implements the Restore Engine from spec.md §4.8:
// preview, validation, transactional-or-journaled apply with a per-policy
// conflict resolution, and an idempotent rollback.
package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
	"github.com/sjafferali/claudelens-archive/internal/app/archive"
	"github.com/sjafferali/claudelens-archive/internal/app/services/progress"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

// JobStore persists RestoreJob documents.
type JobStore interface {
	Create(ctx context.Context, j *domain.RestoreJob) error
	Update(ctx context.Context, j *domain.RestoreJob) error
	GetByID(ctx context.Context, id string) (*domain.RestoreJob, error)
}

// ArchiveSource opens the backup archive identified by path for reading.
// This is the same shape as backup.FileSink's Open method, built on the
// standard io.ReadCloser so one sink implementation satisfies both the
// Backup and Restore Engines.
type ArchiveSource interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// BackupLookup resolves the metadata a restore job's backup_id refers to.
type BackupLookup interface {
	GetByID(ctx context.Context, id string) (*domain.BackupMetadata, error)
}

// previewLimit bounds how many documents per section Preview streams,
// spec.md §4.8 "bounded prefix".
const previewLimit = 20

// Engine drives one RestoreJob through validate -> apply -> (rollback on
// failure).
type Engine struct {
	stores  *storage.Stores
	backups BackupLookup
	jobs    JobStore
	source  ArchiveSource
	bus     *progress.Broadcaster
	log     *logging.Logger
	metric  *metrics.Metrics
	svc     string
}

func New(stores *storage.Stores, backups BackupLookup, jobs JobStore, source ArchiveSource, bus *progress.Broadcaster, log *logging.Logger, m *metrics.Metrics, service string) *Engine {
	return &Engine{stores: stores, backups: backups, jobs: jobs, source: source, bus: bus, log: log, metric: m, svc: service}
}

// Create registers a new RestoreJob in state pending.
func (e *Engine) Create(ctx context.Context, requestedBy, backupID string, mode domain.RestoreMode, policy domain.ConflictPolicy) (*domain.RestoreJob, error) {
	if backupID == "" {
		return nil, errors.MissingParameter("backup_id")
	}
	job := &domain.RestoreJob{
		ID:          uuid.NewString(),
		BackupID:    backupID,
		Mode:        mode,
		Policy:      policy,
		RequestedBy: requestedBy,
		Status:      domain.RestorePending,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// PreviewResult is the bounded, non-mutating summary spec.md §4.8 names.
type PreviewResult struct {
	Header   archive.Header
	Sections map[string][]json.RawMessage
	Warnings []string
}

// Preview streams a bounded prefix of the archive without applying
// anything.
func (e *Engine) Preview(ctx context.Context, backupID string) (*PreviewResult, error) {
	meta, err := e.backups.GetByID(ctx, backupID)
	if err != nil {
		return nil, err
	}
	src, err := e.source.Open(ctx, meta.FilePath)
	if err != nil {
		return nil, errors.Internal("restore: open archive", err)
	}
	defer src.Close()

	r, err := archive.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result := &PreviewResult{Header: r.Header, Sections: make(map[string][]json.RawMessage)}
	if r.Header.Version != archive.FormatVersion {
		result.Warnings = append(result.Warnings, "archive format version does not match the running engine")
	}

	section := ""
	for {
		line, err := r.Next()
		if err != nil {
			return nil, err
		}
		if line.IsEnd {
			break
		}
		if sh, ok := archive.IsSectionHeader(line.Raw); ok {
			section = sh.Collection
			continue
		}
		if _, ok := archive.IsFooter(line.Raw); ok {
			break
		}
		if len(result.Sections[section]) >= previewLimit {
			continue
		}
		result.Sections[section] = append(result.Sections[section], append(json.RawMessage(nil), line.Raw...))
	}
	return result, nil
}

// ValidationResult is the outcome of the pre-apply integrity pass.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate verifies the header schema, checksum presence, and that the
// stream decompresses end-to-end without error (spec.md §4.8 "Validation
// pass"). It does not apply anything.
func (e *Engine) Validate(ctx context.Context, backupID string) (ValidationResult, error) {
	meta, err := e.backups.GetByID(ctx, backupID)
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{Valid: true}
	if meta.Checksum == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "backup metadata carries no checksum")
	}

	src, err := e.source.Open(ctx, meta.FilePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, "archive file could not be opened: "+err.Error())
		return result, nil
	}
	defer src.Close()

	r, err := archive.NewReader(src)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, "archive header malformed: "+err.Error())
		return result, nil
	}
	defer r.Close()

	var lastFooter archive.Footer
	sawFooter := false
	for {
		line, err := r.Next()
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, "archive stream truncated or corrupt: "+err.Error())
			return result, nil
		}
		if line.IsEnd {
			break
		}
		if f, ok := archive.IsFooter(line.Raw); ok {
			lastFooter = f
			sawFooter = true
		}
	}
	if !sawFooter {
		result.Valid = false
		result.Errors = append(result.Errors, "archive is missing its trailing footer")
		return result, nil
	}
	if meta.Checksum != "" && lastFooter.Checksum != meta.Checksum {
		result.Valid = false
		result.Errors = append(result.Errors, "archive checksum does not match backup metadata")
	}
	return result, nil
}

// journal is the rollback record spec.md §4.8's Apply pass names: ids
// inserted fresh, pre-images of anything overwritten or merged, and the
// old-id -> new-id mapping the rename conflict policy produces, so a
// sibling record referencing a renamed project or session (a session's
// project_id, a message's session_id) is rewritten to the surviving id
// before it is applied, rather than left pointing at a pre-existing,
// unrelated record that happens to own the original id.
type journal struct {
	insertedIDs []insertedRef
	preimages   map[string]map[string]json.RawMessage // collection -> id -> pre-image
	idMap       map[string]map[string]string          // collection -> original id -> renamed id
}

type insertedRef struct {
	collection string
	id         string
}

func newJournal() *journal {
	return &journal{
		preimages: make(map[string]map[string]json.RawMessage),
		idMap:     make(map[string]map[string]string),
	}
}

func (j *journal) recordInsert(collection, id string) {
	j.insertedIDs = append(j.insertedIDs, insertedRef{collection, id})
}

func (j *journal) recordPreimage(collection, id string, pre json.RawMessage) {
	if j.preimages[collection] == nil {
		j.preimages[collection] = make(map[string]json.RawMessage)
	}
	j.preimages[collection][id] = pre
}

// recordRename remembers that collection's document originalID now lives
// under renamedID, so later sections in the same archive can follow the
// reference instead of pointing at whatever pre-existing record already
// owns originalID.
func (j *journal) recordRename(collection, originalID, renamedID string) {
	if j.idMap[collection] == nil {
		j.idMap[collection] = make(map[string]string)
	}
	j.idMap[collection][originalID] = renamedID
}

// mappedID follows a rename recorded earlier in the same apply pass, or
// returns id unchanged if it was never renamed.
func (j *journal) mappedID(collection, id string) string {
	if id == "" {
		return id
	}
	if m, ok := j.idMap[collection]; ok {
		if renamed, ok := m[id]; ok {
			return renamed
		}
	}
	return id
}

// Run validates then applies backupID's archive per job.Mode/job.Policy,
// rolling back on any failure. It is meant to run on a background
// goroutine; the caller already has job.ID to poll or subscribe to.
func (e *Engine) Run(ctx context.Context, job *domain.RestoreJob, selectors Selectors) {
	job.Status = domain.RestoreInProgress
	job.StartedAt = time.Now().UTC()
	_ = e.jobs.Update(ctx, job)

	if v, err := e.Validate(ctx, job.BackupID); err != nil || !v.Valid {
		job.Status = domain.RestoreFailed
		job.Errors = append(job.Errors, v.Errors...)
		if err != nil {
			job.Errors = append(job.Errors, err.Error())
		}
		job.FinishedAt = time.Now().UTC()
		_ = e.jobs.Update(ctx, job)
		e.publish(job.ID, progress.EventFailed, 0, 0, "validation failed", true)
		return
	}

	jrn := newJournal()
	if err := e.apply(ctx, job, selectors, jrn); err != nil {
		e.rollback(ctx, jrn)
		job.Status = domain.RestoreFailed
		job.Errors = append(job.Errors, err.Error())
		job.FinishedAt = time.Now().UTC()
		_ = e.jobs.Update(ctx, job)
		e.publish(job.ID, progress.EventFailed, 0, 0, err.Error(), true)
		if e.metric != nil {
			e.metric.RecordRestoreJob(e.svc, "failed")
		}
		return
	}

	job.Status = domain.RestoreCompleted
	job.FinishedAt = time.Now().UTC()
	_ = e.jobs.Update(ctx, job)
	e.publish(job.ID, progress.EventComplete, 0, 0, "restore complete", true)
	if e.metric != nil {
		e.metric.RecordRestoreJob(e.svc, "completed")
	}
}

// Selectors narrows a selective restore, mirroring domain.BackupFilter's
// project/session subset shape on the read side.
type Selectors struct {
	ProjectIDs []string
	SessionIDs []string
}

func (s Selectors) allows(collection, id string, doc map[string]interface{}) bool {
	switch collection {
	case "projects":
		return len(s.ProjectIDs) == 0 || contains(s.ProjectIDs, id)
	case "sessions":
		return len(s.SessionIDs) == 0 || contains(s.SessionIDs, id)
	default:
		return true
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func (e *Engine) apply(ctx context.Context, job *domain.RestoreJob, selectors Selectors, jrn *journal) error {
	meta, err := e.backups.GetByID(ctx, job.BackupID)
	if err != nil {
		return err
	}
	src, err := e.source.Open(ctx, meta.FilePath)
	if err != nil {
		return errors.Internal("restore: open archive", err)
	}
	defer src.Close()

	r, err := archive.NewReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	section := ""
	var processed int64
	for {
		select {
		case <-ctx.Done():
			job.Status = domain.RestoreCancelled
			return ctx.Err()
		default:
		}

		line, err := r.Next()
		if err != nil {
			return err
		}
		if line.IsEnd {
			break
		}
		if sh, ok := archive.IsSectionHeader(line.Raw); ok {
			section = sh.Collection
			continue
		}
		if _, ok := archive.IsFooter(line.Raw); ok {
			break
		}

		if job.Mode == domain.RestoreSelective {
			var probe map[string]interface{}
			if err := json.Unmarshal(line.Raw, &probe); err == nil {
				id, _ := probe["ID"].(string)
				if !selectors.allows(section, id, probe) {
					continue
				}
			}
		}

		if err := e.applyDocument(ctx, job, section, line.Raw, jrn); err != nil {
			job.Stats.Failed++
			return errors.Internal(fmt.Sprintf("restore: apply failed in %s", section), err)
		}
		processed++
		if processed%500 == 0 {
			e.publish(job.ID, progress.EventProgress, processed, 0, "applying "+section, false)
		}
	}
	return nil
}

func (e *Engine) applyDocument(ctx context.Context, job *domain.RestoreJob, collection string, raw []byte, jrn *journal) error {
	switch collection {
	case "projects":
		return e.applyProject(ctx, job, raw, jrn)
	case "sessions":
		return e.applySession(ctx, job, raw, jrn)
	case "messages":
		return e.applyMessage(ctx, job, raw, jrn)
	case "prompts":
		return e.applyPrompt(ctx, job, raw, jrn)
	default:
		return nil
	}
}

func (e *Engine) applyProject(ctx context.Context, job *domain.RestoreJob, raw []byte, jrn *journal) error {
	var p domain.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Corruption("restore: malformed project document", 0)
	}

	existing, err := e.stores.Projects.GetByID(ctx, p.ID)
	if err != nil {
		if err := e.stores.Projects.Create(ctx, &p); err != nil {
			return err
		}
		jrn.recordInsert("projects", p.ID)
		job.Stats.Inserted++
		return nil
	}
	return e.resolveConflict(job, "projects", p.ID, func() error {
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("projects", p.ID, pre)
		return e.stores.Projects.Update(ctx, &p)
	}, func() error {
		merged := *existing
		if p.Path != "" {
			merged.Path = p.Path
		}
		merged.MessageCount = maxInt64(merged.MessageCount, p.MessageCount)
		merged.SessionCount = maxInt64(merged.SessionCount, p.SessionCount)
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("projects", p.ID, pre)
		return e.stores.Projects.Update(ctx, &merged)
	}, func() error {
		oldID := p.ID
		p.ID = uuid.NewString()
		if err := e.stores.Projects.Create(ctx, &p); err != nil {
			return err
		}
		jrn.recordInsert("projects", p.ID)
		jrn.recordRename("projects", oldID, p.ID)
		return nil
	})
}

func (e *Engine) applySession(ctx context.Context, job *domain.RestoreJob, raw []byte, jrn *journal) error {
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Corruption("restore: malformed session document", 0)
	}
	s.ProjectID = jrn.mappedID("projects", s.ProjectID)

	existing, err := e.stores.Sessions.GetByID(ctx, s.ID)
	if err != nil {
		if err := e.stores.Sessions.Create(ctx, &s); err != nil {
			return err
		}
		jrn.recordInsert("sessions", s.ID)
		job.Stats.Inserted++
		return nil
	}
	return e.resolveConflict(job, "sessions", s.ID, func() error {
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("sessions", s.ID, pre)
		return e.stores.Sessions.Update(ctx, &s)
	}, func() error {
		merged := *existing
		merged.MessageCount = maxInt64(merged.MessageCount, s.MessageCount)
		merged.TotalCost += s.TotalCost
		if s.LastSeenAt.After(merged.LastSeenAt) {
			merged.LastSeenAt = s.LastSeenAt
		}
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("sessions", s.ID, pre)
		return e.stores.Sessions.Update(ctx, &merged)
	}, func() error {
		oldID := s.ID
		s.ID = uuid.NewString()
		if err := e.stores.Sessions.Create(ctx, &s); err != nil {
			return err
		}
		jrn.recordInsert("sessions", s.ID)
		jrn.recordRename("sessions", oldID, s.ID)
		return nil
	})
}

func (e *Engine) applyMessage(ctx context.Context, job *domain.RestoreJob, raw []byte, jrn *journal) error {
	var m domain.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.Corruption("restore: malformed message document", 0)
	}
	m.SessionID = jrn.mappedID("sessions", m.SessionID)

	existing, err := e.stores.Messages.FindByUUID(ctx, m.UUID, m.Timestamp)
	notFound := err != nil
	if notFound {
		if _, err := e.stores.Messages.Upsert(ctx, &m, true); err != nil {
			return err
		}
		jrn.recordInsert("messages", m.UUID)
		job.Stats.Inserted++
		return nil
	}
	return e.resolveConflict(job, "messages", m.UUID, func() error {
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("messages", m.UUID, pre)
		_, err := e.stores.Messages.Upsert(ctx, &m, true)
		return err
	}, func() error {
		merged := *existing
		if m.Cost > merged.Cost {
			merged.Cost = m.Cost
		}
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("messages", m.UUID, pre)
		_, err := e.stores.Messages.Upsert(ctx, &merged, true)
		return err
	}, func() error {
		m.UUID = uuid.NewString()
		if _, err := e.stores.Messages.Upsert(ctx, &m, true); err != nil {
			return err
		}
		jrn.recordInsert("messages", m.UUID)
		return nil
	})
}

func (e *Engine) applyPrompt(ctx context.Context, job *domain.RestoreJob, raw []byte, jrn *journal) error {
	var p domain.Prompt
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Corruption("restore: malformed prompt document", 0)
	}

	existing, err := e.stores.Prompts.GetByID(ctx, p.ID)
	if err != nil {
		if err := e.stores.Prompts.Create(ctx, &p); err != nil {
			return err
		}
		jrn.recordInsert("prompts", p.ID)
		job.Stats.Inserted++
		return nil
	}
	return e.resolveConflict(job, "prompts", p.ID, func() error {
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("prompts", p.ID, pre)
		return e.stores.Prompts.Update(ctx, &p)
	}, func() error {
		merged := *existing
		merged.Tags = dedupeStrings(append(append([]string{}, merged.Tags...), p.Tags...))
		pre, _ := json.Marshal(existing)
		jrn.recordPreimage("prompts", p.ID, pre)
		return e.stores.Prompts.Update(ctx, &merged)
	}, func() error {
		p.ID = uuid.NewString()
		if err := e.stores.Prompts.Create(ctx, &p); err != nil {
			return err
		}
		jrn.recordInsert("prompts", p.ID)
		return nil
	})
}

// resolveConflict dispatches to the right handler for job.Policy, per
// spec.md §4.8's four conflict policies, and bumps job.Stats/logs
// accordingly.
func (e *Engine) resolveConflict(job *domain.RestoreJob, entity, id string, overwrite, merge, rename func() error) error {
	if job.Stats.ConflictsByEntity == nil {
		job.Stats.ConflictsByEntity = make(map[string]int64)
	}
	job.Stats.ConflictsByEntity[entity]++

	switch job.Policy {
	case domain.ConflictSkip:
		job.Stats.Skipped++
		e.log.LogRestoreConflict(context.Background(), job.ID, entity, id, string(job.Policy))
		return nil
	case domain.ConflictOverwrite:
		if err := overwrite(); err != nil {
			return err
		}
		job.Stats.Replaced++
	case domain.ConflictMerge:
		if err := merge(); err != nil {
			return err
		}
		job.Stats.Merged++
	case domain.ConflictRename:
		if err := rename(); err != nil {
			return err
		}
		job.Stats.Inserted++
	default:
		job.Stats.Skipped++
	}
	e.log.LogRestoreConflict(context.Background(), job.ID, entity, id, string(job.Policy))
	return nil
}

// rollback undoes jrn: delete every freshly inserted document, then
// restore every recorded pre-image. It is idempotent: deleting an
// already-deleted id or restoring an already-restored pre-image is a
// harmless no-op from the caller's perspective (spec.md §4.8 "Rollback").
func (e *Engine) rollback(ctx context.Context, jrn *journal) {
	for _, ref := range jrn.insertedIDs {
		switch ref.collection {
		case "projects":
			_ = e.stores.Projects.Delete(ctx, ref.id)
		case "sessions":
			_ = e.stores.Sessions.Delete(ctx, ref.id)
		case "messages":
			_ = e.stores.Messages.DeleteByUUID(ctx, ref.id, time.Time{})
		case "prompts":
			_ = e.stores.Prompts.Delete(ctx, ref.id)
		}
	}

	for collection, byID := range jrn.preimages {
		for _, pre := range byID {
			switch collection {
			case "projects":
				var p domain.Project
				if json.Unmarshal(pre, &p) == nil {
					_ = e.stores.Projects.Update(ctx, &p)
				}
			case "sessions":
				var s domain.Session
				if json.Unmarshal(pre, &s) == nil {
					_ = e.stores.Sessions.Update(ctx, &s)
				}
			case "messages":
				var m domain.Message
				if json.Unmarshal(pre, &m) == nil {
					_, _ = e.stores.Messages.Upsert(ctx, &m, true)
				}
			case "prompts":
				var p domain.Prompt
				if json.Unmarshal(pre, &p) == nil {
					_ = e.stores.Prompts.Update(ctx, &p)
				}
			}
		}
	}
}

func (e *Engine) publish(jobID string, typ progress.EventType, current, total int64, message string, completed bool) {
	if e.bus == nil {
		return
	}
	var pct float64
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	e.bus.Publish(progress.Event{
		Type:      typ,
		JobID:     jobID,
		Current:   current,
		Total:     total,
		Progress:  pct,
		Message:   message,
		Completed: completed,
		Timestamp: time.Now().UTC(),
	})
}

func dedupeStrings(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
