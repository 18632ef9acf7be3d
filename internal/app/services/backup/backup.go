// Package backup implements the Backup Engine from spec.md §4.7: resolve
// the document set for a principal and filter, stream it through the
// `.claudelens` archive codec, and track a BackupMetadata document through
// its lifecycle.
package backup

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
	"github.com/sjafferali/claudelens-archive/internal/app/archive"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/services/progress"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

// MetadataStore persists BackupMetadata documents across their lifecycle.
type MetadataStore interface {
	Create(ctx context.Context, m *domain.BackupMetadata) error
	Update(ctx context.Context, m *domain.BackupMetadata) error
	GetByID(ctx context.Context, id string) (*domain.BackupMetadata, error)
	Delete(ctx context.Context, id string) error
}

// FileSink opens a destination for a new archive and, separately, a
// reader for a previously written one. The concrete implementation may
// be local disk, object storage, or (in tests) an in-memory buffer.
// Both Engine and the Restore Engine consume archives through the
// standard io.Reader/io.Writer surface so a single FileSink/ArchiveSource
// implementation backs both pipelines.
type FileSink interface {
	Create(ctx context.Context, path string) (io.WriteCloser, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// progressEveryN bounds how often Engine emits an in-section progress
// event, so events arrive roughly once per second at typical ingest
// rates (spec.md §4.7 "Progress") without a wall-clock timer per document.
const progressEveryN = 500

// Engine resolves entities, streams them through the archive codec, and
// drives a BackupMetadata document from in_progress (set by Create) to
// completed or failed. The pending status is not used by this engine.
type Engine struct {
	stores   *storage.Stores
	owners   *ownership.Resolver
	metadata MetadataStore
	sink     FileSink
	bus      *progress.Broadcaster
	log      *logging.Logger
	metric   *metrics.Metrics
	svc      string
}

func New(
	stores *storage.Stores,
	owners *ownership.Resolver,
	metadata MetadataStore,
	sink FileSink,
	bus *progress.Broadcaster,
	log *logging.Logger,
	m *metrics.Metrics,
	service string,
) *Engine {
	return &Engine{stores: stores, owners: owners, metadata: metadata, sink: sink, bus: bus, log: log, metric: m, svc: service}
}

// Create starts a backup for principal, returning the metadata row
// immediately; Run performs the actual streaming and should be invoked
// on a background goroutine by the caller (spec.md §5 "long-running
// operations ... run as background tasks").
func (e *Engine) Create(ctx context.Context, principal domain.Principal, name string, typ domain.BackupType, filter domain.BackupFilter, level archive.CompressionLevel) (*domain.BackupMetadata, error) {
	if name == "" {
		return nil, errors.MissingParameter("name")
	}

	meta := &domain.BackupMetadata{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		CreatedBy: principal.UserID,
		FilePath:  "backups/" + uuid.NewString() + ".claudelens",
		Type:      typ,
		Filter:    filter,
		Status:    domain.BackupInProgress,
	}
	if err := e.metadata.Create(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Run streams the archive for meta to the configured sink. It is safe to
// call from a background goroutine; it updates meta's status in storage
// as it progresses and never panics on a resolution or I/O error (those
// are recorded as a failed status instead).
func (e *Engine) Run(ctx context.Context, principal domain.Principal, meta *domain.BackupMetadata, level archive.CompressionLevel) {
	start := time.Now()
	if err := e.run(ctx, principal, meta, level); err != nil {
		meta.Status = domain.BackupFailed
		meta.Error = err.Error()
		_ = e.metadata.Update(ctx, meta)
		e.publish(meta.ID, progress.EventFailed, 0, 0, err.Error(), true)
		if e.metric != nil {
			e.metric.RecordBackupJob(e.svc, "failed", meta.CompressedBytes)
		}
		return
	}
	if e.metric != nil {
		e.metric.RecordBackupJob(e.svc, "completed", meta.CompressedBytes)
	}
	e.log.LogBackupProgress(ctx, meta.ID, meta.SizeBytes, map[string]int64{
		"projects": meta.ContentCounts.Projects,
		"sessions": meta.ContentCounts.Sessions,
		"messages": meta.ContentCounts.Messages,
		"prompts":  meta.ContentCounts.Prompts,
	})
	_ = start
}

func (e *Engine) run(ctx context.Context, principal domain.Principal, meta *domain.BackupMetadata, level archive.CompressionLevel) error {
	projects, sessions, prompts, err := e.resolve(ctx, principal, meta.Type, meta.Filter)
	if err != nil {
		return err
	}

	dst, err := e.sink.Create(ctx, meta.FilePath)
	if err != nil {
		return errors.Internal("backup: open destination", err)
	}
	defer dst.Close()

	filterJSON, _ := json.Marshal(meta.Filter)
	w, err := archive.NewWriter(dst, level, archive.Header{Filters: filterJSON})
	if err != nil {
		return err
	}

	counts := archive.ContentCounts{}

	if err := e.writeSection(w, "projects", len(projects), func(i int) (interface{}, error) {
		counts.Projects++
		return projects[i], nil
	}); err != nil {
		return err
	}
	e.publish(meta.ID, progress.EventSection, int64(len(projects)), int64(len(projects)), "projects complete", false)

	if err := e.writeSection(w, "sessions", len(sessions), func(i int) (interface{}, error) {
		counts.Sessions++
		return sessions[i], nil
	}); err != nil {
		return err
	}
	e.publish(meta.ID, progress.EventSection, int64(len(sessions)), int64(len(sessions)), "sessions complete", false)

	sessionIDs := make([]string, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
	}
	// An empty SessionIDs filter matches every message, so a principal with
	// no visible sessions has no messages to back up.
	var messages []*domain.Message
	if len(sessionIDs) > 0 {
		messages, err = e.stores.Messages.Find(ctx, messageFilterFor(meta.Filter, sessionIDs))
		if err != nil {
			return errors.Internal("backup: resolve messages", err)
		}
	}
	if err := e.writeSection(w, "messages", len(messages), func(i int) (interface{}, error) {
		counts.Messages++
		if i%progressEveryN == 0 {
			e.publish(meta.ID, progress.EventProgress, int64(i), int64(len(messages)), "streaming messages", false)
		}
		return messages[i], nil
	}); err != nil {
		return err
	}

	if err := e.writeSection(w, "prompts", len(prompts), func(i int) (interface{}, error) {
		counts.Prompts++
		return prompts[i], nil
	}); err != nil {
		return err
	}

	footer, err := w.Close()
	if err != nil {
		return err
	}

	// The archive as stored (magic prefix plus compressed stream) is read
	// back once to measure its compressed size.
	stored, err := e.sink.Open(ctx, meta.FilePath)
	if err != nil {
		return errors.Internal("backup: reopen archive", err)
	}
	compressed, err := io.Copy(io.Discard, stored)
	stored.Close()
	if err != nil {
		return errors.Internal("backup: measure archive", err)
	}

	meta.SizeBytes = footer.TotalBytes
	meta.CompressedBytes = compressed
	meta.Checksum = footer.Checksum
	meta.ContentCounts = domain.ContentCounts{
		Projects: counts.Projects,
		Sessions: counts.Sessions,
		Messages: counts.Messages,
		Prompts:  counts.Prompts,
	}
	meta.Status = domain.BackupCompleted
	if err := e.metadata.Update(ctx, meta); err != nil {
		return err
	}
	e.publish(meta.ID, progress.EventComplete, int64(len(messages)), int64(len(messages)), "backup complete", true)
	return nil
}

func (e *Engine) writeSection(w *archive.Writer, name string, n int, doc func(int) (interface{}, error)) error {
	if err := w.BeginSection(name); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		d, err := doc(i)
		if err != nil {
			return err
		}
		if err := w.WriteDocument(d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, principal domain.Principal, typ domain.BackupType, filter domain.BackupFilter) ([]*domain.Project, []*domain.Session, []*domain.Prompt, error) {
	// Backup reads flow through the Ownership Resolver (spec.md §2's data
	// flow note); Filter's Unrestricted flag is the admin-bypass decision,
	// hydrated here since Filter itself only returns id sets.
	query, err := e.owners.Filter(ctx, principal)
	if err != nil {
		return nil, nil, nil, err
	}

	var projects []*domain.Project
	if query.Unrestricted {
		projects, err = e.stores.Projects.ListAll(ctx)
	} else {
		projects, err = e.stores.Projects.ListByOwner(ctx, principal.UserID)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if typ == domain.BackupSelective && len(filter.ProjectIDs) > 0 {
		projects = filterProjects(projects, filter.ProjectIDs)
	}

	projectIDs := make([]string, len(projects))
	for i, p := range projects {
		projectIDs[i] = p.ID
	}
	sessions, err := e.stores.Sessions.ListByProjects(ctx, projectIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	if typ == domain.BackupSelective {
		sessions = filterSessions(sessions, filter)
	}

	prompts, err := e.stores.Prompts.ListByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, nil, nil, err
	}

	return projects, sessions, prompts, nil
}

func filterProjects(projects []*domain.Project, ids []string) []*domain.Project {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := projects[:0:0]
	for _, p := range projects {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func filterSessions(sessions []*domain.Session, filter domain.BackupFilter) []*domain.Session {
	wantSessions := map[string]bool(nil)
	if len(filter.SessionIDs) > 0 {
		wantSessions = make(map[string]bool, len(filter.SessionIDs))
		for _, id := range filter.SessionIDs {
			wantSessions[id] = true
		}
	}
	out := sessions[:0:0]
	for _, s := range sessions {
		if wantSessions != nil && !wantSessions[s.ID] {
			continue
		}
		if filter.StartTime != nil && s.LastSeenAt.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && s.StartedAt.After(*filter.EndTime) {
			continue
		}
		if filter.MinMessageCount > 0 && s.MessageCount < filter.MinMessageCount {
			continue
		}
		if filter.MaxMessageCount > 0 && s.MessageCount > filter.MaxMessageCount {
			continue
		}
		out = append(out, s)
	}
	return out
}

func messageFilterFor(filter domain.BackupFilter, sessionIDs []string) storage.MessageFilter {
	mf := storage.MessageFilter{SessionIDs: sessionIDs}
	if filter.StartTime != nil {
		mf.Start = *filter.StartTime
	}
	if filter.EndTime != nil {
		mf.End = *filter.EndTime
	}
	return mf
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

// Delete removes an archive's metadata and underlying file (spec.md
// §4.7's BackupDeleting state).
func (e *Engine) Delete(ctx context.Context, id string) error {
	meta, err := e.metadata.GetByID(ctx, id)
	if err != nil {
		return err
	}
	meta.Status = domain.BackupDeleting
	_ = e.metadata.Update(ctx, meta)

	if err := e.sink.Delete(ctx, meta.FilePath); err != nil {
		return errors.Internal("backup: delete archive file", err)
	}
	return e.metadata.Delete(ctx, id)
}
