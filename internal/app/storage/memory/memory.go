// Package memory is an in-process implementation of the storage-layer
// contracts, standing in for MongoDB in unit tests the way the teacher's
// in-memory storage backend stands in for Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// ProjectStore is a mutex-guarded map of projects keyed by id.
type ProjectStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Project
	byOwner  map[string]map[string]string // ownerID -> path -> id
}

func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		byID:    make(map[string]*domain.Project),
		byOwner: make(map[string]map[string]string),
	}
}

func (s *ProjectStore) GetByPath(ctx context.Context, ownerID, path string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths, ok := s.byOwner[ownerID]
	if !ok {
		return nil, errors.NotFound("project", path)
	}
	id, ok := paths[path]
	if !ok {
		return nil, errors.NotFound("project", path)
	}
	p := *s.byID[id]
	return &p, nil
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *ProjectStore) Create(ctx context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.ID]; exists {
		return errors.Conflict("project already exists")
	}
	cp := *p
	s.byID[p.ID] = &cp
	if s.byOwner[p.OwnerID] == nil {
		s.byOwner[p.OwnerID] = make(map[string]string)
	}
	s.byOwner[p.OwnerID][p.Path] = p.ID
	return nil
}

func (s *ProjectStore) Update(ctx context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.ID]; !exists {
		return errors.NotFound("project", p.ID)
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *ProjectStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Project
	for _, p := range s.byID {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProjectStore) ListAll(ctx context.Context) ([]*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Project, 0, len(s.byID))
	for _, p := range s.byID {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return errors.NotFound("project", id)
	}
	delete(s.byID, id)
	if paths, ok := s.byOwner[p.OwnerID]; ok {
		delete(paths, p.Path)
	}
	return nil
}

// SessionStore is a mutex-guarded map of sessions keyed by id.
type SessionStore struct {
	mu   sync.RWMutex
	byID map[string]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{byID: make(map[string]*domain.Session)}
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("session", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sess.ID]; exists {
		return errors.Conflict("session already exists")
	}
	cp := *sess
	s.byID[sess.ID] = &cp
	return nil
}

func (s *SessionStore) Update(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sess.ID]; !exists {
		return errors.NotFound("session", sess.ID)
	}
	cp := *sess
	s.byID[sess.ID] = &cp
	return nil
}

func (s *SessionStore) ListByProject(ctx context.Context, projectID string) ([]*domain.Session, error) {
	return s.ListByProjects(ctx, []string{projectID})
}

func (s *SessionStore) ListByProjects(ctx context.Context, projectIDs []string) ([]*domain.Session, error) {
	want := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		want[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Session
	for _, sess := range s.byID {
		if want[sess.ProjectID] {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errors.NotFound("session", id)
	}
	delete(s.byID, id)
	return nil
}

// MessageStore implements the Rolling Partition Store's contract entirely
// in memory, keyed by partition name ("messages_YYYY_MM") the same way the
// MongoDB-backed implementation keys its physical collections.
type MessageStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*domain.Message // partition -> uuid -> message
	uuidIndex  map[string]string                      // uuid -> partition, enforces global uniqueness
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		partitions: make(map[string]map[string]*domain.Message),
		uuidIndex:  make(map[string]string),
	}
}

func partitionName(t time.Time) string {
	year, month := domain.Partition(t)
	return partitionNameOf(year, month)
}

func partitionNameOf(year, month int) string {
	const digits = "0123456789"
	y := []byte{digits[year/1000%10], digits[year/100%10], digits[year/10%10], digits[year%10]}
	m := []byte{digits[month/10%10], digits[month%10]}
	return "messages_" + string(y) + "_" + string(m)
}

func (s *MessageStore) Upsert(ctx context.Context, m *domain.Message, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := partitionName(m.Timestamp)
	existingPart, existed := s.uuidIndex[m.UUID]
	if existed && existingPart != part {
		// Timestamps are immutable after write; a caller attempting to
		// move a document between partitions is a programming error.
		return true, errors.Conflict("message partition reassignment is not supported")
	}
	if existed && !overwrite {
		return true, nil
	}

	if s.partitions[part] == nil {
		s.partitions[part] = make(map[string]*domain.Message)
	}
	cp := *m
	s.partitions[part][m.UUID] = &cp
	s.uuidIndex[m.UUID] = part
	return existed, nil
}

func (s *MessageStore) FindByUUID(ctx context.Context, uuid string, hintTime time.Time) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !hintTime.IsZero() {
		part := partitionName(hintTime)
		if msgs, ok := s.partitions[part]; ok {
			if m, ok := msgs[uuid]; ok {
				cp := *m
				return &cp, nil
			}
		}
		return nil, errors.NotFound("message", uuid)
	}

	part, ok := s.uuidIndex[uuid]
	if !ok {
		return nil, errors.NotFound("message", uuid)
	}
	m := s.partitions[part][uuid]
	cp := *m
	return &cp, nil
}

func (s *MessageStore) Find(ctx context.Context, filter storage.MessageFilter) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionWant := toSet(filter.SessionIDs)
	var out []*domain.Message
	for _, msgs := range s.partitions {
		for _, m := range msgs {
			if !inWindow(m.Timestamp, filter.Start, filter.End) {
				continue
			}
			if sessionWant != nil && !sessionWant[m.SessionID] {
				continue
			}
			if filter.Text != "" && !strings.Contains(strings.ToLower(string(m.Content.Raw)), strings.ToLower(filter.Text)) {
				continue
			}
			cp := *m
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].UUID < out[j].UUID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MessageStore) Count(ctx context.Context, filter storage.MessageFilter) (int64, error) {
	msgs, err := s.Find(ctx, storage.MessageFilter{Start: filter.Start, End: filter.End, SessionIDs: filter.SessionIDs})
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

func (s *MessageStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, msgs := range s.partitions {
		for uuid, m := range msgs {
			if m.SessionID == sessionID {
				delete(msgs, uuid)
				delete(s.uuidIndex, uuid)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *MessageStore) DeleteByUUID(ctx context.Context, uuid string, hintTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.uuidIndex[uuid]
	if !ok {
		if !hintTime.IsZero() {
			part = partitionName(hintTime)
		} else {
			return errors.NotFound("message", uuid)
		}
	}
	msgs, ok := s.partitions[part]
	if !ok {
		return errors.NotFound("message", uuid)
	}
	if _, ok := msgs[uuid]; !ok {
		return errors.NotFound("message", uuid)
	}
	delete(msgs, uuid)
	delete(s.uuidIndex, uuid)
	return nil
}

func (s *MessageStore) PartitionNames(ctx context.Context, start, end time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var startName, endName string
	if !start.IsZero() {
		startName = partitionName(start)
	}
	if !end.IsZero() {
		endName = partitionName(end)
	}

	var names []string
	for name, msgs := range s.partitions {
		if len(msgs) == 0 {
			continue
		}
		if (startName != "" && name < startName) || (endName != "" && name > endName) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MessageStore) DropEmptyPartitions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for name, msgs := range s.partitions {
		if len(msgs) == 0 {
			dropped = append(dropped, name)
			delete(s.partitions, name)
		}
	}
	sort.Strings(dropped)
	return dropped, nil
}

func inWindow(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// PromptStore is a mutex-guarded map of prompts keyed by id.
type PromptStore struct {
	mu   sync.RWMutex
	byID map[string]*domain.Prompt
}

func NewPromptStore() *PromptStore {
	return &PromptStore{byID: make(map[string]*domain.Prompt)}
}

func (s *PromptStore) GetByID(ctx context.Context, id string) (*domain.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("prompt", id)
	}
	cp := *p
	return &cp, nil
}

func (s *PromptStore) Create(ctx context.Context, p *domain.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *PromptStore) Update(ctx context.Context, p *domain.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return errors.NotFound("prompt", p.ID)
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *PromptStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Prompt
	for _, p := range s.byID {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *PromptStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errors.NotFound("prompt", id)
	}
	delete(s.byID, id)
	return nil
}

// UserStore is a mutex-guarded map of users keyed by id, additionally
// indexed by API key hash for the Identifier & Tenant Context's lookup
// path (spec.md §4.1).
type UserStore struct {
	mu        sync.RWMutex
	byID      map[string]*domain.User
	byKeyHash map[string]string // keyHash -> userID
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:      make(map[string]*domain.User),
		byKeyHash: make(map[string]string),
	}
}

func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.byID[u.ID] = &cp
	for _, k := range u.APIKeys {
		if k.Active {
			s.byKeyHash[k.KeyHash] = u.ID
		}
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) FindActiveByHash(ctx context.Context, keyHash string) (string, string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byKeyHash[keyHash]
	if !ok {
		return "", "", false, nil
	}
	u := s.byID[userID]
	for _, k := range u.APIKeys {
		if k.KeyHash == keyHash && k.Active {
			if !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt) {
				return "", "", false, nil
			}
			return u.ID, k.Name, true, nil
		}
	}
	return "", "", false, nil
}

func (s *UserStore) TouchLastUsed(ctx context.Context, userID, keyName string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return
	}
	for i := range u.APIKeys {
		if u.APIKeys[i].Name == keyName {
			u.APIKeys[i].LastUsed = at
		}
	}
}

func (s *UserStore) RoleOf(ctx context.Context, userID string) (domain.Role, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return "", nil, errors.NotFound("user", userID)
	}
	return u.Role, u.Permissions, nil
}

// NewStores bundles fresh in-memory backends into a storage.Stores value.
func NewStores() *storage.Stores {
	return &storage.Stores{
		Projects: NewProjectStore(),
		Sessions: NewSessionStore(),
		Messages: NewMessageStore(),
		Prompts:  NewPromptStore(),
		Users:    NewUserStore(),
	}
}
