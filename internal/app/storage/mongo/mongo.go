// Package mongo implements the storage-layer contracts against a real
// MongoDB deployment: month-partitioned physical collections for messages
// and flat collections for projects, sessions, and prompts.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
	"github.com/sjafferali/claudelens-archive/internal/platform/bootstrap"
)

// projectDoc/sessionDoc/messageDoc/promptDoc are the BSON wire shapes,
// kept separate from the domain structs the rest of the application works
// with (mirrors the teacher's split between domain.gasbank.Account and its
// wire-format counterpart).
type projectDoc struct {
	ID           string    `bson:"_id"`
	OwnerID      string    `bson:"owner_id"`
	Path         string    `bson:"path"`
	SessionCount int64     `bson:"session_count"`
	MessageCount int64     `bson:"message_count"`
	TotalBytes   int64     `bson:"total_bytes"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toProjectDoc(p *domain.Project) projectDoc {
	return projectDoc{
		ID: p.ID, OwnerID: p.OwnerID, Path: p.Path,
		SessionCount: p.SessionCount, MessageCount: p.MessageCount, TotalBytes: p.TotalBytes,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func fromProjectDoc(d projectDoc) *domain.Project {
	return &domain.Project{
		ID: d.ID, OwnerID: d.OwnerID, Path: d.Path,
		SessionCount: d.SessionCount, MessageCount: d.MessageCount, TotalBytes: d.TotalBytes,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// ProjectStore persists projects in the `projects` collection.
type ProjectStore struct {
	coll *mongo.Collection
}

func NewProjectStore(db *mongo.Database) *ProjectStore {
	return &ProjectStore{coll: db.Collection("projects")}
}

// EnsureIndexes creates the owner_id+path uniqueness constraint.
func (s *ProjectStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "path", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *ProjectStore) GetByPath(ctx context.Context, ownerID, path string) (*domain.Project, error) {
	var d projectDoc
	err := s.coll.FindOne(ctx, bson.M{"owner_id": ownerID, "path": path}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("project", path)
	}
	if err != nil {
		return nil, errors.Internal("find project by path", err)
	}
	return fromProjectDoc(d), nil
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	var d projectDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("project", id)
	}
	if err != nil {
		return nil, errors.Internal("find project by id", err)
	}
	return fromProjectDoc(d), nil
}

func (s *ProjectStore) Create(ctx context.Context, p *domain.Project) error {
	_, err := s.coll.InsertOne(ctx, toProjectDoc(p))
	if mongo.IsDuplicateKeyError(err) {
		return errors.Conflict("project already exists")
	}
	if err != nil {
		return errors.Internal("create project", err)
	}
	return nil
}

func (s *ProjectStore) Update(ctx context.Context, p *domain.Project) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, toProjectDoc(p))
	if err != nil {
		return errors.Internal("update project", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("project", p.ID)
	}
	return nil
}

func (s *ProjectStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Project, error) {
	return s.list(ctx, bson.M{"owner_id": ownerID})
}

func (s *ProjectStore) ListAll(ctx context.Context) ([]*domain.Project, error) {
	return s.list(ctx, bson.M{})
}

func (s *ProjectStore) list(ctx context.Context, filter bson.M) ([]*domain.Project, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, errors.Internal("list projects", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Project
	for cur.Next(ctx) {
		var d projectDoc
		if err := cur.Decode(&d); err != nil {
			return nil, errors.Internal("decode project", err)
		}
		out = append(out, fromProjectDoc(d))
	}
	return out, cur.Err()
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Internal("delete project", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("project", id)
	}
	return nil
}

// SessionStore persists sessions in the `sessions` collection.
type SessionStore struct {
	coll *mongo.Collection
}

func NewSessionStore(db *mongo.Database) *SessionStore {
	return &SessionStore{coll: db.Collection("sessions")}
}

type sessionDoc struct {
	ID           string    `bson:"_id"`
	ProjectID    string    `bson:"project_id"`
	StartedAt    time.Time `bson:"started_at"`
	LastSeenAt   time.Time `bson:"last_seen_at"`
	MessageCount int64     `bson:"message_count"`
	TotalCost    float64   `bson:"total_cost"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toSessionDoc(s *domain.Session) sessionDoc {
	return sessionDoc{
		ID: s.ID, ProjectID: s.ProjectID, StartedAt: s.StartedAt, LastSeenAt: s.LastSeenAt,
		MessageCount: s.MessageCount, TotalCost: s.TotalCost, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func fromSessionDoc(d sessionDoc) *domain.Session {
	return &domain.Session{
		ID: d.ID, ProjectID: d.ProjectID, StartedAt: d.StartedAt, LastSeenAt: d.LastSeenAt,
		MessageCount: d.MessageCount, TotalCost: d.TotalCost, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var d sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, errors.Internal("find session", err)
	}
	return fromSessionDoc(d), nil
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.coll.InsertOne(ctx, toSessionDoc(sess))
	if mongo.IsDuplicateKeyError(err) {
		return errors.Conflict("session already exists")
	}
	if err != nil {
		return errors.Internal("create session", err)
	}
	return nil
}

func (s *SessionStore) Update(ctx context.Context, sess *domain.Session) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sess.ID}, toSessionDoc(sess))
	if err != nil {
		return errors.Internal("update session", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("session", sess.ID)
	}
	return nil
}

func (s *SessionStore) ListByProject(ctx context.Context, projectID string) ([]*domain.Session, error) {
	return s.ListByProjects(ctx, []string{projectID})
}

func (s *SessionStore) ListByProjects(ctx context.Context, projectIDs []string) ([]*domain.Session, error) {
	cur, err := s.coll.Find(ctx, bson.M{"project_id": bson.M{"$in": projectIDs}})
	if err != nil {
		return nil, errors.Internal("list sessions", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Session
	for cur.Next(ctx) {
		var d sessionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, errors.Internal("decode session", err)
		}
		out = append(out, fromSessionDoc(d))
	}
	return out, cur.Err()
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Internal("delete session", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("session", id)
	}
	return nil
}

// messageDoc is the wire shape for one partition's documents, field names
// matching the partition index set in internal/platform/bootstrap.
type messageDoc struct {
	UUID        string    `bson:"uuid"`
	SessionID   string    `bson:"session_id"`
	ParentUUID  string    `bson:"parent_uuid,omitempty"`
	Type        string    `bson:"type"`
	ContentKind string    `bson:"content_kind"`
	ContentRaw  []byte    `bson:"content_raw"`
	ContentHash string    `bson:"content_hash"`
	Timestamp   time.Time `bson:"timestamp"`
	Model       string    `bson:"model,omitempty"`
	InputTok    int64     `bson:"input_tokens"`
	OutputTok   int64     `bson:"output_tokens"`
	CacheCrtTok int64     `bson:"cache_creation_tokens"`
	CacheRdTok  int64     `bson:"cache_read_tokens"`
	CostUSD     float64   `bson:"cost_usd"`
	LatencyMS   int64     `bson:"latency_ms,omitempty"`
	GitBranch   string    `bson:"git_branch,omitempty"`
	WorkingDir  string    `bson:"working_dir,omitempty"`
	// SearchText mirrors ContentRaw as a plain string purely so the
	// partition collection's wildcard text index (CreatePartitionIndexes)
	// has a string field to index; Mongo text indexes skip binary fields,
	// and content is stored as opaque bytes (domain.Payload) to preserve
	// whatever the original producer sent.
	SearchText string    `bson:"search_text,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toMessageDoc(m *domain.Message) messageDoc {
	return messageDoc{
		UUID: m.UUID, SessionID: m.SessionID, ParentUUID: m.ParentUUID, Type: string(m.Type),
		ContentKind: m.Content.Kind, ContentRaw: m.Content.Raw, ContentHash: m.ContentHash,
		Timestamp: m.Timestamp, Model: m.Model,
		InputTok: m.Usage.InputTokens, OutputTok: m.Usage.OutputTokens,
		CacheCrtTok: m.Usage.CacheCreationTokens, CacheRdTok: m.Usage.CacheReadTokens,
		CostUSD: m.Cost, LatencyMS: m.LatencyMS, GitBranch: m.GitBranch, WorkingDir: m.WorkingDir,
		SearchText: string(m.Content.Raw),
		CreatedAt:  m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func fromMessageDoc(d messageDoc) *domain.Message {
	return &domain.Message{
		UUID: d.UUID, SessionID: d.SessionID, ParentUUID: d.ParentUUID, Type: domain.MessageType(d.Type),
		Content:     domain.Payload{Kind: d.ContentKind, Raw: d.ContentRaw},
		ContentHash: d.ContentHash, Timestamp: d.Timestamp, Model: d.Model,
		Usage: domain.TokenUsage{
			InputTokens: d.InputTok, OutputTokens: d.OutputTok,
			CacheCreationTokens: d.CacheCrtTok, CacheReadTokens: d.CacheRdTok,
		},
		Cost: d.CostUSD, LatencyMS: d.LatencyMS, GitBranch: d.GitBranch, WorkingDir: d.WorkingDir,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// MessageStore implements the Rolling Partition Store against MongoDB,
// routing each operation to the physical messages_YYYY_MM collection(s)
// the operation's time window intersects.
type MessageStore struct {
	db      *mongo.Database
	indexes *bootstrap.IndexedCollections
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{db: db, indexes: bootstrap.NewIndexedCollections()}
}

func partitionName(t time.Time) string {
	year, month := domain.Partition(t)
	return monthCollectionName(year, month)
}

func monthCollectionName(year, month int) string {
	return "messages_" + pad4(year) + "_" + pad2(month)
}

func pad2(v int) string {
	const digits = "0123456789"
	return string([]byte{digits[(v/10)%10], digits[v%10]})
}

func pad4(v int) string {
	const digits = "0123456789"
	return string([]byte{digits[(v/1000)%10], digits[(v/100)%10], digits[(v/10)%10], digits[v%10]})
}

func (s *MessageStore) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	if err := s.indexes.EnsureIndexes(ctx, s.db, name); err != nil {
		return nil, errors.Internal("ensure partition indexes", err)
	}
	return s.db.Collection(name), nil
}

func (s *MessageStore) Upsert(ctx context.Context, m *domain.Message, overwrite bool) (bool, error) {
	coll, err := s.collection(ctx, partitionName(m.Timestamp))
	if err != nil {
		return false, err
	}

	var existing messageDoc
	err = coll.FindOne(ctx, bson.M{"uuid": m.UUID}).Decode(&existing)
	existed := err == nil
	if err != nil && err != mongo.ErrNoDocuments {
		return false, errors.Internal("lookup message", err)
	}
	if existed && !overwrite {
		return true, nil
	}

	doc := toMessageDoc(m)
	_, err = coll.UpdateOne(ctx, bson.M{"uuid": m.UUID}, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return existed, errors.Internal("upsert message", err)
	}
	return existed, nil
}

func (s *MessageStore) FindByUUID(ctx context.Context, uuid string, hintTime time.Time) (*domain.Message, error) {
	if !hintTime.IsZero() {
		coll, err := s.collection(ctx, partitionName(hintTime))
		if err != nil {
			return nil, err
		}
		var d messageDoc
		err = coll.FindOne(ctx, bson.M{"uuid": uuid}).Decode(&d)
		if err == mongo.ErrNoDocuments {
			return nil, errors.NotFound("message", uuid)
		}
		if err != nil {
			return nil, errors.Internal("find message", err)
		}
		return fromMessageDoc(d), nil
	}

	const lookbackDays = 90
	now := time.Now().UTC()
	names, err := s.PartitionNames(ctx, now.AddDate(0, 0, -lookbackDays), now)
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		coll := s.db.Collection(names[i])
		var d messageDoc
		err := coll.FindOne(ctx, bson.M{"uuid": uuid}).Decode(&d)
		if err == nil {
			return fromMessageDoc(d), nil
		}
		if err != mongo.ErrNoDocuments {
			return nil, errors.Internal("find message", err)
		}
	}
	return nil, errors.NotFound("message", uuid)
}

func (s *MessageStore) windowFilter(filter storage.MessageFilter) bson.M {
	q := bson.M{}
	ts := bson.M{}
	if !filter.Start.IsZero() {
		ts["$gte"] = filter.Start
	}
	if !filter.End.IsZero() {
		ts["$lte"] = filter.End
	}
	if len(ts) > 0 {
		q["timestamp"] = ts
	}
	if len(filter.SessionIDs) > 0 {
		q["session_id"] = bson.M{"$in": filter.SessionIDs}
	}
	if filter.Text != "" {
		q["$text"] = bson.M{"$search": filter.Text}
	}
	return q
}

// Find fans out across every partition the window intersects, in
// parallel, then merges results by timestamp.
func (s *MessageStore) Find(ctx context.Context, filter storage.MessageFilter) ([]*domain.Message, error) {
	names, err := s.PartitionNames(ctx, filter.Start, filter.End)
	if err != nil {
		return nil, err
	}

	type partResult struct {
		docs []messageDoc
		err  error
	}
	results := make([]partResult, len(names))
	done := make(chan int, len(names))
	for i, name := range names {
		go func(i int, name string) {
			coll := s.db.Collection(name)
			cur, err := coll.Find(ctx, s.windowFilter(filter))
			if err != nil {
				results[i] = partResult{err: errors.Internal("fan-out find", err)}
				done <- i
				return
			}
			defer cur.Close(ctx)
			var docs []messageDoc
			for cur.Next(ctx) {
				var d messageDoc
				if err := cur.Decode(&d); err != nil {
					results[i] = partResult{err: errors.Internal("decode message", err)}
					done <- i
					return
				}
				docs = append(docs, d)
			}
			results[i] = partResult{docs: docs, err: cur.Err()}
			done <- i
		}(i, name)
	}
	for range names {
		<-done
	}

	var out []*domain.Message
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		for _, d := range r.docs {
			out = append(out, fromMessageDoc(d))
		}
	}

	sortMessages(out)

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

func sortMessages(msgs []*domain.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && less(msgs[j], msgs[j-1]); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

func less(a, b *domain.Message) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.UUID < b.UUID
	}
	return a.Timestamp.Before(b.Timestamp)
}

func (s *MessageStore) Count(ctx context.Context, filter storage.MessageFilter) (int64, error) {
	names, err := s.PartitionNames(ctx, filter.Start, filter.End)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, name := range names {
		coll := s.db.Collection(name)
		n, err := coll.CountDocuments(ctx, s.windowFilter(filter))
		if err != nil {
			return 0, errors.Internal("fan-out count", err)
		}
		total += n
	}
	return total, nil
}

func (s *MessageStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	names, err := s.listCollectionNames(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		coll := s.db.Collection(name)
		res, err := coll.DeleteMany(ctx, bson.M{"session_id": sessionID})
		if err != nil {
			return total, errors.Internal("delete by session", err)
		}
		total += res.DeletedCount
	}
	return total, nil
}

func (s *MessageStore) DeleteByUUID(ctx context.Context, uuid string, hintTime time.Time) error {
	if !hintTime.IsZero() {
		coll, err := s.collection(ctx, partitionName(hintTime))
		if err != nil {
			return err
		}
		res, err := coll.DeleteOne(ctx, bson.M{"uuid": uuid})
		if err != nil {
			return errors.Internal("delete message", err)
		}
		if res.DeletedCount == 0 {
			return errors.NotFound("message", uuid)
		}
		return nil
	}

	names, err := s.listCollectionNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		coll := s.db.Collection(name)
		res, err := coll.DeleteOne(ctx, bson.M{"uuid": uuid})
		if err != nil {
			return errors.Internal("delete message", err)
		}
		if res.DeletedCount > 0 {
			return nil
		}
	}
	return errors.NotFound("message", uuid)
}

func (s *MessageStore) PartitionNames(ctx context.Context, start, end time.Time) ([]string, error) {
	names, err := s.listCollectionNames(ctx)
	if err != nil {
		return nil, err
	}
	if start.IsZero() && end.IsZero() {
		return names, nil
	}

	startName := partitionName(start)
	endName := partitionName(end)
	var out []string
	for _, n := range names {
		if (start.IsZero() || n >= startName) && (end.IsZero() || n <= endName) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *MessageStore) listCollectionNames(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": bson.M{"$regex": "^messages_[0-9]{4}_[0-9]{2}$"}})
	if err != nil {
		return nil, errors.Internal("list partitions", err)
	}
	return names, nil
}

func (s *MessageStore) DropEmptyPartitions(ctx context.Context) ([]string, error) {
	names, err := s.listCollectionNames(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range names {
		coll := s.db.Collection(name)
		count, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return dropped, errors.Internal("count partition", err)
		}
		if count == 0 {
			if err := coll.Drop(ctx); err != nil {
				return dropped, errors.Internal("drop partition", err)
			}
			dropped = append(dropped, name)
		}
	}
	return dropped, nil
}

// PromptStore persists prompts in the `prompts` collection.
type PromptStore struct {
	coll *mongo.Collection
}

func NewPromptStore(db *mongo.Database) *PromptStore {
	return &PromptStore{coll: db.Collection("prompts")}
}

type promptDoc struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Name      string    `bson:"name"`
	Content   string    `bson:"content"`
	Tags      []string  `bson:"tags,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toPromptDoc(p *domain.Prompt) promptDoc {
	return promptDoc{ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Content: p.Content, Tags: p.Tags, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

func fromPromptDoc(d promptDoc) *domain.Prompt {
	return &domain.Prompt{ID: d.ID, OwnerID: d.OwnerID, Name: d.Name, Content: d.Content, Tags: d.Tags, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

func (s *PromptStore) GetByID(ctx context.Context, id string) (*domain.Prompt, error) {
	var d promptDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("prompt", id)
	}
	if err != nil {
		return nil, errors.Internal("find prompt", err)
	}
	return fromPromptDoc(d), nil
}

func (s *PromptStore) Create(ctx context.Context, p *domain.Prompt) error {
	_, err := s.coll.InsertOne(ctx, toPromptDoc(p))
	if err != nil {
		return errors.Internal("create prompt", err)
	}
	return nil
}

func (s *PromptStore) Update(ctx context.Context, p *domain.Prompt) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, toPromptDoc(p))
	if err != nil {
		return errors.Internal("update prompt", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("prompt", p.ID)
	}
	return nil
}

func (s *PromptStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Prompt, error) {
	cur, err := s.coll.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, errors.Internal("list prompts", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Prompt
	for cur.Next(ctx) {
		var d promptDoc
		if err := cur.Decode(&d); err != nil {
			return nil, errors.Internal("decode prompt", err)
		}
		out = append(out, fromPromptDoc(d))
	}
	return out, cur.Err()
}

func (s *PromptStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Internal("delete prompt", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("prompt", id)
	}
	return nil
}

// UserStore persists users in the `users` collection (spec.md §6), with
// a unique index on `api_keys.key_hash` expected to be created alongside
// the collection's other indexes so FindActiveByHash stays O(1).
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection("users")}
}

type apiKeyDoc struct {
	Name      string    `bson:"name"`
	KeyHash   string    `bson:"key_hash"`
	Active    bool      `bson:"active"`
	ExpiresAt time.Time `bson:"expires_at,omitempty"`
	LastUsed  time.Time `bson:"last_used,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

type userDoc struct {
	ID        string      `bson:"_id"`
	Role      string      `bson:"role"`
	Perms     []string    `bson:"permissions,omitempty"`
	APIKeys   []apiKeyDoc `bson:"api_keys,omitempty"`
	CreatedAt time.Time   `bson:"created_at"`
}

func toUserDoc(u *domain.User) userDoc {
	keys := make([]apiKeyDoc, len(u.APIKeys))
	for i, k := range u.APIKeys {
		keys[i] = apiKeyDoc{Name: k.Name, KeyHash: k.KeyHash, Active: k.Active, ExpiresAt: k.ExpiresAt, LastUsed: k.LastUsed, CreatedAt: k.CreatedAt}
	}
	return userDoc{ID: u.ID, Role: string(u.Role), Perms: u.Permissions, APIKeys: keys, CreatedAt: u.CreatedAt}
}

func fromUserDoc(d userDoc) *domain.User {
	keys := make([]domain.APIKey, len(d.APIKeys))
	for i, k := range d.APIKeys {
		keys[i] = domain.APIKey{Name: k.Name, KeyHash: k.KeyHash, Active: k.Active, ExpiresAt: k.ExpiresAt, LastUsed: k.LastUsed, CreatedAt: k.CreatedAt}
	}
	return &domain.User{ID: d.ID, Role: domain.Role(d.Role), Permissions: d.Perms, APIKeys: keys, CreatedAt: d.CreatedAt}
}

func (s *UserStore) Create(ctx context.Context, u *domain.User) error {
	_, err := s.coll.InsertOne(ctx, toUserDoc(u))
	if err != nil {
		return errors.Internal("create user", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var d userDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Internal("find user", err)
	}
	return fromUserDoc(d), nil
}

func (s *UserStore) FindActiveByHash(ctx context.Context, keyHash string) (string, string, bool, error) {
	var d userDoc
	err := s.coll.FindOne(ctx, bson.M{"api_keys.key_hash": keyHash, "api_keys.active": true}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, errors.Internal("find user by api key", err)
	}
	for _, k := range d.APIKeys {
		if k.KeyHash == keyHash && k.Active {
			if !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt) {
				return "", "", false, nil
			}
			return d.ID, k.Name, true, nil
		}
	}
	return "", "", false, nil
}

func (s *UserStore) TouchLastUsed(ctx context.Context, userID, keyName string, at time.Time) {
	_, _ = s.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "api_keys.name": keyName},
		bson.M{"$set": bson.M{"api_keys.$.last_used": at}},
	)
}

func (s *UserStore) RoleOf(ctx context.Context, userID string) (domain.Role, []string, error) {
	var d userDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return "", nil, errors.NotFound("user", userID)
	}
	if err != nil {
		return "", nil, errors.Internal("find user role", err)
	}
	return domain.Role(d.Role), d.Perms, nil
}

// NewStores wires every MongoDB-backed store into a storage.Stores value.
func NewStores(db *mongo.Database) *storage.Stores {
	return &storage.Stores{
		Projects: NewProjectStore(db),
		Sessions: NewSessionStore(db),
		Messages: NewMessageStore(db),
		Prompts:  NewPromptStore(db),
		Users:    NewUserStore(db),
	}
}
