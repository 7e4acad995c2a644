package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"ragdesk-go/internal/gateway"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/tasks"
)

type fakeRequestRepo struct {
	mu   sync.Mutex
	reqs map[string]model.DataSubjectRequest
	// beforeUpdate 在版本比较前执行，用于模拟并发写入
	beforeUpdate func(stored *model.DataSubjectRequest)
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{reqs: make(map[string]model.DataSubjectRequest)}
}

func (r *fakeRequestRepo) Create(_ context.Context, req *model.DataSubjectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.ID] = *req
	return nil
}

func (r *fakeRequestRepo) FindByID(_ context.Context, id string) (*model.DataSubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, apperr.NotFound("request", id)
	}
	return &req, nil
}

func (r *fakeRequestRepo) List(_ context.Context, f repository.RequestFilter) ([]model.DataSubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DataSubjectRequest
	for _, req := range r.reqs {
		if (f.Status == "" || req.Status == f.Status) && (f.Type == "" || req.Type == f.Type) &&
			(f.SubjectID == 0 || req.SubjectID == f.SubjectID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (r *fakeRequestRepo) FindOpen(_ context.Context, subjectID uint, t model.RequestType) (*model.DataSubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.SubjectID == subjectID && req.Type == t &&
			(req.Status == model.StatusPending || req.Status == model.StatusApproved) {
			return &req, nil
		}
	}
	return nil, nil
}

func (r *fakeRequestRepo) UpdateVersioned(_ context.Context, req *model.DataSubjectRequest, expected int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reqs[req.ID]
	if !ok {
		return apperr.NotFound("request", req.ID)
	}
	if r.beforeUpdate != nil {
		r.beforeUpdate(&stored)
		r.reqs[req.ID] = stored
	}
	if stored.Version != expected {
		return &apperr.ConflictError{Resource: "request", ID: req.ID}
	}
	req.Version = expected + 1
	r.reqs[req.ID] = *req
	return nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (r *fakeAuditRepo) Create(_ context.Context, e *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	e.ID = uint(len(r.entries) + 1)
	r.entries = append(r.entries, *e)
	return nil
}

func (r *fakeAuditRepo) ListByTarget(_ context.Context, targetType, targetID string) ([]model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range r.entries {
		if e.TargetType == targetType && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	removed []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = b
	return nil
}

func (s *fakeObjectStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return bytes.Clone(b), nil
}

func (s *fakeObjectStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	s.removed = append(s.removed, name)
	return nil
}

func (s *fakeObjectStore) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://objects.test/" + name + "?sig=x", nil
}

type fakeDocumentRepo struct {
	mu     sync.Mutex
	docs   map[uint]*model.Document
	nextID uint
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: make(map[uint]*model.Document)}
}

func (r *fakeDocumentRepo) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	doc.ID = r.nextID
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocumentRepo) FindByID(_ context.Context, id uint) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.DeletedAt.Valid {
		return nil, apperr.NotFound("document", strconv.FormatUint(uint64(id), 10))
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocumentRepo) FindByDedupKey(_ context.Context, userID uint, key string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.UserID == userID && d.DedupKey == key && !d.DeletedAt.Valid {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeDocumentRepo) ListByUser(_ context.Context, userID uint) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, d := range r.docs {
		if d.UserID == userID && !d.DeletedAt.Valid {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeDocumentRepo) UpdateStatus(_ context.Context, id uint, status model.DocumentStatus, chunkCount int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return apperr.NotFound("document", strconv.FormatUint(uint64(id), 10))
	}
	d.Status, d.ChunkCount, d.ErrorMessage = status, chunkCount, errMsg
	return nil
}

func (r *fakeDocumentRepo) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		d.DeletedAt.Valid = true
		d.DeletedAt.Time = time.Now()
	}
	return nil
}

func (r *fakeDocumentRepo) ObjectNamesBySubject(_ context.Context, userID uint) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.docs {
		if d.UserID == userID && d.ObjectName != "" {
			out = append(out, d.ObjectName)
		}
	}
	return out, nil
}

func (r *fakeDocumentRepo) DeleteBySubject(_ context.Context, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, d := range r.docs {
		if d.UserID == userID {
			delete(r.docs, id)
			n++
		}
	}
	return n, nil
}

type fakeChunkRepo struct {
	deletedDocs []uint
}

func (r *fakeChunkRepo) ReplaceForDocument(context.Context, uint, []model.DocumentChunk) error {
	return nil
}
func (r *fakeChunkRepo) ListByDocument(_ context.Context, id uint) ([]model.DocumentChunk, error) {
	return []model.DocumentChunk{{ID: 1, DocumentID: id, Content: "c"}}, nil
}
func (r *fakeChunkRepo) DeleteByDocument(_ context.Context, id uint) (int64, error) {
	r.deletedDocs = append(r.deletedDocs, id)
	return 1, nil
}
func (r *fakeChunkRepo) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (l *fakeLocker) Acquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	tasks []tasks.DocumentProcessingTask
	err   error
}

func (p *fakePublisher) PublishDocumentTask(_ context.Context, t tasks.DocumentProcessingTask) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, t)
	return nil
}

type fakeVectors struct {
	deletedDocs []uint
}

func (v *fakeVectors) DeleteByDocument(_ context.Context, id uint) (int64, error) {
	v.deletedDocs = append(v.deletedDocs, id)
	return 2, nil
}
func (v *fakeVectors) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }

type fakeSearcher struct {
	matches []gateway.Match
	err     error
	gotOpts int
}

func (s *fakeSearcher) SearchText(_ context.Context, _ string, _ float64, _ int, opts ...gateway.SearchOption) ([]gateway.Match, error) {
	s.gotOpts = len(opts)
	return s.matches, s.err
}

type fakeSearchHistoryRepo struct {
	mu      sync.Mutex
	entries []model.SearchHistory
}

func (r *fakeSearchHistoryRepo) Create(_ context.Context, h *model.SearchHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *h)
	return nil
}
func (r *fakeSearchHistoryRepo) ListByUser(context.Context, uint, int) ([]model.SearchHistory, error) {
	return r.entries, nil
}
func (r *fakeSearchHistoryRepo) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }

type fakeConsentRepo struct {
	mu   sync.Mutex
	recs []model.ConsentRecord
	now  time.Time
}

func (r *fakeConsentRepo) Create(_ context.Context, rec *model.ConsentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = uint(len(r.recs) + 1)
	if rec.CreatedAt.IsZero() {
		r.now = r.now.Add(time.Second)
		rec.CreatedAt = r.now
	}
	r.recs = append(r.recs, *rec)
	return nil
}

func (r *fakeConsentRepo) ListBySubject(_ context.Context, subjectID uint) ([]model.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ConsentRecord
	for _, rec := range r.recs {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeConsentRepo) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }

type fakeConversationRepo struct {
	mu      sync.Mutex
	history map[string][]model.ChatMessage
	saved   []model.Conversation
	histErr error
}

func (r *fakeConversationRepo) GetOrCreateConversationID(_ context.Context, userID uint) (string, error) {
	return "conv-" + strconv.FormatUint(uint64(userID), 10), nil
}

func (r *fakeConversationRepo) GetConversationHistory(_ context.Context, id string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.histErr != nil {
		return nil, r.histErr
	}
	return append([]model.ChatMessage(nil), r.history[id]...), nil
}

func (r *fakeConversationRepo) UpdateConversationHistory(_ context.Context, id string, msgs []model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.history == nil {
		r.history = make(map[string][]model.ChatMessage)
	}
	r.history[id] = msgs
	return nil
}

func (r *fakeConversationRepo) SaveExchange(_ context.Context, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *c)
	return nil
}

func (r *fakeConversationRepo) ListByUser(context.Context, uint) ([]model.Conversation, error) {
	return r.saved, nil
}

func (r *fakeConversationRepo) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uint]model.UserProfile
}

func (r *fakeProfileRepo) Upsert(_ context.Context, p *model.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profiles == nil {
		r.profiles = make(map[uint]model.UserProfile)
	}
	r.profiles[p.ID] = *p
	return nil
}

func (r *fakeProfileRepo) FindByID(_ context.Context, id uint) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, apperr.NotFound("profile", strconv.FormatUint(uint64(id), 10))
	}
	return &p, nil
}

func (r *fakeProfileRepo) DeleteBySubject(context.Context, uint) (int64, error) { return 0, nil }
