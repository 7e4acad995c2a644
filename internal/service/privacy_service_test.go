package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/privacy"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/apperr"
)

var (
	t0         = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testAdmin  = privacy.Actor{ID: 1, Role: "ADMIN"}
	testOrigin = privacy.Origin{IPAddress: "10.0.0.1", UserAgent: "test"}
)

type fakeExporter struct{ bundle *ExportBundle }

func (e *fakeExporter) Export(_ context.Context, subjectID uint) (*ExportBundle, error) {
	if e.bundle == nil {
		return &ExportBundle{SubjectID: subjectID}, nil
	}
	return e.bundle, nil
}

type privacyFixture struct {
	svc      *privacyService
	requests *fakeRequestRepo
	audit    *fakeAuditRepo
	objects  *fakeObjectStore
	clock    time.Time
}

func newPrivacyFixture(collections []privacy.Collection) *privacyFixture {
	f := &privacyFixture{
		requests: newFakeRequestRepo(),
		audit:    &fakeAuditRepo{},
		objects:  newFakeObjectStore(),
		clock:    t0,
	}
	f.svc = NewPrivacyService(f.requests, f.audit, f.objects, &fakeExporter{}, collections,
		config.PrivacyConfig{ExportPrefix: "exports", ExportURLExpiryMinutes: 30}).(*privacyService)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *privacyFixture) submit(t *testing.T, subject uint, rt model.RequestType) *model.DataSubjectRequest {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), subject, "alice", rt, "please", testOrigin)
	require.NoError(t, err)
	return req
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)

	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, 1, req.Version)
	assert.Len(t, req.ID, 36)
	assert.Equal(t, t0, req.SubmittedAt)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "submitted", f.audit.entries[0].Action)
	assert.Equal(t, "pending", f.audit.entries[0].NewStatus)
}

func TestSubmitRejectsSecondOpenRequestOfSameType(t *testing.T) {
	f := newPrivacyFixture(nil)
	f.submit(t, 7, model.RequestDeletion)

	_, err := f.svc.Submit(context.Background(), 7, "alice", model.RequestDeletion, "", testOrigin)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// 不同类型、不同主体不受影响
	f.submit(t, 7, model.RequestExport)
	f.submit(t, 8, model.RequestDeletion)
}

func TestSubmitValidatesType(t *testing.T) {
	f := newPrivacyFixture(nil)
	_, err := f.svc.Submit(context.Background(), 7, "", model.RequestType("erase"), "", testOrigin)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApproveTwiceFails(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	ctx := context.Background()

	f.clock = t0.Add(90 * time.Minute)
	res, err := f.svc.Process(ctx, req.ID, privacy.Approve{}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.NewStatus)
	assert.Equal(t, 1.5, res.ProcessingTimeHours)

	_, err = f.svc.Process(ctx, req.ID, privacy.Approve{}, testAdmin, testOrigin)
	var terr *apperr.InvalidTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "approved", terr.From)

	stored, _ := f.requests.FindByID(ctx, req.ID)
	assert.Equal(t, 2, stored.Version)
	require.NotNil(t, stored.ApprovedAt)
	assert.Nil(t, stored.CompletedAt)
	// submitted + approved，失败的动作不写审计
	assert.Len(t, f.audit.entries, 2)
}

func TestCompleteAfterRejectIsAlreadyFinalized(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestDeletion)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, req.ID, privacy.Reject{Notes: "identity not verified"}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.NewStatus)

	_, err = f.svc.Process(ctx, req.ID, privacy.Complete{}, testAdmin, testOrigin)
	var ferr *apperr.AlreadyFinalizedError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "rejected", ferr.Status)

	stored, _ := f.requests.FindByID(ctx, req.ID)
	assert.Equal(t, "identity not verified", stored.AdminNotes)
	assert.Equal(t, model.StatusRejected, stored.Status)
}

func TestProcessUnknownRequest(t *testing.T) {
	f := newPrivacyFixture(nil)
	_, err := f.svc.Process(context.Background(), "missing", privacy.Approve{}, testAdmin, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func countingCollection(name string, n int64, err error, calls *[]string) privacy.Collection {
	return privacy.Collection{Name: name, Delete: func(_ context.Context, _ uint) (int64, error) {
		*calls = append(*calls, name)
		return n, err
	}}
}

func TestDeletionCascadeSummary(t *testing.T) {
	var calls []string
	cols := []privacy.Collection{
		countingCollection("search_history", 4, nil, &calls),
		countingCollection("conversations", 0, nil, &calls),
		countingCollection("chunk_vectors", 10, nil, &calls),
		countingCollection("document_chunks", 0, nil, &calls),
		countingCollection("documents", 2, nil, &calls),
		countingCollection("user_profiles", 0, nil, &calls),
	}
	f := newPrivacyFixture(cols)
	req := f.submit(t, 7, model.RequestDeletion)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, req.ID, privacy.Approve{}, testAdmin, testOrigin)
	require.NoError(t, err)
	res, err := f.svc.Process(ctx, req.ID, privacy.Complete{Notes: "done"}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.NewStatus)

	var summary privacy.DeletionSummary
	require.NoError(t, json.Unmarshal(res.Result, &summary))
	assert.Equal(t, []string{"search_history", "chunk_vectors", "documents"}, summary.TablesAffected)
	assert.EqualValues(t, 16, summary.RecordsDeleted)
	assert.Empty(t, summary.Errors)
	assert.Len(t, calls, 6)

	stored, _ := f.requests.FindByID(ctx, req.ID)
	assert.JSONEq(t, string(res.Result), string(stored.Result))
}

func TestDeletionCascadePartialFailureStillCompletes(t *testing.T) {
	var calls []string
	cols := []privacy.Collection{
		countingCollection("search_history", 1, nil, &calls),
		countingCollection("conversations", 0, errors.New("redis down"), &calls),
		countingCollection("documents", 3, nil, &calls),
	}
	f := newPrivacyFixture(cols)
	req := f.submit(t, 7, model.RequestDeletion)

	res, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_history", "conversations", "documents"}, calls)

	var summary privacy.DeletionSummary
	require.NoError(t, json.Unmarshal(res.Result, &summary))
	assert.EqualValues(t, 4, summary.RecordsDeleted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "conversations", summary.Errors[0].Table)
	assert.Equal(t, "redis down", summary.Errors[0].Error)
}

func TestAuditFailureDoesNotBlockTransition(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	f.audit.err = errors.New("audit table locked")

	res, err := f.svc.Process(context.Background(), req.ID, privacy.Approve{}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.NewStatus)

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, model.StatusApproved, stored.Status)
}

func TestConcurrentModificationIsConflict(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	// 另一个操作员在读写之间抢先完成了修改
	f.requests.beforeUpdate = func(stored *model.DataSubjectRequest) {
		stored.Status = model.StatusApproved
		stored.Version++
	}

	_, err := f.svc.Process(context.Background(), req.ID, privacy.Approve{}, testAdmin, testOrigin)
	var cerr *apperr.ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, req.ID, cerr.ID)
	// 只有 submitted 一条审计
	assert.Len(t, f.audit.entries, 1)
}

func TestDeletionNotRunWhenRequestRejectedConcurrently(t *testing.T) {
	var calls []string
	cols := []privacy.Collection{
		countingCollection("documents", 3, nil, &calls),
		countingCollection("user_profiles", 1, nil, &calls),
	}
	f := newPrivacyFixture(cols)
	req := f.submit(t, 7, model.RequestDeletion)
	// 另一个操作员在本次完成之前驳回了请求
	f.requests.beforeUpdate = func(stored *model.DataSubjectRequest) {
		if stored.Status == model.StatusPending {
			stored.Status = model.StatusRejected
			stored.Version++
		}
	}

	_, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{}, testAdmin, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, calls)

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, model.StatusRejected, stored.Status)
	assert.Empty(t, stored.Result)
}

func TestDeletionClaimsRequestBeforeCascade(t *testing.T) {
	f := newPrivacyFixture(nil)
	var statusDuringCascade model.RequestStatus
	var req *model.DataSubjectRequest
	f.svc.collections = []privacy.Collection{{
		Name: "documents",
		Delete: func(ctx context.Context, _ uint) (int64, error) {
			stored, _ := f.requests.FindByID(ctx, req.ID)
			statusDuringCascade = stored.Status
			return 2, nil
		},
	}}
	req = f.submit(t, 7, model.RequestDeletion)

	res, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, statusDuringCascade)

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, 3, stored.Version)
	assert.JSONEq(t, string(res.Result), string(stored.Result))
}

func TestExportArchiveRemovedWhenRequestChangedConcurrently(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	f.requests.beforeUpdate = func(stored *model.DataSubjectRequest) {
		stored.Status = model.StatusCancelled
		stored.Version++
	}

	_, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{ExportData: json.RawMessage(`{"a":1}`)}, testAdmin, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NotContains(t, f.objects.objects, "exports/"+req.ID+".json")
}

func TestAuditEntryCarriesDiff(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	_, err := f.svc.Process(context.Background(), req.ID, privacy.Approve{}, testAdmin, testOrigin)
	require.NoError(t, err)

	trail, err := f.svc.AuditTrail(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	e := trail[1]
	assert.Equal(t, "approve", e.Action)
	assert.Equal(t, "pending", e.OldStatus)
	assert.Equal(t, "approved", e.NewStatus)
	assert.Equal(t, uint(1), e.ActorID)
	assert.Equal(t, "10.0.0.1", e.IPAddress)

	var changes map[string]privacy.FieldChange
	require.NoError(t, json.Unmarshal(e.Changes, &changes))
	assert.Contains(t, changes, "status")
	assert.Contains(t, changes, "approved_at")
	assert.Contains(t, changes, "version")
	assert.NotContains(t, changes, "completed_at")
}

func TestCompleteExportArchivesBundleVerbatim(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestExport)
	bundle := json.RawMessage(`{"files":["a.pdf"],"url":"https://example.com/x"}`)

	res, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{ExportData: bundle}, testAdmin, testOrigin)
	require.NoError(t, err)
	assert.JSONEq(t, string(bundle), string(res.Result))
	assert.Equal(t, "https://objects.test/exports/"+req.ID+".json?sig=x", res.ExportURL)
	assert.Equal(t, []byte(bundle), f.objects.objects["exports/"+req.ID+".json"])
}

func TestCompleteExportArchiveFailureKeepsState(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestPortability)
	f.objects.putErr = errors.New("bucket unavailable")

	_, err := f.svc.Process(context.Background(), req.ID, privacy.Complete{ExportData: json.RawMessage(`{"a":1}`)}, testAdmin, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrProvider)

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Version)
}

func TestCancelOwn(t *testing.T) {
	f := newPrivacyFixture(nil)
	req := f.submit(t, 7, model.RequestRectification)
	ctx := context.Background()

	_, err := f.svc.CancelOwn(ctx, req.ID, 8, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	res, err := f.svc.CancelOwn(ctx, req.ID, 7, testOrigin)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.NewStatus)

	_, err = f.svc.CancelOwn(ctx, req.ID, 7, testOrigin)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)

	// 终态之后可以再次提交同类型请求
	f.submit(t, 7, model.RequestRectification)
}

func TestListFilters(t *testing.T) {
	f := newPrivacyFixture(nil)
	f.submit(t, 7, model.RequestExport)
	f.submit(t, 8, model.RequestDeletion)
	ctx := context.Background()

	all, err := f.svc.List(ctx, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	del, err := f.svc.List(ctx, repository.RequestFilter{Type: model.RequestDeletion})
	require.NoError(t, err)
	require.Len(t, del, 1)
	assert.Equal(t, uint(8), del[0].SubjectID)

	_, err = f.svc.List(ctx, repository.RequestFilter{Status: "archived"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	mine, err := f.svc.ListForSubject(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCascadeCollectionsOrder(t *testing.T) {
	docs := newFakeDocumentRepo()
	objects := newFakeObjectStore()
	_ = docs.Create(context.Background(), &model.Document{UserID: 7, ObjectName: "sources/7/a.pdf"})
	_ = docs.Create(context.Background(), &model.Document{UserID: 9, ObjectName: "sources/9/b.pdf"})

	cols := CascadeCollections(&fakeSearchHistoryRepo{}, &fakeConversationRepo{}, &fakeVectors{}, &fakeChunkRepo{}, docs, objects, &fakeConsentRepo{}, &fakeProfileRepo{})
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, privacy.DefaultOrder, names)

	var documents privacy.Collection
	for _, c := range cols {
		if c.Name == privacy.CollectionDocuments {
			documents = c
		}
	}
	n, err := documents.Delete(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"sources/7/a.pdf"}, objects.removed)
}
