package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ressKim-io/leafscan/internal/adapter/realtime"
	"github.com/ressKim-io/leafscan/internal/adapter/repository/memory"
	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
)

// MockClassifier is a mock implementation of service.Classifier
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, file *entity.SelectedFile) (*entity.ClassificationResult, error) {
	args := m.Called(ctx, file)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ClassificationResult), args.Error(1)
}

// MockClassificationRepository is a mock implementation of ClassificationRepository
type MockClassificationRepository struct {
	mock.Mock
}

func (m *MockClassificationRepository) Create(ctx context.Context, record *entity.ClassificationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockClassificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ClassificationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ClassificationRecord), args.Error(1)
}

func (m *MockClassificationRepository) List(ctx context.Context, limit, offset int) ([]*entity.ClassificationRecord, int64, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*entity.ClassificationRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockClassificationRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*entity.ClassificationRecord, int64, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*entity.ClassificationRecord), args.Get(1).(int64), args.Error(2)
}

// passthroughRenderer uses the file bytes as preview
type passthroughRenderer struct{}

func (passthroughRenderer) Render(file *entity.SelectedFile) (*entity.PreviewHandle, error) {
	return entity.NewPreviewHandle(file.ContentType, file.Data), nil
}

// recordSink collects history records written by background uploads
type recordSink struct {
	mu      sync.Mutex
	records []*entity.ClassificationRecord
}

func (r *recordSink) add(args mock.Arguments) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, args.Get(1).(*entity.ClassificationRecord))
}

func (r *recordSink) all() []*entity.ClassificationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.ClassificationRecord(nil), r.records...)
}

type testEnv struct {
	uc         UploadUsecase
	store      repository.SessionStore
	hub        *realtime.Hub
	classifier *MockClassifier
	history    *MockClassificationRepository
	sink       *recordSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := memory.NewSessionStore(16, time.Hour, zap.NewNop())
	require.NoError(t, err)

	env := &testEnv{
		store:      store,
		hub:        realtime.NewHub(),
		classifier: new(MockClassifier),
		history:    new(MockClassificationRepository),
		sink:       &recordSink{},
	}
	env.history.On("Create", mock.Anything, mock.AnythingOfType("*entity.ClassificationRecord")).
		Run(env.sink.add).Return(nil).Maybe()

	env.uc = NewUploadUsecase(UploadDeps{
		Store:      env.store,
		History:    env.history,
		Classifier: env.classifier,
		Renderer:   passthroughRenderer{},
		Notifier:   env.hub,
		Logger:     zap.NewNop(),
	})
	return env
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	view, err := e.uc.EnsureSession(context.Background(), "")
	require.NoError(t, err)
	return view.SessionID
}

func imageInput(name string) *SelectInput {
	contentType := "image/jpeg"
	if len(name) > 4 && name[len(name)-4:] == ".png" {
		contentType = "image/png"
	}
	return &SelectInput{Name: name, ContentType: contentType, Data: []byte("bytes of " + name)}
}

func TestUploadUsecase_EnsureSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("empty ID starts a session", func(t *testing.T) {
		view, err := env.uc.EnsureSession(ctx, "")
		require.NoError(t, err)
		assert.NotEmpty(t, view.SessionID)
		assert.Equal(t, string(entity.StateIdle), view.State)
		assert.True(t, view.ShowDropzone)
		assert.Nil(t, view.Preview)
		assert.Nil(t, view.Result)
	})

	t.Run("known ID is reused", func(t *testing.T) {
		id := env.newSession(t)
		view, err := env.uc.EnsureSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, view.SessionID)
	})

	t.Run("unknown ID starts a new session", func(t *testing.T) {
		view, err := env.uc.EnsureSession(ctx, "expired")
		require.NoError(t, err)
		assert.NotEqual(t, "expired", view.SessionID)
	})
}

func TestUploadUsecase_SelectSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.MatchedBy(func(f *entity.SelectedFile) bool {
		return f.Name == "cat.jpg"
	})).Return(&entity.ClassificationResult{Class: "Healthy"}, nil).Once()

	view, err := env.uc.Select(ctx, id, imageInput("cat.jpg"))
	require.NoError(t, err)
	require.NotNil(t, view.Preview)
	assert.Equal(t, "cat.jpg", view.Preview.FileName)
	assert.False(t, view.ShowDropzone)
	assert.Nil(t, view.Result)
	selectedVersion := view.Version

	env.uc.Wait()

	view, err = env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, view.Version, selectedVersion)
	require.NotNil(t, view.Result)
	assert.Equal(t, "Healthy", view.Result.Class)
	assert.False(t, view.Loading)
	assert.Equal(t, string(entity.StateDisplaying), view.State)
	assert.NotNil(t, view.Preview)

	records := env.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, entity.RecordStatusSucceeded, records[0].Status)
	assert.Equal(t, "Healthy", records[0].Label)
	assert.False(t, records[0].Stale)
	env.classifier.AssertExpectations(t)
}

func TestUploadUsecase_SelectNetworkError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(nil, errors.New("dial tcp: connection refused")).Once()

	_, err := env.uc.Select(ctx, id, imageInput("leaf.png"))
	require.NoError(t, err)
	env.uc.Wait()

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, view.Preview)
	assert.Equal(t, "image/png", view.Preview.ContentType)
	assert.Nil(t, view.Result)
	assert.False(t, view.Loading)
	assert.Equal(t, string(entity.StateIdleWithPreview), view.State)

	records := env.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, entity.RecordStatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "connection refused")
}

func TestUploadUsecase_SelectClearsPreviousResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil).Once()
	_, err := env.uc.Select(ctx, id, imageInput("first.jpg"))
	require.NoError(t, err)
	env.uc.Wait()

	release := make(chan struct{})
	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&entity.ClassificationResult{Class: "Late Blight"}, nil).Once()

	view, err := env.uc.Select(ctx, id, imageInput("second.jpg"))
	require.NoError(t, err)
	assert.Nil(t, view.Result)
	assert.Equal(t, "second.jpg", view.Preview.FileName)

	current, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, current.Result)

	close(release)
	env.uc.Wait()

	current, err = env.uc.View(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, current.Result)
	assert.Equal(t, "Late Blight", current.Result.Class)
}

func TestUploadUsecase_ReleasesReplacedPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	core, logs := observer.New(zapcore.DebugLevel)
	uc := NewUploadUsecase(UploadDeps{
		Store:      env.store,
		Classifier: env.classifier,
		Renderer:   passthroughRenderer{},
		Notifier:   env.hub,
		Logger:     zap.New(core),
	})
	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil)

	first, err := uc.Select(ctx, id, imageInput("first.jpg"))
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("Preview released").Len())

	_, err = uc.Select(ctx, id, imageInput("second.jpg"))
	require.NoError(t, err)
	_, err = uc.Clear(ctx, id)
	require.NoError(t, err)
	uc.Wait()

	released := logs.FilterMessage("Preview released").All()
	require.Len(t, released, 2)
	assert.Equal(t, previewID(t, first).String(), released[0].ContextMap()["preview_id"])
}

func TestUploadUsecase_SelectInvalidImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	_, err := env.uc.Select(ctx, id, &SelectInput{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")})
	assert.ErrorIs(t, err, ErrInvalidImage)

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateIdle), view.State)
	env.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

func TestUploadUsecase_SelectUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.uc.Select(context.Background(), "missing", imageInput("cat.jpg"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUploadUsecase_SendFileWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	err := env.uc.SendFile(ctx, id)
	assert.ErrorIs(t, err, ErrNoFileSelected)

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.False(t, view.Loading)
	assert.Equal(t, string(entity.StateIdle), view.State)
}

func TestUploadUsecase_SendFileRepeats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Early Blight"}, nil).Twice()

	_, err := env.uc.Select(ctx, id, imageInput("leaf.jpg"))
	require.NoError(t, err)
	env.uc.Wait()

	require.NoError(t, env.uc.SendFile(ctx, id))

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Early Blight", view.Result.Class)
	assert.False(t, view.Loading)
	assert.Len(t, env.sink.all(), 2)
	env.classifier.AssertExpectations(t)
}

func TestUploadUsecase_Resend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	_, err := env.uc.Resend(ctx, id)
	assert.ErrorIs(t, err, ErrNoFileSelected)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout")).Once()
	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil).Once()

	_, err = env.uc.Select(ctx, id, imageInput("cat.jpg"))
	require.NoError(t, err)
	env.uc.Wait()

	_, err = env.uc.Resend(ctx, id)
	require.NoError(t, err)
	env.uc.Wait()

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.Result)
	assert.Equal(t, "Healthy", view.Result.Class)
}

func TestUploadUsecase_ClearAfterResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil).Once()
	_, err := env.uc.Select(ctx, id, imageInput("cat.jpg"))
	require.NoError(t, err)
	env.uc.Wait()

	view, err := env.uc.Clear(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view.Preview)
	assert.Nil(t, view.Result)
	assert.False(t, view.Loading)
	assert.True(t, view.ShowDropzone)
	assert.Equal(t, string(entity.StateIdle), view.State)

	assert.ErrorIs(t, env.uc.SendFile(ctx, id), ErrNoFileSelected)
}

func TestUploadUsecase_StaleUploadDiscarded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	release := make(chan struct{})
	started := make(chan struct{})
	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil).Once()

	_, err := env.uc.Select(ctx, id, imageInput("cat.jpg"))
	require.NoError(t, err)
	<-started

	loading, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.True(t, loading.Loading)
	assert.Equal(t, string(entity.StateUploading), loading.State)

	_, err = env.uc.Clear(ctx, id)
	require.NoError(t, err)

	close(release)
	env.uc.Wait()

	view, err := env.uc.View(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, view.Result)
	assert.Nil(t, view.Preview)
	assert.False(t, view.Loading)

	records := env.sink.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Stale)
	assert.Equal(t, "Healthy", records[0].Label)
}

func TestUploadUsecase_Preview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	env.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&entity.ClassificationResult{Class: "Healthy"}, nil)

	first, err := env.uc.Select(ctx, id, imageInput("first.jpg"))
	require.NoError(t, err)
	firstID := previewID(t, first)

	content, err := env.uc.Preview(ctx, id, firstID)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", content.ContentType)
	assert.Equal(t, []byte("bytes of first.jpg"), content.Data)

	second, err := env.uc.Select(ctx, id, imageInput("second.jpg"))
	require.NoError(t, err)
	env.uc.Wait()

	_, err = env.uc.Preview(ctx, id, firstID)
	assert.ErrorIs(t, err, ErrPreviewNotFound)

	_, err = env.uc.Preview(ctx, id, previewID(t, second))
	assert.NoError(t, err)

	_, err = env.uc.Clear(ctx, id)
	require.NoError(t, err)
	_, err = env.uc.Preview(ctx, id, previewID(t, second))
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func previewID(t *testing.T, view *ViewOutput) uuid.UUID {
	t.Helper()
	require.NotNil(t, view.Preview)
	id, err := uuid.Parse(view.Preview.URL[len("/preview/"):])
	require.NoError(t, err)
	return id
}

func TestUploadUsecase_Watch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.newSession(t)

	updates, stop, err := env.uc.Watch(ctx, id)
	require.NoError(t, err)
	defer stop()

	initial := <-updates
	assert.Equal(t, string(entity.StateIdle), initial.State)

	cleared, err := env.uc.Clear(ctx, id)
	require.NoError(t, err)

	select {
	case view := <-updates:
		assert.Equal(t, id, view.SessionID)
		assert.Equal(t, cleared.Version, view.Version)
		assert.Greater(t, view.Version, initial.Version)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	stop()
	stop()
	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("updates not closed after stop")
	}

	_, _, err = env.uc.Watch(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// hookedNotifier runs a hook around Hub.Subscribe to interleave writes
// with a watcher that is connecting
type hookedNotifier struct {
	*realtime.Hub
	before func()
	after  func()
}

func (n *hookedNotifier) Subscribe(sessionID string) (<-chan *entity.Session, func()) {
	if n.before != nil {
		n.before()
	}
	ch, cancel := n.Hub.Subscribe(sessionID)
	if n.after != nil {
		n.after()
	}
	return ch, cancel
}

func TestUploadUsecase_WatchConcurrentTransition(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *hookedNotifier, UploadUsecase, string) {
		env := newTestEnv(t)
		notifier := &hookedNotifier{Hub: env.hub}
		uc := NewUploadUsecase(UploadDeps{
			Store:      env.store,
			Classifier: env.classifier,
			Renderer:   passthroughRenderer{},
			Notifier:   notifier,
			Logger:     zap.NewNop(),
		})
		id := env.newSession(t)
		_, err := env.store.Update(ctx, id, func(s *entity.Session) error {
			s.Select(entity.NewSelectedFile("cat.jpg", "image/jpeg", []byte("x")), entity.NewPreviewHandle("image/jpeg", []byte("x")))
			return nil
		})
		require.NoError(t, err)
		return env, notifier, uc, id
	}

	t.Run("transition before subscribing shows in initial view", func(t *testing.T) {
		_, notifier, uc, id := setup(t)
		notifier.before = func() {
			_, err := uc.Clear(ctx, id)
			require.NoError(t, err)
		}

		updates, stop, err := uc.Watch(ctx, id)
		require.NoError(t, err)
		defer stop()

		initial := <-updates
		assert.Equal(t, string(entity.StateIdle), initial.State)
		assert.True(t, initial.ShowDropzone)
		assert.Nil(t, initial.Preview)
	})

	t.Run("transition already in initial view is not sent twice", func(t *testing.T) {
		env, notifier, uc, id := setup(t)
		notifier.after = func() {
			_, err := uc.Clear(ctx, id)
			require.NoError(t, err)
		}

		updates, stop, err := uc.Watch(ctx, id)
		require.NoError(t, err)
		defer stop()

		initial := <-updates
		assert.Equal(t, string(entity.StateIdle), initial.State)

		select {
		case view := <-updates:
			t.Fatalf("unexpected duplicate view at version %d", view.Version)
		case <-time.After(100 * time.Millisecond):
		}

		notifier.after = nil
		_, err = env.store.Update(ctx, id, func(s *entity.Session) error {
			s.Select(entity.NewSelectedFile("leaf.png", "image/png", []byte("y")), entity.NewPreviewHandle("image/png", []byte("y")))
			return nil
		})
		require.NoError(t, err)
		session, err := env.store.Get(ctx, id)
		require.NoError(t, err)
		notifier.Publish(session)

		select {
		case view := <-updates:
			assert.Greater(t, view.Version, initial.Version)
			assert.Equal(t, string(entity.StateSelected), view.State)
		case <-time.After(time.Second):
			t.Fatal("no update received")
		}
	})
}

func TestUploadUsecase_ListClassifications(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled history", func(t *testing.T) {
		store, err := memory.NewSessionStore(4, time.Hour, zap.NewNop())
		require.NoError(t, err)
		uc := NewUploadUsecase(UploadDeps{Store: store, Notifier: realtime.NewHub()})

		_, err = uc.ListClassifications(ctx, "", 10, 0)
		assert.ErrorIs(t, err, ErrHistoryDisabled)
		_, err = uc.GetClassification(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrHistoryDisabled)
	})

	t.Run("all sessions with clamped limit", func(t *testing.T) {
		env := newTestEnv(t)
		records := []*entity.ClassificationRecord{{ID: uuid.New(), Status: entity.RecordStatusSucceeded, Label: "Healthy"}}
		env.history.On("List", ctx, 100, 0).Return(records, int64(150), nil).Once()

		out, err := env.uc.ListClassifications(ctx, "", 500, -3)
		require.NoError(t, err)
		assert.Equal(t, 100, out.Limit)
		assert.Equal(t, 0, out.Offset)
		assert.True(t, out.HasMore)
		require.Len(t, out.Records, 1)
		assert.Equal(t, "Healthy", out.Records[0].Label)
	})

	t.Run("one session with default limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.history.On("ListBySession", ctx, "abc", 20, 20).
			Return([]*entity.ClassificationRecord{}, int64(25), nil).Once()

		out, err := env.uc.ListClassifications(ctx, "abc", 0, 20)
		require.NoError(t, err)
		assert.Equal(t, 20, out.Limit)
		assert.False(t, out.HasMore)
	})
}

func TestUploadUsecase_GetClassification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	found := &entity.ClassificationRecord{ID: uuid.New(), FileName: "cat.jpg", Status: entity.RecordStatusSucceeded}
	env.history.On("GetByID", ctx, found.ID).Return(found, nil)
	missing := uuid.New()
	env.history.On("GetByID", ctx, missing).Return(nil, nil)

	out, err := env.uc.GetClassification(ctx, found.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat.jpg", out.FileName)

	_, err = env.uc.GetClassification(ctx, missing)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
