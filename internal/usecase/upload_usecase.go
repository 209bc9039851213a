package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ressKim-io/leafscan/internal/domain/entity"
	"github.com/ressKim-io/leafscan/internal/domain/repository"
	"github.com/ressKim-io/leafscan/internal/domain/service"
)

// Error definitions for upload usecase
var (
	ErrSessionNotFound = repository.ErrSessionNotFound
	ErrNoFileSelected  = errors.New("no file selected")
	ErrPreviewNotFound = errors.New("preview not found")
	ErrInvalidImage    = errors.New("file is not an image")
	ErrRecordNotFound  = errors.New("classification record not found")
	ErrHistoryDisabled = errors.New("classification history is disabled")
)

// errSuperseded aborts an automatic upload whose selection was replaced
var errSuperseded = errors.New("selection superseded")

// errStale rejects a completion that belongs to an older generation
var errStale = errors.New("stale upload")

// SelectInput represents a file chosen in the drop/select input
type SelectInput struct {
	Name        string
	ContentType string
	Data        []byte
}

// PreviewOutput describes the live preview of a session
type PreviewOutput struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ResultOutput is the classification result shown in the result table
type ResultOutput struct {
	Class      string   `json:"class"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ViewOutput is everything the page needs to render the component
type ViewOutput struct {
	SessionID    string         `json:"session_id"`
	State        string         `json:"state"`
	Loading      bool           `json:"loading"`
	ShowDropzone bool           `json:"show_dropzone"`
	Preview      *PreviewOutput `json:"preview,omitempty"`
	Result       *ResultOutput  `json:"result,omitempty"`
	// Version grows with every change of the session; a page drops views
	// older than the newest one it has drawn
	Version   uint64 `json:"version"`
	UpdatedAt string `json:"updated_at"`
}

// PreviewContent is the body served for a preview URL
type PreviewContent struct {
	ContentType string
	Data        []byte
}

// RecordOutput represents one classification history entry
type RecordOutput struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"session_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Status      string    `json:"status"`
	Label       string    `json:"label,omitempty"`
	Error       string    `json:"error,omitempty"`
	Stale       bool      `json:"stale"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   string    `json:"created_at"`
}

// RecordListOutput represents paginated classification history
type RecordListOutput struct {
	Records []*RecordOutput `json:"records"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// UploadUsecase defines the interface of the image upload component
type UploadUsecase interface {
	// EnsureSession returns the view of sessionID, starting a new session
	// when sessionID is empty or unknown
	EnsureSession(ctx context.Context, sessionID string) (*ViewOutput, error)
	View(ctx context.Context, sessionID string) (*ViewOutput, error)
	Select(ctx context.Context, sessionID string, input *SelectInput) (*ViewOutput, error)
	SendFile(ctx context.Context, sessionID string) error
	Resend(ctx context.Context, sessionID string) (*ViewOutput, error)
	Clear(ctx context.Context, sessionID string) (*ViewOutput, error)
	Preview(ctx context.Context, sessionID string, handleID uuid.UUID) (*PreviewContent, error)
	Watch(ctx context.Context, sessionID string) (<-chan *ViewOutput, func(), error)
	ListClassifications(ctx context.Context, sessionID string, limit, offset int) (*RecordListOutput, error)
	GetClassification(ctx context.Context, id uuid.UUID) (*RecordOutput, error)
	// Wait blocks until every background upload has finished
	Wait()
}

// UploadDeps holds the collaborators of the upload usecase.
// History, Publisher and Metrics are optional.
type UploadDeps struct {
	Store      repository.SessionStore
	History    repository.ClassificationRepository
	Classifier service.Classifier
	Renderer   service.PreviewRenderer
	Notifier   service.Notifier
	Publisher  service.EventPublisher
	Metrics    service.UploadMetrics
	Logger     *zap.Logger
}

type uploadUsecase struct {
	store      repository.SessionStore
	history    repository.ClassificationRepository
	classifier service.Classifier
	renderer   service.PreviewRenderer
	notifier   service.Notifier
	publisher  service.EventPublisher
	metrics    service.UploadMetrics
	logger     *zap.Logger
	inflight   sync.WaitGroup
}

// NewUploadUsecase creates a new upload usecase
func NewUploadUsecase(deps UploadDeps) UploadUsecase {
	u := &uploadUsecase{
		store:      deps.Store,
		history:    deps.History,
		classifier: deps.Classifier,
		renderer:   deps.Renderer,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if u.logger == nil {
		u.logger = zap.NewNop()
	}
	if u.metrics == nil {
		u.metrics = nopMetrics{}
	}
	return u
}

func (u *uploadUsecase) EnsureSession(ctx context.Context, sessionID string) (*ViewOutput, error) {
	if sessionID != "" {
		session, err := u.store.Get(ctx, sessionID)
		if err == nil {
			return toViewOutput(session), nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	session := entity.NewSession()
	if err := u.store.Create(ctx, session); err != nil {
		return nil, err
	}
	u.logger.Debug("Session started", zap.String("session_id", session.ID))

	return toViewOutput(session), nil
}

func (u *uploadUsecase) View(ctx context.Context, sessionID string) (*ViewOutput, error) {
	session, err := u.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toViewOutput(session), nil
}

func (u *uploadUsecase) Select(ctx context.Context, sessionID string, input *SelectInput) (*ViewOutput, error) {
	file := entity.NewSelectedFile(input.Name, input.ContentType, input.Data)
	if !file.IsImage() {
		return nil, ErrInvalidImage
	}

	preview, err := u.renderer.Render(file)
	if err != nil {
		return nil, err
	}

	var released *entity.PreviewHandle
	session, err := u.store.Update(ctx, sessionID, func(s *entity.Session) error {
		released = s.Select(file, preview)
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.notifier.Publish(session)
	u.release(sessionID, released)

	u.logger.Info("File selected",
		zap.String("session_id", sessionID),
		zap.String("file", file.Name),
		zap.String("content_type", file.ContentType),
		zap.Int64("size", file.Size),
	)

	u.dispatch(ctx, sessionID, session.Generation)

	return toViewOutput(session), nil
}

func (u *uploadUsecase) SendFile(ctx context.Context, sessionID string) error {
	return u.send(ctx, sessionID, nil)
}

func (u *uploadUsecase) Resend(ctx context.Context, sessionID string) (*ViewOutput, error) {
	session, err := u.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.File == nil {
		return nil, ErrNoFileSelected
	}

	u.dispatch(ctx, sessionID, session.Generation)

	return toViewOutput(session), nil
}

func (u *uploadUsecase) Clear(ctx context.Context, sessionID string) (*ViewOutput, error) {
	var released *entity.PreviewHandle
	session, err := u.store.Update(ctx, sessionID, func(s *entity.Session) error {
		released = s.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.notifier.Publish(session)
	u.release(sessionID, released)

	u.logger.Info("Session cleared", zap.String("session_id", sessionID))

	return toViewOutput(session), nil
}

func (u *uploadUsecase) Preview(ctx context.Context, sessionID string, handleID uuid.UUID) (*PreviewContent, error) {
	session, err := u.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Preview == nil || session.Preview.ID != handleID {
		return nil, ErrPreviewNotFound
	}

	return &PreviewContent{
		ContentType: session.Preview.ContentType,
		Data:        session.Preview.Data,
	}, nil
}

// Watch subscribes before reading the initial snapshot so a transition
// published in between is not lost. Snapshots not newer than the last
// one forwarded are skipped.
func (u *uploadUsecase) Watch(ctx context.Context, sessionID string) (<-chan *ViewOutput, func(), error) {
	updates, unsubscribe := u.notifier.Subscribe(sessionID)

	session, err := u.store.Get(ctx, sessionID)
	if err != nil {
		unsubscribe()
		return nil, nil, err
	}

	out := make(chan *ViewOutput, 1)
	out <- toViewOutput(session)
	last := session.Revision

	done := make(chan struct{})
	go func() {
		defer close(out)
		for s := range updates {
			if s.Revision <= last {
				continue
			}
			last = s.Revision
			select {
			case out <- toViewOutput(s):
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
	return out, stop, nil
}

func (u *uploadUsecase) ListClassifications(ctx context.Context, sessionID string, limit, offset int) (*RecordListOutput, error) {
	if u.history == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var (
		records []*entity.ClassificationRecord
		total   int64
		err     error
	)
	if sessionID != "" {
		records, total, err = u.history.ListBySession(ctx, sessionID, limit, offset)
	} else {
		records, total, err = u.history.List(ctx, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	outputs := make([]*RecordOutput, len(records))
	for i, r := range records {
		outputs[i] = toRecordOutput(r)
	}

	return &RecordListOutput{
		Records: outputs,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}, nil
}

func (u *uploadUsecase) GetClassification(ctx context.Context, id uuid.UUID) (*RecordOutput, error) {
	if u.history == nil {
		return nil, ErrHistoryDisabled
	}

	record, err := u.history.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}

	return toRecordOutput(record), nil
}

func (u *uploadUsecase) Wait() {
	u.inflight.Wait()
}

// dispatch runs an upload in the background. The upload is detached from
// ctx cancellation and only starts if the session is still at generation.
func (u *uploadUsecase) dispatch(ctx context.Context, sessionID string, generation uint64) {
	bg := context.WithoutCancel(ctx)
	want := generation

	u.inflight.Add(1)
	go func() {
		defer u.inflight.Done()
		err := u.send(bg, sessionID, &want)
		switch {
		case err == nil, errors.Is(err, errSuperseded), errors.Is(err, ErrNoFileSelected):
		default:
			u.logger.Error("Background upload aborted", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// send performs one upload cycle. Classification failures are logged and
// reflected in the session state, not returned.
func (u *uploadUsecase) send(ctx context.Context, sessionID string, want *uint64) error {
	var (
		generation uint64
		file       *entity.SelectedFile
	)

	session, err := u.store.Update(ctx, sessionID, func(s *entity.Session) error {
		if want != nil && s.Generation != *want {
			return errSuperseded
		}
		g, ok := s.BeginUpload()
		if !ok {
			return ErrNoFileSelected
		}
		generation, file = g, s.File
		return nil
	})
	if err != nil {
		return err
	}
	u.notifier.Publish(session)

	record := entity.NewClassificationRecord(sessionID, file)
	u.metrics.UploadStarted()
	start := time.Now()

	result, classifyErr := u.classifier.Classify(ctx, file)
	elapsed := time.Since(start)

	var apply func(s *entity.Session) bool
	if classifyErr != nil {
		u.logger.Error("Error uploading file",
			zap.String("session_id", sessionID),
			zap.String("file", file.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(classifyErr),
		)
		record.SetFailed(classifyErr, elapsed.Milliseconds())
		apply = func(s *entity.Session) bool { return s.FailUpload(generation) }
	} else {
		u.logger.Info("File classified",
			zap.String("session_id", sessionID),
			zap.String("file", file.Name),
			zap.String("class", result.Class),
			zap.Duration("elapsed", elapsed),
		)
		record.SetSucceeded(result.Class, elapsed.Milliseconds())
		apply = func(s *entity.Session) bool { return s.CompleteUpload(generation, result) }
	}

	session, applied, err := u.finish(ctx, sessionID, apply)
	record.Stale = !applied

	outcome := service.OutcomeSucceeded
	switch {
	case !applied:
		outcome = service.OutcomeStale
	case classifyErr != nil:
		outcome = service.OutcomeFailed
	}
	u.metrics.UploadFinished(outcome, record.Label, elapsed)
	u.recordAttempt(ctx, record)

	if err != nil {
		return err
	}
	if applied {
		u.notifier.Publish(session)
	} else {
		u.logger.Info("Discarded stale upload result",
			zap.String("session_id", sessionID),
			zap.String("file", file.Name),
		)
	}
	return nil
}

func (u *uploadUsecase) finish(ctx context.Context, sessionID string, apply func(*entity.Session) bool) (*entity.Session, bool, error) {
	session, err := u.store.Update(ctx, sessionID, func(s *entity.Session) error {
		if !apply(s) {
			return errStale
		}
		return nil
	})
	switch {
	case err == nil:
		return session, true, nil
	case errors.Is(err, errStale), errors.Is(err, ErrSessionNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// release drops a preview that is no longer shown. The handle is owned by
// the session snapshot, so there is nothing to free beyond the reference.
func (u *uploadUsecase) release(sessionID string, handle *entity.PreviewHandle) {
	if handle == nil {
		return
	}
	u.logger.Debug("Preview released",
		zap.String("session_id", sessionID),
		zap.String("preview_id", handle.ID.String()),
	)
}

func (u *uploadUsecase) recordAttempt(ctx context.Context, record *entity.ClassificationRecord) {
	if u.history != nil {
		if err := u.history.Create(ctx, record); err != nil {
			u.logger.Warn("Failed to store classification record", zap.String("record_id", record.ID.String()), zap.Error(err))
		}
	}

	if u.publisher != nil {
		event := &service.ClassificationEvent{
			RecordID:  record.ID.String(),
			SessionID: record.SessionID,
			FileName:  record.FileName,
			Status:    string(record.Status),
			Label:     record.Label,
			Stale:     record.Stale,
			LatencyMs: record.LatencyMs,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if err := u.publisher.Publish(ctx, event); err != nil {
			u.logger.Warn("Failed to publish classification event", zap.String("record_id", record.ID.String()), zap.Error(err))
		}
	}
}

func toViewOutput(s *entity.Session) *ViewOutput {
	out := &ViewOutput{
		SessionID:    s.ID,
		State:        string(s.State),
		Loading:      s.Loading,
		ShowDropzone: !s.HasPreview(),
		Version:      s.Revision,
		UpdatedAt:    s.UpdatedAt.Format(time.RFC3339),
	}
	if s.Preview != nil && s.File != nil {
		out.Preview = &PreviewOutput{
			URL:         s.Preview.URL(),
			FileName:    s.File.Name,
			ContentType: s.File.ContentType,
			Size:        s.File.Size,
		}
	}
	if s.Result != nil {
		out.Result = &ResultOutput{
			Class:      s.Result.Class,
			Confidence: s.Result.Confidence,
		}
	}
	return out
}

func toRecordOutput(r *entity.ClassificationRecord) *RecordOutput {
	return &RecordOutput{
		ID:          r.ID,
		SessionID:   r.SessionID,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		Size:        r.Size,
		Status:      string(r.Status),
		Label:       r.Label,
		Error:       r.Error,
		Stale:       r.Stale,
		LatencyMs:   r.LatencyMs,
		CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

type nopMetrics struct{}

func (nopMetrics) UploadStarted()                               {}
func (nopMetrics) UploadFinished(string, string, time.Duration) {}
