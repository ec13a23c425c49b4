// Package upload orchestrates concurrent file uploads: each selected file
// passes a pre-transfer filter, gets a tracked registry entry and is driven
// through a transfer channel independently of every other file.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// Callbacks are notified about each file's outcome. All are optional and
// receive the file as it was selected, before any filter substitution.
type Callbacks struct {
	OnProgress func(percent int, file *models.File)
	OnSuccess  func(resp *models.Response, file *models.File)
	OnError    func(err error, file *models.File)
	OnChange   func(file *models.File) // after every terminal outcome
	OnRemove   func(snapshot models.TrackedFile)
}

// Manager runs uploads and owns the tracked file registry.
type Manager struct {
	registry *Registry
	channel  transfer.Channel
	filter   Filter
	cb       Callbacks
	logger   *slog.Logger
	seed     []models.TrackedFile

	newID func() string
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithFilter sets the pre-transfer filter.
func WithFilter(f Filter) Option {
	return func(m *Manager) { m.filter = f }
}

// WithCallbacks sets the outcome callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(m *Manager) { m.cb = cb }
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultFiles seeds the registry with records from a previous session.
// They are listed but never transferred.
func WithDefaultFiles(files []models.TrackedFile) Option {
	return func(m *Manager) { m.seed = files }
}

// NewManager creates a Manager that transfers files through channel.
func NewManager(channel transfer.Channel, opts ...Option) (*Manager, error) {
	if channel == nil {
		return nil, fmt.Errorf("upload manager: channel is required")
	}
	m := &Manager{
		channel: channel,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	reg, err := NewRegistry(m.seed)
	if err != nil {
		return nil, fmt.Errorf("seeding registry: %w", err)
	}
	m.registry = reg
	m.seed = nil
	return m, nil
}

// Registry returns the tracked file registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Files returns a snapshot of the tracked files, newest first.
func (m *Manager) Files() []models.TrackedFile {
	return m.registry.List()
}

// Upload starts one task per file and returns at once. Each task filters,
// registers and transfers its file without waiting on the others. Tasks
// are detached from ctx cancellation: once started, a transfer runs until
// it succeeds or fails.
func (m *Manager) Upload(ctx context.Context, files []*models.File) *Batch {
	ctx = context.WithoutCancel(ctx)
	b := &Batch{}
	for _, f := range files {
		if f == nil {
			continue
		}
		t := &task{m: m, batch: b, original: f}
		b.g.Go(func() error {
			t.run(ctx)
			return nil
		})
	}
	return b
}

// Remove deletes a tracked file and reports its last snapshot to OnRemove.
// A transfer still running for it is not interrupted; its later events
// find no entry to update. Removing an unknown id is a no-op.
func (m *Manager) Remove(id string) bool {
	snap, ok := m.registry.Remove(id)
	if !ok {
		return false
	}
	m.logger.Info("upload removed", "upload_id", shortID(id), "file", snap.Name, "status", snap.Status)
	if m.cb.OnRemove != nil {
		m.notify("OnRemove", func() { m.cb.OnRemove(snap) })
	}
	return true
}

// notify runs a callback, containing any panic it raises so one faulty
// callback cannot skip the ones after it.
func (m *Manager) notify(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

// Batch is a handle on the tasks started by one Upload call.
type Batch struct {
	g errgroup.Group

	mu  sync.Mutex
	ids []string
}

// Wait blocks until every task of the batch has finished. Tasks whose
// transfer never terminates keep Wait blocked.
func (b *Batch) Wait() {
	_ = b.g.Wait()
}

// IDs returns the registry ids created by this batch so far, in creation order.
func (b *Batch) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ids))
	copy(out, b.ids)
	return out
}

func (b *Batch) add(id string) {
	b.mu.Lock()
	b.ids = append(b.ids, id)
	b.mu.Unlock()
}

// stage is where a task is in its pipeline.
type stage int

const (
	stagePending stage = iota
	stageFiltering
	stageTransferring
	stageDone
)

func (s stage) String() string {
	switch s {
	case stagePending:
		return "pending"
	case stageFiltering:
		return "filtering"
	case stageTransferring:
		return "transferring"
	case stageDone:
		return "done"
	}
	return "unknown"
}

// task drives one file from selection to a terminal state.
type task struct {
	m        *Manager
	batch    *Batch
	original *models.File

	// mu orders progress reports against the terminal transition.
	mu          sync.Mutex
	stage       stage
	id          string
	lastPercent int
}

func (t *task) run(ctx context.Context) {
	m := t.m
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("upload of %s panicked: %v", t.original.Name, r)
			m.logger.Error("upload task panicked", "file", t.original.Name, "stage", t.currentStage(), "panic", r)
			if t.currentStage() == stageTransferring {
				t.finish(nil, err)
				return
			}
			t.filterFailed(err)
		}
	}()

	t.setStage(stageFiltering)
	file, err := resolve(ctx, m.filter, t.original)
	if err != nil {
		t.filterFailed(err)
		return
	}
	if file == nil {
		m.logger.Debug("file rejected by filter", "file", t.original.Name)
		t.setStage(stageDone)
		return
	}

	entry := models.TrackedFile{
		ID:        m.newID(),
		Name:      file.Name,
		Size:      file.Size,
		Status:    models.UploadStatusReady,
		Percent:   0,
		Payload:   file,
		CreatedAt: m.now(),
	}
	if err := m.registry.Add(entry); err != nil {
		t.filterFailed(err)
		return
	}
	t.mu.Lock()
	t.id = entry.ID
	t.stage = stageTransferring
	t.mu.Unlock()
	t.batch.add(entry.ID)

	m.logger.Info("upload started", "upload_id", shortID(entry.ID), "file", file.Name, "size", file.Size)
	resp, err := m.channel.Transfer(ctx, file, t.progress)
	t.finish(resp, err)
}

// progress handles one progress event from the channel.
func (t *task) progress(loaded, total int64) {
	percent := 0
	if total > 0 {
		percent = int(math.Round(float64(loaded) * 100 / float64(total)))
	}
	if percent >= 100 || percent < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != stageTransferring || percent < t.lastPercent {
		return
	}
	t.lastPercent = percent

	t.m.registry.Update(t.id, func(f *models.TrackedFile) bool {
		if f.Status == models.UploadStatusUploading && f.Percent == percent {
			return false
		}
		f.Status = models.UploadStatusUploading
		f.Percent = percent
		return true
	})
	if cb := t.m.cb.OnProgress; cb != nil {
		t.m.notify("OnProgress", func() { cb(percent, t.original) })
	}
}

// finish applies the terminal event. Only the first call has any effect.
func (t *task) finish(resp *models.Response, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage != stageTransferring {
		return
	}
	t.stage = stageDone

	m := t.m
	now := m.now()
	if err != nil {
		m.registry.Update(t.id, func(f *models.TrackedFile) bool {
			f.Status = models.UploadStatusError
			f.Error = err.Error()
			f.Payload = nil
			f.CompletedAt = &now
			return true
		})
		m.logger.Warn("upload failed", "upload_id", shortID(t.id), "file", t.original.Name, "error", err)
		if cb := m.cb.OnError; cb != nil {
			m.notify("OnError", func() { cb(err, t.original) })
		}
	} else {
		m.registry.Update(t.id, func(f *models.TrackedFile) bool {
			f.Status = models.UploadStatusSuccess
			f.Percent = 100
			f.Response = resp
			f.Payload = nil
			f.CompletedAt = &now
			return true
		})
		m.logger.Info("upload complete", "upload_id", shortID(t.id), "file", t.original.Name)
		if cb := m.cb.OnSuccess; cb != nil {
			m.notify("OnSuccess", func() { cb(resp, t.original) })
		}
	}
	if cb := m.cb.OnChange; cb != nil {
		m.notify("OnChange", func() { cb(t.original) })
	}
}

// filterFailed reports a file that never reached the registry.
func (t *task) filterFailed(err error) {
	t.setStage(stageDone)
	err = fmt.Errorf("%w: %s: %w", ErrFilter, t.original.Name, err)
	t.m.logger.Warn("file dropped before transfer", "file", t.original.Name, "error", err)
	if cb := t.m.cb.OnError; cb != nil {
		t.m.notify("OnError", func() { cb(err, t.original) })
	}
}

func (t *task) setStage(s stage) {
	t.mu.Lock()
	t.stage = s
	t.mu.Unlock()
}

func (t *task) currentStage() stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
