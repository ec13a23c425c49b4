package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/testutil"
	"github.com/uploadhub/backend/internal/transfer"
)

// recorder collects callback invocations.
type recorder struct {
	mu       sync.Mutex
	progress []int
	success  []string
	errs     []error
	changes  []string
	removed  []models.TrackedFile
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p int, f *models.File) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, p)
		},
		OnSuccess: func(resp *models.Response, f *models.File) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.success = append(r.success, f.Name)
		},
		OnError: func(err error, f *models.File) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnChange: func(f *models.File) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, f.Name)
		},
		OnRemove: func(s models.TrackedFile) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.removed = append(r.removed, s)
		},
	}
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress) + len(r.success) + len(r.errs) + len(r.changes)
}

func newTestManager(t *testing.T, ch transfer.Channel, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(ch, opts...)
	require.NoError(t, err)
	return m
}

func byName(files []models.TrackedFile) map[string]models.TrackedFile {
	out := make(map[string]models.TrackedFile, len(files))
	for _, f := range files {
		out[f.Name] = f
	}
	return out
}

func TestManager_EveryFileGetsUniqueEntry(t *testing.T) {
	ch := testutil.NewMockChannel()
	m := newTestManager(t, ch)

	var files []*models.File
	for i := 0; i < 25; i++ {
		files = append(files, models.FileFromBytes(fmt.Sprintf("f%02d.txt", i), []byte("data")))
	}
	b := m.Upload(context.Background(), files)
	b.Wait()

	tracked := m.Files()
	require.Len(t, tracked, 25)
	ids := make(map[string]bool)
	for _, f := range tracked {
		assert.NotEmpty(t, f.ID)
		assert.False(t, ids[f.ID], "duplicate id %s", f.ID)
		ids[f.ID] = true
		assert.Equal(t, models.UploadStatusSuccess, f.Status)
	}
	assert.Len(t, b.IDs(), 25)
}

func TestManager_RejectedFileLeavesNoTrace(t *testing.T) {
	ch := testutil.NewMockChannel()
	rec := &recorder{}
	filter := FilterFunc(func(ctx context.Context, f *models.File) (Decision, error) {
		if f.Name == "big.bin" {
			return Reject(), nil
		}
		return Approve(), nil
	})
	m := newTestManager(t, ch, WithFilter(filter), WithCallbacks(rec.callbacks()))

	m.Upload(context.Background(), []*models.File{
		models.FileFromBytes("big.bin", make([]byte, 64)),
	}).Wait()

	assert.Empty(t, m.Files())
	assert.Empty(t, ch.Started())
	assert.Zero(t, rec.total())
}

func TestManager_StatusSequenceAndMonotonicPercent(t *testing.T) {
	ch := testutil.NewMockChannel().
		On("a.txt", testutil.Script{
			Steps: []testutil.Step{{10, 100}, {50, 100}, {30, 100}, {50, 100}, {90, 100}, {100, 100}},
		}).
		On("b.txt", testutil.Script{
			Steps: []testutil.Step{{1, 4}, {2, 4}},
			Err:   errors.New("reset by peer"),
		})
	rec := &recorder{}
	m := newTestManager(t, ch, WithCallbacks(rec.callbacks()))
	events, cancel := m.Registry().Subscribe()
	defer cancel()

	m.Upload(context.Background(), []*models.File{
		models.FileFromBytes("a.txt", make([]byte, 100)),
		models.FileFromBytes("b.txt", make([]byte, 4)),
	}).Wait()

	statuses := map[string][]models.UploadStatus{}
	percents := map[string][]int{}
	for len(events) > 0 {
		ev := <-events
		statuses[ev.File.Name] = append(statuses[ev.File.Name], ev.File.Status)
		if ev.File.Status == models.UploadStatusUploading {
			percents[ev.File.Name] = append(percents[ev.File.Name], ev.File.Percent)
		}
	}

	for name, seq := range statuses {
		require.NotEmpty(t, seq, name)
		assert.Equal(t, models.UploadStatusReady, seq[0], name)
		for _, s := range seq[1 : len(seq)-1] {
			assert.Equal(t, models.UploadStatusUploading, s, name)
		}
		assert.True(t, seq[len(seq)-1].Terminal(), name)
	}

	assert.Equal(t, []int{10, 50, 90}, percents["a.txt"])
	assert.Equal(t, []int{25, 50}, percents["b.txt"])

	files := byName(m.Files())
	assert.Equal(t, models.UploadStatusSuccess, files["a.txt"].Status)
	assert.Equal(t, 100, files["a.txt"].Percent)
	assert.Equal(t, models.UploadStatusError, files["b.txt"].Status)
	assert.Equal(t, 50, files["b.txt"].Percent)
	assert.Equal(t, "reset by peer", files["b.txt"].Error)
	assert.Nil(t, files["b.txt"].Response)
	assert.Nil(t, files["a.txt"].Payload)
}

func TestManager_UnknownTotalReportsZero(t *testing.T) {
	gate := make(chan struct{})
	ch := testutil.NewMockChannel().On("stream.log", testutil.Script{
		Steps: []testutil.Step{{512, 0}},
		Gate:  gate,
	})
	m := newTestManager(t, ch)

	b := m.Upload(context.Background(), []*models.File{models.FileFromBytes("stream.log", []byte("x"))})
	require.Eventually(t, func() bool {
		files := m.Files()
		return len(files) == 1 && files[0].Status == models.UploadStatusUploading
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Files()[0].Percent)

	close(gate)
	b.Wait()
	assert.Equal(t, models.UploadStatusSuccess, m.Files()[0].Status)
}

func TestManager_SuccessAndErrorScenario(t *testing.T) {
	ok := &models.Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}
	ch := testutil.NewMockChannel().
		On("A", testutil.Script{Steps: []testutil.Step{{30, 100}}, Response: ok}).
		On("B", testutil.Script{Err: errors.New("network")})
	rec := &recorder{}
	m := newTestManager(t, ch, WithCallbacks(rec.callbacks()))

	m.Upload(context.Background(), []*models.File{
		models.FileFromBytes("A", make([]byte, 100)),
		models.FileFromBytes("B", make([]byte, 100)),
	}).Wait()

	files := byName(m.Files())
	require.Len(t, files, 2)
	assert.Equal(t, models.UploadStatusSuccess, files["A"].Status)
	assert.JSONEq(t, `{"ok":true}`, string(files["A"].Response.Body))
	assert.Empty(t, files["A"].Error)
	assert.Equal(t, models.UploadStatusError, files["B"].Status)
	assert.Equal(t, "network", files["B"].Error)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t, []string{"A", "B"}, rec.changes)
	assert.Equal(t, []string{"A"}, rec.success)
	require.Len(t, rec.errs, 1)
	assert.EqualError(t, rec.errs[0], "network")
	assert.Equal(t, []int{30}, rec.progress)
}

func TestManager_DeferredReplacementUsesNewSize(t *testing.T) {
	ch := testutil.NewMockChannel()
	var seen []*models.File
	var mu sync.Mutex
	filter := FilterFunc(func(ctx context.Context, f *models.File) (Decision, error) {
		result := make(chan *models.File)
		go func() {
			time.Sleep(10 * time.Millisecond)
			result <- models.FileFromBytes(f.Name, make([]byte, 4096))
		}()
		return ReplaceWith(<-result), nil
	})
	m := newTestManager(t, ch, WithFilter(filter), WithCallbacks(Callbacks{
		OnChange: func(f *models.File) {
			mu.Lock()
			seen = append(seen, f)
			mu.Unlock()
		},
	}))

	original := models.FileFromBytes("photo.png", make([]byte, 10))
	m.Upload(context.Background(), []*models.File{original}).Wait()

	files := m.Files()
	require.Len(t, files, 1)
	assert.Equal(t, int64(4096), files[0].Size)
	require.Len(t, seen, 1)
	assert.Same(t, original, seen[0])
}

func TestManager_FilterErrorDropsFile(t *testing.T) {
	ch := testutil.NewMockChannel()
	rec := &recorder{}
	filter := FilterFunc(func(ctx context.Context, f *models.File) (Decision, error) {
		return Decision{}, errors.New("compression failed")
	})
	m := newTestManager(t, ch, WithFilter(filter), WithCallbacks(rec.callbacks()))

	m.Upload(context.Background(), []*models.File{models.FileFromBytes("x", []byte("1"))}).Wait()

	assert.Empty(t, m.Files())
	assert.Empty(t, ch.Started())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrFilter)
	assert.Contains(t, rec.errs[0].Error(), "compression failed")
	assert.Empty(t, rec.changes)
}

func TestManager_SeededFilesAreNotTransferred(t *testing.T) {
	ch := testutil.NewMockChannel()
	seed := []models.TrackedFile{
		{ID: "123", Name: "hello.md", Size: 1234, Status: models.UploadStatusUploading, Percent: 30},
		{ID: "122", Name: "xyz.md", Size: 1234, Status: models.UploadStatusSuccess, Percent: 30},
		{ID: "121", Name: "eyiha.md", Size: 1234, Status: models.UploadStatusError, Percent: 30},
	}
	m := newTestManager(t, ch, WithDefaultFiles(seed))

	assert.Equal(t, seed, m.Files())
	assert.Empty(t, ch.Started())

	m.Upload(context.Background(), []*models.File{models.FileFromBytes("new.md", []byte("#"))}).Wait()
	files := m.Files()
	require.Len(t, files, 4)
	assert.Equal(t, "new.md", files[0].Name)
	assert.Equal(t, []string{"new.md"}, ch.Started())
}

func TestManager_RemoveDuringTransfer(t *testing.T) {
	gate := make(chan struct{})
	ch := testutil.NewMockChannel().
		On("slow", testutil.Script{Steps: []testutil.Step{{1, 10}}, Gate: gate}).
		On("other", testutil.Script{})
	rec := &recorder{}
	m := newTestManager(t, ch, WithCallbacks(rec.callbacks()))

	b := m.Upload(context.Background(), []*models.File{
		models.FileFromBytes("slow", make([]byte, 10)),
		models.FileFromBytes("other", make([]byte, 10)),
	})
	require.Eventually(t, func() bool {
		f := byName(m.Files())
		return f["slow"].Status == models.UploadStatusUploading && f["other"].Status == models.UploadStatusSuccess
	}, time.Second, 5*time.Millisecond)

	other := byName(m.Files())["other"]
	slowID := byName(m.Files())["slow"].ID
	require.True(t, m.Remove(slowID))
	assert.False(t, m.Remove(slowID))
	assert.False(t, m.Remove("does-not-exist"))

	close(gate)
	b.Wait()

	files := m.Files()
	require.Len(t, files, 1)
	assert.Equal(t, other, files[0])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.removed, 1)
	assert.Equal(t, slowID, rec.removed[0].ID)
	assert.Equal(t, models.UploadStatusUploading, rec.removed[0].Status)
}

func TestManager_PanickingTransferIsContained(t *testing.T) {
	ch := testutil.NewMockChannel().
		On("boom", testutil.Script{Panic: true}).
		On("fine", testutil.Script{})
	rec := &recorder{}
	m := newTestManager(t, ch, WithCallbacks(rec.callbacks()))

	m.Upload(context.Background(), []*models.File{
		models.FileFromBytes("boom", []byte("1")),
		models.FileFromBytes("fine", []byte("1")),
	}).Wait()

	files := byName(m.Files())
	assert.Equal(t, models.UploadStatusError, files["boom"].Status)
	assert.Contains(t, files["boom"].Error, "panicked")
	assert.Equal(t, models.UploadStatusSuccess, files["fine"].Status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.changes, 2)
}

func TestManager_PanickingCallbackDoesNotSkipOnChange(t *testing.T) {
	ch := testutil.NewMockChannel()
	changes := 0
	m := newTestManager(t, ch, WithCallbacks(Callbacks{
		OnSuccess: func(*models.Response, *models.File) { panic("consumer bug") },
		OnChange:  func(*models.File) { changes++ },
	}))

	m.Upload(context.Background(), []*models.File{models.FileFromBytes("a", []byte("1"))}).Wait()

	assert.Equal(t, 1, changes)
	assert.Equal(t, models.UploadStatusSuccess, m.Files()[0].Status)
}

func TestManager_TransfersIgnoreCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	ch := testutil.NewMockChannel().On("a", testutil.Script{Gate: gate})
	m := newTestManager(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	b := m.Upload(ctx, []*models.File{models.FileFromBytes("a", []byte("1"))})
	cancel()
	close(gate)
	b.Wait()

	assert.Equal(t, models.UploadStatusSuccess, m.Files()[0].Status)
}

func TestNewManager_RequiresChannel(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}
