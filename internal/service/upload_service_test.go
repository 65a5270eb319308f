package service

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go-chat-relay/internal/model"
	"go-chat-relay/internal/repository"
	"go-chat-relay/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 记录广播事件的假Hub
type fakeHub struct {
	mu     sync.Mutex
	events []*model.Event
}

func (h *fakeHub) BroadcastEvent(event *model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *fakeHub) kinds() []model.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]model.EventKind, 0, len(h.events))
	for _, e := range h.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// 可控的预览生成器：Generate阻塞到release被关闭为止
type stubPreview struct {
	name    string
	err     error
	release chan struct{}
}

func (p *stubPreview) Generate(storedName, mimeType string) (string, error) {
	if p.release != nil {
		<-p.release
	}
	return p.name, p.err
}

func setupUpload(t *testing.T, preview PreviewGenerator) (*UploadService, *repository.MessageStore, *fakeHub) {
	t.Helper()
	if logger.L == nil {
		require.NoError(t, logger.InitLogger("error", false))
	}
	store := repository.NewMessageStore(t.TempDir())
	require.NoError(t, store.EnsureDataDirectory())
	hub := &fakeHub{}
	return NewUploadService(store, hub, preview), store, hub
}

func uploadHeader(t *testing.T, filename, content string) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := multipart.NewReader(body, w.Boundary())
	form, err := r.ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })

	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

func readByID(t *testing.T, store *repository.MessageStore, id string) model.Message {
	t.Helper()
	messages, err := store.ReadAll()
	require.NoError(t, err)
	for _, msg := range messages {
		if msg.ID == id {
			return msg
		}
	}
	t.Fatalf("message %s not found", id)
	return model.Message{}
}

func TestUpload_TwoPhaseCompleted(t *testing.T) {
	preview := &stubPreview{name: "preview.webp", release: make(chan struct{})}
	s, store, hub := setupUpload(t, preview)

	msg, err := s.SaveUpload(uploadHeader(t, "photo.png", "fake image bytes"), "alice")
	require.NoError(t, err)

	// 第一阶段结束后记录立即可见且处于pending状态
	assert.Equal(t, model.MessageTypeFile, msg.Type)
	assert.Equal(t, "photo.png", msg.Text)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, model.PreviewPending, msg.PreviewStatus)
	assert.NotEmpty(t, msg.FileName)

	stored := readByID(t, store, msg.ID)
	assert.Equal(t, model.PreviewPending, stored.PreviewStatus)
	assert.FileExists(t, filepath.Join(store.FilesDir(), msg.FileName))
	assert.Equal(t, []model.EventKind{model.EventCreated}, hub.kinds())

	// 放行第二阶段
	close(preview.release)

	require.Eventually(t, func() bool {
		return readByID(t, store, msg.ID).PreviewStatus == model.PreviewCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final := readByID(t, store, msg.ID)
	assert.Equal(t, "preview.webp", final.PreviewFileName)
	// 两个阶段之间不可变字段保持不变
	assert.Equal(t, msg.ID, final.ID)
	assert.Equal(t, msg.Text, final.Text)
	assert.Equal(t, msg.Sender, final.Sender)
	assert.Equal(t, msg.Timestamp, final.Timestamp)
	assert.Equal(t, msg.FileName, final.FileName)

	assert.Eventually(t, func() bool {
		kinds := hub.kinds()
		return len(kinds) == 2 && kinds[1] == model.EventUpdated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpload_PreviewFailure(t *testing.T) {
	preview := &stubPreview{err: os.ErrDeadlineExceeded}
	s, store, _ := setupUpload(t, preview)

	msg, err := s.SaveUpload(uploadHeader(t, "clip.mp4", "fake video bytes"), "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return readByID(t, store, msg.ID).PreviewStatus == model.PreviewFailed
	}, 2*time.Second, 10*time.Millisecond)

	final := readByID(t, store, msg.ID)
	assert.Empty(t, final.PreviewFileName)
}

func TestUpload_NoPreviewAvailable(t *testing.T) {
	s, store, _ := setupUpload(t, DisabledPreviewGenerator{})

	msg, err := s.SaveUpload(uploadHeader(t, "notes.txt", "plain text"), "carol")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return readByID(t, store, msg.ID).PreviewStatus == model.PreviewFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpload_AppendFailureCleansUpBlob(t *testing.T) {
	s, store, hub := setupUpload(t, &stubPreview{})

	// 占住日志文件的路径，让追加必然失败
	require.NoError(t, os.Mkdir(store.MessagesFile(), 0755))

	_, err := s.SaveUpload(uploadHeader(t, "doomed.bin", "some bytes"), "erin")
	require.Error(t, err)

	// 第一阶段失败后不留下无记录的文件，也不广播事件
	entries, err := os.ReadDir(store.FilesDir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, entry.IsDir(), "unexpected leftover file %s", entry.Name())
	}
	assert.Empty(t, hub.kinds())
}

func TestUpload_SanitizesStoredName(t *testing.T) {
	preview := &stubPreview{}
	s, store, _ := setupUpload(t, preview)

	msg, err := s.SaveUpload(uploadHeader(t, "my report.pdf", "pdf bytes"), "dave")
	require.NoError(t, err)

	assert.NotContains(t, msg.FileName, " ")
	assert.NotContains(t, msg.FileName, "/")
	assert.Equal(t, "my report.pdf", msg.Text)
	assert.FileExists(t, filepath.Join(store.FilesDir(), msg.FileName))
}
