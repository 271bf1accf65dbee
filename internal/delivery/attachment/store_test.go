package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type memObject struct {
	data        []byte
	contentType string
}

type memStorage struct {
	objects map[string]memObject
	puts    int
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string]memObject{}}
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[bucket+"/"+key] = memObject{data: data, contentType: opts.ContentType}
	m.puts++
	return storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ObjectInfo{}, errors.New("not found")
	}
	info := storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectInfo{}, errors.New("not found")
	}
	return storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(obj.data))}, nil
}

func (m *memStorage) DeleteObject(_ context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStorage) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.example.com/%s/%s?signed", bucket, key), nil
}

func (m *memStorage) Close() error { return nil }

func TestStoreSaveKeyLayout(t *testing.T) {
	t.Parallel()

	st := newMemStorage()
	clk := fixedClock{now: time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)}
	store := NewStore(st, "courier", clk)

	key, err := store.Save(context.Background(), []byte("payload"), "report.pdf", "application/pdf", "tenant-a")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if !strings.HasPrefix(key, "attachments/tenant-a/2026/09/") {
		t.Errorf("key prefix: got %q", key)
	}
	if !strings.HasSuffix(key, "-report.pdf") {
		t.Errorf("key suffix: got %q", key)
	}

	data, contentType, err := store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data: got %q", data)
	}
	if contentType != "application/pdf" {
		t.Errorf("contentType: got %q", contentType)
	}
}

func TestStoreSaveDedupesIdenticalContent(t *testing.T) {
	t.Parallel()

	st := newMemStorage()
	clk := fixedClock{now: time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)}
	store := NewStore(st, "courier", clk)

	first, err := store.Save(context.Background(), []byte("same bytes"), "a.bin", "application/octet-stream", "tenant-a")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := store.Save(context.Background(), []byte("same bytes"), "a.bin", "application/octet-stream", "tenant-a")
	if err != nil {
		t.Fatalf("save again: %v", err)
	}

	if first != second {
		t.Errorf("keys differ: %q vs %q", first, second)
	}
	if st.puts != 1 {
		t.Errorf("expected 1 upload, got %d", st.puts)
	}
}

func TestStoreSaveSanitizesFilename(t *testing.T) {
	t.Parallel()

	st := newMemStorage()
	store := NewStore(st, "courier", fixedClock{now: time.Now()})

	key, err := store.Save(context.Background(), []byte("x"), "../../evil name.txt", "text/plain", "tenant-b")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Contains(key, "..") {
		t.Errorf("key contains traversal: %q", key)
	}
	if strings.Contains(strings.TrimPrefix(key, "attachments/tenant-b/"), " ") {
		t.Errorf("key contains spaces: %q", key)
	}
}

func TestStorePresignDownload(t *testing.T) {
	t.Parallel()

	store := NewStore(newMemStorage(), "courier", fixedClock{now: time.Now()})

	url, err := store.PresignDownload(context.Background(), "attachments/t/2026/09/abc-x.pdf", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "https://storage.example.com/courier/") {
		t.Errorf("url: got %q", url)
	}
}
