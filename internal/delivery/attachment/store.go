package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/clock"
	"github.com/shandysiswandi/courier/internal/pkg/storage"
)

// Store persists attachment content on object storage.
type Store struct {
	storage storage.Storage
	bucket  string
	clock   clock.Clocker
}

// NewStore constructs a Store writing to the given bucket.
func NewStore(st storage.Storage, bucket string, clk clock.Clocker) *Store {
	return &Store{
		storage: st,
		bucket:  bucket,
		clock:   clk,
	}
}

// Save writes the content and returns its storage key. Keys embed the first
// 16 hex characters of the content hash, so identical payloads for the same
// owner and month dedupe to one object; an existing object is not rewritten.
func (s *Store) Save(ctx context.Context, data []byte, filename, mimeType, ownerID string) (string, error) {
	sum := sha256.Sum256(data)
	key := fmt.Sprintf(
		"attachments/%s/%s/%s-%s",
		ownerID,
		s.clock.Now().UTC().Format("2006/01"),
		hex.EncodeToString(sum[:])[:16],
		sanitizeFilename(filename),
	)

	if _, err := s.storage.StatObject(ctx, s.bucket, key); err == nil {
		return key, nil
	}

	_, err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(data), storage.PutOptions{
		Size:        int64(len(data)),
		ContentType: mimeType,
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

// Load reads stored attachment content back.
func (s *Store) Load(ctx context.Context, key string) ([]byte, string, error) {
	rc, info, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}

	return data, info.ContentType, nil
}

// PresignDownload returns a time-limited download link for the key.
func (s *Store) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.storage.PresignGet(ctx, s.bucket, key, expiry)
}

// sanitizeFilename strips path separators and whitespace so the filename
// cannot escape or mangle the key layout.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment"
	}

	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	return replacer.Replace(name)
}
