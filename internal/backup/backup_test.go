package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/stride/internal/database"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testS3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}

// setupManager returns an enabled manager backed by an in-memory store and
// a mock bucket.
func setupManager(t *testing.T) (*Manager, *mockS3Client, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(Config{S3: testS3, Passphrase: "hunter2"}, db, store.NewBackupStore(db), discardLogger(), nil)
	mock := newMockS3()
	m.client = mock
	return m, mock, db
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config -> disabled
	m := NewManager(Config{}, nil, nil, discardLogger(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// S3 without passphrase -> still disabled
	m2 := NewManager(Config{S3: testS3}, nil, nil, discardLogger(), nil)
	if m2.Enabled() {
		t.Error("manager without passphrase should be disabled")
	}

	// With S3 config and passphrase -> idle
	m3 := NewManager(Config{S3: testS3, Passphrase: "p"}, nil, nil, discardLogger(), nil)
	if m3.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m3.Status().State, StateIdle)
	}
}

func TestManagerDisabledOperations(t *testing.T) {
	m := NewManager(Config{}, nil, nil, discardLogger(), nil)
	ctx := context.Background()

	if _, err := m.RunNow(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("RunNow err = %v, want ErrDisabled", err)
	}
	if err := m.Restore(ctx, 1, filepath.Join(t.TempDir(), "x.db")); !errors.Is(err, ErrDisabled) {
		t.Errorf("Restore err = %v, want ErrDisabled", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup err = %v, want nil", err)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(Config{}, nil, nil, discardLogger(), nil)
	// Stop without Start should not panic or block
	m.Stop()

	m2 := NewManager(Config{S3: testS3, Passphrase: "p", Interval: time.Hour}, nil, nil, discardLogger(), nil)
	m2.Start(context.Background())
	m2.Stop()
}

func TestRunNowAndRestore(t *testing.T) {
	m, mock, db := setupManager(t)
	ctx := context.Background()

	if _, err := db.Exec(`INSERT INTO enrollments (user_id, challenge_id, joined_at) VALUES ('u1', 'core7', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var states []State
	m.callback = func(s Status) { states = append(states, s.State) }

	id, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if len(mock.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(mock.objects))
	}
	for key, data := range mock.objects {
		if !strings.HasPrefix(key, "stride/backup-") {
			t.Errorf("key = %q", key)
		}
		if strings.Contains(string(data), "SQLite format 3") {
			t.Error("uploaded object is not encrypted")
		}
	}
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("states = %v", states)
	}

	list, err := m.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Status != model.BackupStatusCompleted {
		t.Errorf("history = %+v", list)
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Restore(ctx, id, dst); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := sql.Open("sqlite", dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var count int
	if err := restored.QueryRow(`SELECT COUNT(*) FROM enrollments`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("restored enrollments = %d, want 1", count)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	id, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	m.cfg.Passphrase = "not-it"
	if err := m.Restore(ctx, id, filepath.Join(t.TempDir(), "restored.db")); err == nil {
		t.Error("expected error restoring with wrong passphrase")
	}
}

func TestRestoreUnknownID(t *testing.T) {
	m, _, _ := setupManager(t)
	err := m.Restore(context.Background(), 999, filepath.Join(t.TempDir(), "x.db"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	m, mock, _ := setupManager(t)
	mock.putErr = errors.New("bucket unreachable")

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}

	list, _ := m.List(10)
	if len(list) != 1 || list[0].Status != model.BackupStatusFailed {
		t.Errorf("history = %+v", list)
	}
	if !strings.Contains(list[0].ErrorMessage, "bucket unreachable") {
		t.Errorf("error message = %q", list[0].ErrorMessage)
	}

	err := m.Restore(context.Background(), list[0].ID, filepath.Join(t.TempDir(), "restored.db"))
	if !errors.Is(err, ErrNotRestorable) {
		t.Errorf("restore of failed backup: err = %v, want ErrNotRestorable", err)
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, mock, db := setupManager(t)
	ctx := context.Background()

	if _, err := m.RunNow(ctx); err != nil {
		t.Fatalf("run now: %v", err)
	}
	mock.objects["stride/old.db.enc"] = []byte("old")
	_, err := db.Exec(`INSERT INTO backups (filename, s3_key, status, created_at) VALUES ('old.db.enc', 'stride/old.db.enc', 'completed', ?)`,
		time.Now().UTC().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("seed old backup: %v", err)
	}

	if err := m.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, ok := mock.objects["stride/old.db.enc"]; ok {
		t.Error("expired object not deleted")
	}
	if len(mock.objects) != 1 {
		t.Errorf("objects = %d, want 1", len(mock.objects))
	}
	list, _ := m.List(10)
	if len(list) != 1 {
		t.Errorf("history = %d rows, want 1", len(list))
	}
}
