package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	snap     *Snapshot
	version  int
	restored *Snapshot
	dumpErr  error
}

func (f *fakeStore) Dump(_ context.Context) (*Snapshot, error) {
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	return f.snap, nil
}

func (f *fakeStore) Restore(_ context.Context, snap *Snapshot) error {
	f.restored = snap
	return nil
}

func (f *fakeStore) SchemaVersion(_ context.Context) (int, error) { return f.version, nil }

// fakeMirror keeps uploaded archives in memory.
type fakeMirror struct {
	objects   map[string][]byte
	uploadErr error
}

func newFakeMirror() *fakeMirror { return &fakeMirror{objects: map[string][]byte{}} }

func (m *fakeMirror) Upload(_ context.Context, name, path string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.objects[name] = b
	return nil
}

func (m *fakeMirror) Download(_ context.Context, name, path string) error {
	b, ok := m.objects[name]
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(path, b, 0o600)
}

func (m *fakeMirror) List(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func newTestService(t *testing.T, mirror Mirror) (*Service, *fakeStore) {
	t.Helper()
	store := &fakeStore{snap: sampleSnapshot(), version: 2}
	svc := NewService(store, filepath.Join(t.TempDir(), "backups"), mirror, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC) }
	return svc, store
}

func TestService_CreateAndRestore(t *testing.T) {
	mirror := newFakeMirror()
	svc, store := newTestService(t, mirror)
	ctx := context.Background()

	info, err := svc.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Name != "clinic-20240610T153000Z.db" || !info.Local || !info.Remote || info.Size == 0 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Counts["citas"] != 1 {
		t.Errorf("unexpected counts %v", info.Counts)
	}
	if _, ok := mirror.objects[info.Name]; !ok {
		t.Error("archive should be uploaded to the mirror")
	}
	if _, err := os.Stat(filepath.Join(svc.dir, info.Name+".tmp")); !os.IsNotExist(err) {
		t.Error("temporary file should be gone")
	}

	if _, err := svc.Create(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("second backup in the same second should be refused, got %v", err)
	}

	m, err := svc.Restore(ctx, info.Name)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if m.SchemaVersion != 2 {
		t.Errorf("unexpected manifest %+v", m)
	}
	if store.restored == nil || len(store.restored.Appointments) != 1 ||
		store.restored.Appointments[0].ID != store.snap.Appointments[0].ID {
		t.Errorf("restore should receive the archived snapshot")
	}
}

func TestService_RestoreFromMirror(t *testing.T) {
	mirror := newFakeMirror()
	svc, store := newTestService(t, mirror)
	ctx := context.Background()

	info, err := svc.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(svc.dir, info.Name)); err != nil {
		t.Fatal(err)
	}

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Local || !items[0].Remote {
		t.Fatalf("expected one remote-only archive, got %+v", items)
	}

	if _, err := svc.Restore(ctx, info.Name); err != nil {
		t.Fatalf("restore from mirror: %v", err)
	}
	if store.restored == nil {
		t.Error("store should be restored")
	}
	if _, err := os.Stat(filepath.Join(svc.dir, info.Name)); err != nil {
		t.Error("downloaded archive should be kept locally")
	}
}

func TestService_RestoreErrors(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	for _, name := range []string{"../../etc/passwd", "clinic-latest.db", "", "clinic-20240610T153000Z.db/x"} {
		if _, err := svc.Restore(ctx, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("%q: expected ErrInvalidName, got %v", name, err)
		}
	}
	if _, err := svc.Restore(ctx, "clinic-20200101T000000Z.db"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	info, err := svc.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	store.version = 3
	if _, err := svc.Restore(ctx, info.Name); !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
	if store.restored != nil {
		t.Error("incompatible archive must not be restored")
	}
}

func TestService_MirrorFailureKeepsLocalBackup(t *testing.T) {
	mirror := newFakeMirror()
	mirror.uploadErr = errors.New("connection refused")
	svc, _ := newTestService(t, mirror)

	info, err := svc.Create(context.Background())
	if err != nil {
		t.Fatalf("create should succeed without the mirror: %v", err)
	}
	if info.Remote || !info.Local {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestService_DumpFailure(t *testing.T) {
	svc, store := newTestService(t, nil)
	store.dumpErr = errors.New("connection reset")
	if _, err := svc.Create(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	items, _ := svc.List(context.Background())
	if len(items) != 0 {
		t.Errorf("no archive should be left behind, got %+v", items)
	}
}

func TestService_ListOrder(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	for _, ts := range []time.Time{
		time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC),
	} {
		ts := ts
		svc.now = func() time.Time { return ts }
		if _, err := svc.Create(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(svc.dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Name != "clinic-20240611T080000Z.db" {
		t.Fatalf("unexpected list %+v", items)
	}
	if !items[1].CreatedAt.Equal(time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at should come from the name, got %v", items[1].CreatedAt)
	}
}
