//go:build integration

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/db/dbtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, cleanup, err := dbtest.Start(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestPGStore_DumpArchiveRestore(t *testing.T) {
	ctx := context.Background()
	if err := dbtest.Reset(ctx, testPool); err != nil {
		t.Fatal(err)
	}
	store := NewPGStore(testPool, db.NewTxManager(testPool))

	want := sampleSnapshot()
	if err := store.Restore(ctx, want); err != nil {
		t.Fatalf("seed via restore: %v", err)
	}

	dumped, err := store.Dump(ctx)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	for table, n := range want.Counts() {
		if dumped.Counts()[table] != n {
			t.Errorf("%s: dumped %d rows, want %d", table, dumped.Counts()[table], n)
		}
	}
	a := dumped.Appointments[0]
	if a.EndTime != "24:00:00" || a.Price != "35.50" || a.BonoID == nil {
		t.Errorf("unexpected dumped appointment %+v", a)
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil || version == 0 {
		t.Fatalf("schema version %d: %v", version, err)
	}
	path := filepath.Join(t.TempDir(), "clinic-20240610T120000Z.db")
	if err := WriteArchive(path, dumped, Manifest{SchemaVersion: version}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := testPool.Exec(ctx, `UPDATE citas SET motivo = 'changed'`); err != nil {
		t.Fatal(err)
	}

	snap, _, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := store.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	var reason string
	if err := testPool.QueryRow(ctx, `SELECT motivo FROM citas`).Scan(&reason); err != nil {
		t.Fatal(err)
	}
	if reason != "Tratamiento" {
		t.Errorf("restore should bring back the archived row, got %q", reason)
	}
}
