package history

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	return db
}

func TestOpenEmptyLedger(t *testing.T) {
	db := newTestDB(t)
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got := ledger.Get("eth0", net.IPv4(192, 168, 1, 100)); got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestRecordConflictCreatesAndUpdates(t *testing.T) {
	db := newTestDB(t)
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ip := net.IPv4(192, 168, 1, 100)
	if err := ledger.RecordConflict("eth0", ip, "PROBE", "aa:bb:cc:dd:ee:ff", 1); err != nil {
		t.Fatalf("RecordConflict error: %v", err)
	}

	r := ledger.Get("eth0", ip)
	if r == nil {
		t.Fatal("Get() = nil, want a record")
	}
	if r.Conflicts != 1 || r.LastPhase != "PROBE" {
		t.Errorf("record = %+v, want Conflicts=1 LastPhase=PROBE", r)
	}

	if err := ledger.RecordConflict("eth0", ip, "MONITOR", "aa:bb:cc:dd:ee:ff", 2); err != nil {
		t.Fatalf("RecordConflict error: %v", err)
	}
	r = ledger.Get("eth0", ip)
	if r.Conflicts != 2 || r.LastPhase != "MONITOR" {
		t.Errorf("record after second conflict = %+v, want Conflicts=2 LastPhase=MONITOR", r)
	}
}

func TestRecordQuiescedAndClear(t *testing.T) {
	db := newTestDB(t)
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ip := net.IPv4(192, 168, 1, 100)
	if err := ledger.RecordQuiesced("eth0", ip); err != nil {
		t.Fatalf("RecordQuiesced error: %v", err)
	}
	r := ledger.Get("eth0", ip)
	if r == nil || !r.Quiesced {
		t.Fatalf("record = %+v, want Quiesced=true", r)
	}

	if err := ledger.ClearQuiesced("eth0", ip); err != nil {
		t.Fatalf("ClearQuiesced error: %v", err)
	}
	r = ledger.Get("eth0", ip)
	if r.Quiesced {
		t.Error("Quiesced should be false after ClearQuiesced")
	}
}

func TestForInterfaceFiltersByInterface(t *testing.T) {
	db := newTestDB(t)
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ledger.RecordConflict("eth0", net.IPv4(192, 168, 1, 10), "PROBE", "", 1)
	ledger.RecordConflict("eth0", net.IPv4(192, 168, 1, 11), "PROBE", "", 1)
	ledger.RecordConflict("eth1", net.IPv4(10, 0, 0, 10), "PROBE", "", 1)

	recs := ledger.ForInterface("eth0")
	if len(recs) != 2 {
		t.Errorf("ForInterface(eth0) returned %d records, want 2", len(recs))
	}
}

func TestClearRemovesRecord(t *testing.T) {
	db := newTestDB(t)
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ip := net.IPv4(192, 168, 1, 100)
	ledger.RecordConflict("eth0", ip, "PROBE", "", 1)
	if err := ledger.Clear("eth0", ip); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if got := ledger.Get("eth0", ip); got != nil {
		t.Errorf("Get() after Clear = %+v, want nil", got)
	}
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ledger, err := Open(db)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ip := net.IPv4(192, 168, 1, 100)
	if err := ledger.RecordConflict("eth0", ip, "PROBE", "", 1); err != nil {
		t.Fatalf("RecordConflict error: %v", err)
	}
	db.Close()

	db2, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	t.Cleanup(func() { db2.Close() })

	ledger2, err := Open(db2)
	if err != nil {
		t.Fatalf("Open (reload) error: %v", err)
	}
	r := ledger2.Get("eth0", ip)
	if r == nil || r.Conflicts != 1 {
		t.Errorf("record after reload = %+v, want Conflicts=1", r)
	}
}
