package repository

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireExclusiveThenContend(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireExclusive(dir, "host-a")
	if err != nil {
		t.Fatalf("AcquireExclusive() failed: %v", err)
	}

	if _, err := AcquireExclusive(dir, "host-b"); err == nil {
		t.Error("second AcquireExclusive() from a different host should fail while first is held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	lock2, err := AcquireExclusive(dir, "host-b")
	if err != nil {
		t.Fatalf("AcquireExclusive() after release failed: %v", err)
	}
	lock2.Release()
}

func TestAcquireExclusiveBreaksStaleSameHostLock(t *testing.T) {
	dir := t.TempDir()

	lockPath := filepath.Join(dir, "lock.exclusive")
	if err := os.MkdirAll(lockPath, 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	// A pid that is essentially guaranteed not to exist.
	if err := writeLockInfo(lockPath, LockInfo{HostID: "host-a", PID: 999999}); err != nil {
		t.Fatalf("writeLockInfo() failed: %v", err)
	}

	lock, err := AcquireExclusive(dir, "host-a")
	if err != nil {
		t.Fatalf("AcquireExclusive() should break a stale same-host lock: %v", err)
	}
	lock.Release()
}

func TestAcquireSharedDoesNotConflict(t *testing.T) {
	dir := t.TempDir()

	l1, err := AcquireShared(dir, "host-a", "reader-1")
	if err != nil {
		t.Fatalf("AcquireShared() failed: %v", err)
	}
	l2, err := AcquireShared(dir, "host-a", "reader-2")
	if err != nil {
		t.Fatalf("second AcquireShared() failed: %v", err)
	}
	l1.Release()
	l2.Release()
}
