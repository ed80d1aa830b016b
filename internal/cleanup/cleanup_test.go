package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/test/scratch")

	if cfg.ScratchDir != "/test/scratch" {
		t.Errorf("ScratchDir = %q, want %q", cfg.ScratchDir, "/test/scratch")
	}
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want %v", cfg.Interval, 5*time.Minute)
	}
	if cfg.SegmentRetention != 1*time.Hour {
		t.Errorf("SegmentRetention = %v, want %v", cfg.SegmentRetention, 1*time.Hour)
	}
	if cfg.DiskWarnPercent != 80.0 {
		t.Errorf("DiskWarnPercent = %f, want 80.0", cfg.DiskWarnPercent)
	}
	if cfg.DiskErrorPercent != 90.0 {
		t.Errorf("DiskErrorPercent = %f, want 90.0", cfg.DiskErrorPercent)
	}
}

func TestNew(t *testing.T) {
	cfg := Config{
		ScratchDir:       "/custom/scratch",
		Interval:         10 * time.Minute,
		SegmentRetention: 2 * time.Hour,
		DiskWarnPercent:  75.0,
		DiskErrorPercent: 85.0,
	}

	cleaner := New(cfg)

	if cleaner.scratchDir != "/custom/scratch" {
		t.Errorf("scratchDir = %q, want %q", cleaner.scratchDir, "/custom/scratch")
	}
	if cleaner.interval != 10*time.Minute {
		t.Errorf("interval = %v, want %v", cleaner.interval, 10*time.Minute)
	}
	if cleaner.retention != 2*time.Hour {
		t.Errorf("retention = %v, want %v", cleaner.retention, 2*time.Hour)
	}
	if cleaner.diskWarn != 75.0 {
		t.Errorf("diskWarn = %f, want 75.0", cleaner.diskWarn)
	}
	if cleaner.diskError != 85.0 {
		t.Errorf("diskError = %f, want 85.0", cleaner.diskError)
	}
}

func TestCleaner_StartStop(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		ScratchDir:       tmpDir,
		Interval:         100 * time.Millisecond, // Fast for testing
		SegmentRetention: 1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}

	cleaner := New(cfg)
	cleaner.Start()

	// Give it time to run at least once
	time.Sleep(150 * time.Millisecond)

	cleaner.Stop()

	// Verify it stopped (no panic, no hanging)
}

func TestCleaner_CleanupOrphanedSegments(t *testing.T) {
	tmpDir := t.TempDir()

	// Create some .shm files with different ages
	oldSegment := filepath.Join(tmpDir, "old-session-node.shm")
	newSegment := filepath.Join(tmpDir, "new-session-node.shm")
	regularFile := filepath.Join(tmpDir, "regular.txt")

	_ = os.WriteFile(oldSegment, []byte("old"), 0o644)
	_ = os.WriteFile(newSegment, []byte("new"), 0o644)
	_ = os.WriteFile(regularFile, []byte("keep"), 0o644)

	// Make old file appear old
	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(oldSegment, oldTime, oldTime)

	cfg := Config{
		ScratchDir:       tmpDir,
		Interval:         1 * time.Hour, // Won't run during test
		SegmentRetention: 1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}

	cleaner := New(cfg)
	cleaner.cleanupOrphanedSegments()

	// Old .shm should be removed
	if _, err := os.Stat(oldSegment); !errors.Is(err, fs.ErrNotExist) {
		t.Error("old .shm segment should have been removed")
	}

	// New .shm should still exist
	if _, err := os.Stat(newSegment); err != nil {
		t.Error("new .shm segment should still exist")
	}

	// Regular file should still exist
	if _, err := os.Stat(regularFile); err != nil {
		t.Error("regular file should still exist")
	}
}

func TestCleaner_CleanupOrphanedSegments_Nested(t *testing.T) {
	tmpDir := t.TempDir()

	// Create nested directory structure
	nestedDir := filepath.Join(tmpDir, "session-1")
	_ = os.MkdirAll(nestedDir, 0o755)

	nestedSegment := filepath.Join(nestedDir, "nested-node.shm")
	_ = os.WriteFile(nestedSegment, []byte("nested"), 0o644)

	// Make it old
	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(nestedSegment, oldTime, oldTime)

	cfg := Config{
		ScratchDir:       tmpDir,
		SegmentRetention: 1 * time.Hour,
	}

	cleaner := New(cfg)
	cleaner.cleanupOrphanedSegments()

	// Nested old .shm should be removed
	if _, err := os.Stat(nestedSegment); !errors.Is(err, fs.ErrNotExist) {
		t.Error("nested old .shm segment should have been removed")
	}
}

func TestCleaner_DiskUsage(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		ScratchDir: tmpDir,
	}

	cleaner := New(cfg)
	used, total, percent, err := cleaner.DiskUsage()

	if err != nil {
		t.Fatalf("DiskUsage() error = %v", err)
	}

	if total == 0 {
		t.Error("total bytes should be > 0")
	}
	if used > total {
		t.Error("used bytes should be <= total bytes")
	}
	if percent < 0 || percent > 100 {
		t.Errorf("percent = %f, should be between 0 and 100", percent)
	}
}

func TestCleaner_DiskUsage_InvalidPath(t *testing.T) {
	cfg := Config{
		ScratchDir: "/nonexistent/path/that/does/not/exist",
	}

	cleaner := New(cfg)
	_, _, _, err := cleaner.DiskUsage()

	if err == nil {
		t.Error("expected error for nonexistent path")
	}
}

func TestCleaner_CheckDiskUsage(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		ScratchDir:       tmpDir,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}

	cleaner := New(cfg)

	// This should not panic - just logs warnings if disk is high
	cleaner.checkDiskUsage()
}

func TestCleaner_RunCleanup(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		ScratchDir:       tmpDir,
		SegmentRetention: 1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}

	cleaner := New(cfg)

	// Should run all cleanup tasks without panic
	cleaner.runCleanup()
}
