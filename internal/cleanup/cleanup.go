// Package cleanup provides background resource cleanup for the runtime's
// shared-memory scratch directory.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mediacore/pipelinecore/internal/logger"
)

// Cleaner performs periodic resource cleanup.
type Cleaner struct {
	scratchDir string
	interval   time.Duration
	retention  time.Duration
	diskWarn   float64
	diskError  float64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	ScratchDir       string        // Directory backing shared-memory segments (internal/ipc.ScratchDir)
	Interval         time.Duration // How often to run cleanup
	SegmentRetention time.Duration // How long an unreferenced .shm segment may linger
	DiskWarnPercent  float64       // Warn at this disk usage percentage
	DiskErrorPercent float64       // Error at this disk usage percentage
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(scratchDir string) Config {
	return Config{
		ScratchDir:       scratchDir,
		Interval:         5 * time.Minute,
		SegmentRetention: 1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		scratchDir: cfg.ScratchDir,
		interval:   cfg.Interval,
		retention:  cfg.SegmentRetention,
		diskWarn:   cfg.DiskWarnPercent,
		diskError:  cfg.DiskErrorPercent,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		// Run immediately on start
		c.runCleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runCleanup()
			}
		}
	}()

	logger.Printf("cleanup started (interval=%v, retention=%v)", c.interval, c.retention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Println("cleanup stopped")
	}
}

// runCleanup performs all cleanup tasks.
func (c *Cleaner) runCleanup() {
	c.cleanupOrphanedSegments()
	c.checkDiskUsage()
}

// cleanupOrphanedSegments removes .shm segment files older than retention.
// A session's executors remove their own segments via internal/ipc.Remove
// on normal close; this is the backstop for segments left behind by a
// crashed process or a session that never reached a clean Close.
func (c *Cleaner) cleanupOrphanedSegments() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	err := filepath.Walk(c.scratchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".shm") {
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
		return nil
	})

	if err != nil {
		logger.Printf("cleanup walk error: %v", err)
	}
	if removed > 0 {
		logger.Printf("removed %d orphaned shared-memory segment(s)", removed)
	}
}

// checkDiskUsage monitors disk usage and logs warnings.
func (c *Cleaner) checkDiskUsage() {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.scratchDir, &stat); err != nil {
		return
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := total - free
	usedPercent := float64(used) / float64(total) * 100

	if usedPercent >= c.diskError {
		logger.Printf("CRITICAL: disk usage at %.1f%% (scratch dir)", usedPercent)
	} else if usedPercent >= c.diskWarn {
		logger.Printf("WARNING: disk usage at %.1f%% (scratch dir)", usedPercent)
	}
}

// DiskUsage returns current disk usage stats.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.scratchDir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return
}
