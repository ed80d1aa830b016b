package limits

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/logger"
)

// Sampler periodically reads host CPU and memory utilization from /proc and
// feeds it to a Manager's SetPressure, so load shedding reacts to actual
// host pressure rather than only to the admission gates filling up. Shaped
// after internal/cleanup.Cleaner's start/stop/ticker lifecycle.
type Sampler struct {
	mgr      *Manager
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	prevIdle  uint64
	prevTotal uint64
}

// NewSampler returns a Sampler feeding mgr every interval. A non-positive
// interval defaults to 5s.
func NewSampler(mgr *Manager, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{mgr: mgr, interval: interval}
}

// Start begins sampling on a background goroutine. Calling Start twice
// without an intervening Stop leaks the first goroutine.
func (s *Sampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts sampling and waits for the background goroutine to exit.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sampler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpuPercent, err := s.cpuPercent()
	if err != nil {
		logger.Printf("pressure sampler: cpu read failed: %v", err)
		return
	}
	memPercent, err := memPercent()
	if err != nil {
		logger.Printf("pressure sampler: memory read failed: %v", err)
		return
	}
	s.mgr.SetPressure(cpuPercent, memPercent)
}

// cpuPercent reads aggregate CPU utilization since the previous sample from
// /proc/stat's "cpu" summary line, returning 0 on the first call (no prior
// sample to diff against).
func (s *Sampler) cpuPercent() (int, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, scanner.Err()
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, nil
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		total += v
		if i == 3 { // idle is the 4th field after "cpu"
			idle = v
		}
	}

	defer func() { s.prevIdle, s.prevTotal = idle, total }()
	if s.prevTotal == 0 {
		return 0, nil
	}

	deltaTotal := total - s.prevTotal
	deltaIdle := idle - s.prevIdle
	if deltaTotal == 0 {
		return 0, nil
	}
	return int(100 * (deltaTotal - deltaIdle) / deltaTotal), nil
}

// memPercent reads used-memory percentage from /proc/meminfo's
// MemTotal/MemAvailable fields.
func memPercent() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return int(100 * (total - available) / total), nil
}
