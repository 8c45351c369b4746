package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/agenthands/crosscheck/internal/core"
	"github.com/agenthands/crosscheck/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval    = 15 * time.Minute
	defaultConcurrency = 4
	runTimeout         = 10 * time.Minute
)

// Scanner runs one full pass over an engagement.
type Scanner interface {
	Scan(ctx context.Context, engagementID string) (*core.ScanResult, error)
}

// Service rescans the configured engagements on a fixed interval.
type Service struct {
	scanner     Scanner
	engagements []string
	logger      *zap.Logger
	metrics     *telemetry.Metrics

	interval    time.Duration
	concurrency int
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewService(scanner Scanner, engagements []string, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		scanner:     scanner,
		engagements: engagements,
		logger:      logger,
		metrics:     metrics,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		stopCh:      make(chan struct{}),
	}
}

func (s *Service) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *Service) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// Start runs the scan loop in a background goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("conflict scheduler started",
			zap.Duration("interval", s.interval),
			zap.Int("engagements", len(s.engagements)))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("conflict scheduler stopped")
				return
			}
		}
	}()
}

// Stop waits for an in-flight pass to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// RunOnce scans every engagement concurrently. One engagement failing does
// not stop the others; the number of failures is returned.
func (s *Service) RunOnce(ctx context.Context) int {
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, engagementID := range s.engagements {
		g.Go(func() error {
			result, err := s.scanner.Scan(gctx, engagementID)
			if err != nil {
				s.logger.Error("scheduled scan failed",
					zap.String("engagement_id", engagementID),
					zap.Error(err))
				s.metrics.ObserveSchedulerRun("failure")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			s.metrics.ObserveSchedulerRun("success")
			s.logger.Info("scheduled scan complete",
				zap.String("engagement_id", engagementID),
				zap.Int("new_conflicts", result.Detection.NewPersisted),
				zap.Int("classified", len(result.Classified)),
				zap.Int("reclassified", len(result.Reclassified)),
				zap.Int("escalated", len(result.Escalated)))
			return nil
		})
	}
	_ = g.Wait()
	return failed
}
