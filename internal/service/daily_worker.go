package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// DailyWorker preprocesses the lagged oday once per interval
type DailyWorker struct {
	Service  *PreprocessService
	Interval time.Duration
	Now      func() time.Time
	StopChan chan struct{}
	logger   *log.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewDailyWorker creates a worker running every interval
func NewDailyWorker(svc *PreprocessService, interval time.Duration, logger *log.Logger) *DailyWorker {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DailyWorker{
		Service:  svc,
		Interval: interval,
		Now:      time.Now,
		StopChan: make(chan struct{}),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *DailyWorker) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(w.ctx); err != nil {
					w.logger.Printf("[Preprocess] daily run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop cancels an in-flight run and waits for the loop to exit.
// It must only be called after Start.
func (w *DailyWorker) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		close(w.StopChan)
	})
	<-w.done
}

// RunOnce preprocesses all routes of the default oday
func (w *DailyWorker) RunOnce(ctx context.Context) (*PreprocessReport, error) {
	oday := DefaultOday(w.Now(), w.Service.cfg)
	return w.Service.Run(ctx, oday, nil, false)
}
