package syncsvc

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"attend-sync/internal/store"
	"attend-sync/internal/types"
)

// ConnectivityChannel carries connectivity-restored notifications. Any
// publish on it triggers an immediate sync pass.
const ConnectivityChannel = "attend:connectivity"

// Status is the point-in-time view served by the sync status endpoint.
// LastError stays empty until failures repeat past the visibility
// threshold, so a single flaky attempt does not alarm operators.
type Status struct {
	Syncing             bool       `json:"syncing"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Service runs the reconciler on a schedule and on demand. Triggers
// coalesce: a force request during a running pass queues at most one
// follow-up pass.
type Service struct {
	reconciler *Reconciler
	store      store.Store
	interval   time.Duration
	threshold  int

	triggerChan chan struct{}
	stopChan    chan struct{}
	wg          sync.WaitGroup

	mu           sync.Mutex
	syncing      bool
	lastSyncAt   *time.Time
	lastErr      error
	failureCount int
}

// NewService creates the sync service.
func NewService(reconciler *Reconciler, storage store.Store, configManager types.ConfigManager) *Service {
	syncCfg := configManager.GetSyncConfig()
	return &Service{
		reconciler:  reconciler,
		store:       storage,
		interval:    time.Duration(syncCfg.IntervalSeconds) * time.Second,
		threshold:   syncCfg.ErrorVisibilityThreshold,
		triggerChan: make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// Start launches the background loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	logrus.WithField("interval", s.interval).Info("Sync service started")
}

// Stop shuts the loop down, waiting up to the context deadline for an
// in-flight pass to finish.
func (s *Service) Stop(ctx context.Context) {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Sync service stopped")
	case <-ctx.Done():
		logrus.Warn("Sync service stop timed out")
	}
}

// Force requests an immediate sync pass. It never blocks; if a trigger is
// already queued the request coalesces with it.
func (s *Service) Force() {
	select {
	case s.triggerChan <- struct{}{}:
	default:
	}
}

// Status reports the current sync state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		Syncing:             s.syncing,
		LastSyncAt:          s.lastSyncAt,
		ConsecutiveFailures: s.failureCount,
	}
	if s.lastErr != nil && s.failureCount >= s.threshold {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	connectivity, sub := s.subscribeConnectivity()
	if sub != nil {
		defer sub.Close()
	}

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.syncPass()
		case <-s.triggerChan:
			s.syncPass()
		case _, ok := <-connectivity:
			if !ok {
				connectivity = nil
				continue
			}
			logrus.Debug("Connectivity event received, triggering sync")
			s.syncPass()
		}
	}
}

func (s *Service) subscribeConnectivity() (<-chan *store.Message, store.Subscription) {
	if s.store == nil {
		return nil, nil
	}
	sub, err := s.store.Subscribe(ConnectivityChannel)
	if err != nil {
		logrus.WithError(err).Warn("Connectivity subscription unavailable, relying on ticker only")
		return nil, nil
	}
	return sub.Channel(), sub
}

func (s *Service) syncPass() {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return
	}
	s.syncing = true
	s.mu.Unlock()

	ctx := context.Background()
	synced, err := s.reconciler.SyncOnce(ctx)

	now := time.Now()
	s.mu.Lock()
	s.syncing = false
	s.lastSyncAt = &now
	if err != nil {
		s.lastErr = err
		s.failureCount++
	} else {
		s.lastErr = nil
		s.failureCount = 0
	}
	failures := s.failureCount
	s.mu.Unlock()

	if err != nil {
		logrus.WithError(err).WithField("consecutive_failures", failures).Warn("Sync pass failed")
		return
	}
	if synced > 0 {
		logrus.WithField("synced", synced).Info("Sync pass complete")
	}
}
