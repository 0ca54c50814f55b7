package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/dispatch/model"
	"github.com/coregx/dispatch/retry"
)

// ServiceState tracks the dispatch service lifecycle.
type ServiceState int32

const (
	// StateUninitialized is the zero state before Init.
	StateUninitialized ServiceState = iota
	// StateInitialized means migrations ran and bucket managers are allocated.
	StateInitialized
	// StateConsuming means the broker consumer and bucket managers are running.
	StateConsuming
	// StateShuttingDown means Shutdown started and no new events are accepted.
	StateShuttingDown
	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s ServiceState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateConsuming:
		return "CONSUMING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DispatchService orchestrates the event pipeline: it owns the broker
// consumer, the bucket router and managers, the delivery worker pool, the
// recovery runner and the subscription reaper.
//
// Lifecycle: Init (migrate store, allocate buckets) -> Run (consume and
// route events; blocks) -> Shutdown. Workers and the reaper start and stop
// independently of event ingestion so operational tooling can pause
// delivery or reaping without stopping intake.
//
// The bucket count is fixed at Init; changing it requires a restart
// because routing is a pure function of the partition key and the count.
type DispatchService struct {
	broker      BrokerGateway
	subs        SubscriptionRepository
	notifs      NotificationRepository
	recovery    RecoveryRepository
	series      SeriesRepository
	ledger      EventLedgerRepository
	transmitter *Transmitter
	monitor     Monitor
	logger      Logger

	db     *sql.DB // optional, for migrations
	driver string

	bucketCount    int
	queueSize      int
	workerCount    int
	policy         retry.Policy
	recoveryPolicy retry.RecoveryPolicy
	pollInterval   time.Duration
	reapInterval   time.Duration

	mu       sync.Mutex
	state    ServiceState
	router   *BucketRouter
	buckets  []*BucketManager
	handoff  chan model.Notification
	consumer ConsumerHandle

	workersCancel context.CancelFunc
	workersDone   chan struct{}
	reaperCancel  context.CancelFunc
	reaperDone    chan struct{}
}

// ServiceOption configures a DispatchService.
type ServiceOption func(*DispatchService) error

// NewDispatchService creates a dispatch service with the provided options.
//
// Required options:
//   - WithServiceBroker: the broker gateway
//   - WithServiceStores: all five repositories
//   - WithServiceTransmitter: the delivery transmitter
//
// Optional options:
//   - WithServiceBuckets (default 4), WithServiceQueueSize (default 64)
//   - WithServiceWorkers (default 4)
//   - WithServicePolicy / WithServiceRecoveryPolicy
//   - WithServiceMigrations: run embedded migrations during Init
//   - WithServicePollInterval (default 30s), WithServiceReapInterval (default 1m)
//   - WithServiceMonitor (default NoOpMonitor), WithServiceLogger (default NoopLogger)
func NewDispatchService(opts ...ServiceOption) (*DispatchService, error) {
	s := &DispatchService{
		monitor:        &NoOpMonitor{},
		logger:         &NoopLogger{},
		bucketCount:    4,
		queueSize:      64,
		workerCount:    4,
		policy:         retry.DefaultPolicy(),
		recoveryPolicy: retry.DefaultRecoveryPolicy(),
		pollInterval:   30 * time.Second,
		reapInterval:   time.Minute,
		state:          StateUninitialized,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply service option", err)
		}
	}

	if s.broker == nil {
		return nil, NewError(ErrCodeConfiguration, "BrokerGateway is required (use WithServiceBroker)")
	}
	if s.subs == nil || s.notifs == nil || s.recovery == nil || s.series == nil || s.ledger == nil {
		return nil, NewError(ErrCodeConfiguration, "all repositories are required (use WithServiceStores)")
	}
	if s.transmitter == nil {
		return nil, NewError(ErrCodeConfiguration, "Transmitter is required (use WithServiceTransmitter)")
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	if err := s.recoveryPolicy.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// WithServiceBroker sets the required broker gateway.
func WithServiceBroker(broker BrokerGateway) ServiceOption {
	return func(s *DispatchService) error {
		if broker == nil {
			return NewError(ErrCodeConfiguration, "broker gateway cannot be nil")
		}
		s.broker = broker
		return nil
	}
}

// WithServiceStores sets the required repositories.
func WithServiceStores(
	subs SubscriptionRepository,
	notifs NotificationRepository,
	recovery RecoveryRepository,
	series SeriesRepository,
	ledger EventLedgerRepository,
) ServiceOption {
	return func(s *DispatchService) error {
		if subs == nil || notifs == nil || recovery == nil || series == nil || ledger == nil {
			return NewError(ErrCodeConfiguration, "repositories cannot be nil")
		}
		s.subs = subs
		s.notifs = notifs
		s.recovery = recovery
		s.series = series
		s.ledger = ledger
		return nil
	}
}

// WithServiceTransmitter sets the required delivery transmitter.
func WithServiceTransmitter(t *Transmitter) ServiceOption {
	return func(s *DispatchService) error {
		if t == nil {
			return NewError(ErrCodeConfiguration, "transmitter cannot be nil")
		}
		s.transmitter = t
		return nil
	}
}

// WithServiceMigrations makes Init apply the embedded schema migrations
// against db before anything else. driver must be one of "mysql",
// "postgres" or "sqlite3".
func WithServiceMigrations(db *sql.DB, driver string) ServiceOption {
	return func(s *DispatchService) error {
		if db == nil {
			return NewError(ErrCodeConfiguration, "migration database handle cannot be nil")
		}
		s.db = db
		s.driver = driver
		return nil
	}
}

// WithServiceBuckets sets the bucket count. Fixed for the process lifetime.
func WithServiceBuckets(n int) ServiceOption {
	return func(s *DispatchService) error {
		if n <= 0 {
			return NewError(ErrCodeConfiguration, "bucket count must be > 0")
		}
		s.bucketCount = n
		return nil
	}
}

// WithServiceQueueSize sets the per-bucket queue bound.
func WithServiceQueueSize(n int) ServiceOption {
	return func(s *DispatchService) error {
		if n <= 0 {
			return NewError(ErrCodeConfiguration, "queue size must be > 0")
		}
		s.queueSize = n
		return nil
	}
}

// WithServiceWorkers sets the delivery worker pool size.
func WithServiceWorkers(n int) ServiceOption {
	return func(s *DispatchService) error {
		if n <= 0 {
			return NewError(ErrCodeConfiguration, "worker count must be > 0")
		}
		s.workerCount = n
		return nil
	}
}

// WithServicePolicy sets the inline delivery retry policy.
func WithServicePolicy(p retry.Policy) ServiceOption {
	return func(s *DispatchService) error {
		s.policy = p
		return nil
	}
}

// WithServiceRecoveryPolicy sets the recovery loop policy.
func WithServiceRecoveryPolicy(p retry.RecoveryPolicy) ServiceOption {
	return func(s *DispatchService) error {
		s.recoveryPolicy = p
		return nil
	}
}

// WithServicePollInterval sets how often workers poll the store for
// notifications that missed the in-memory hand-off.
func WithServicePollInterval(d time.Duration) ServiceOption {
	return func(s *DispatchService) error {
		if d <= 0 {
			return NewError(ErrCodeConfiguration, "poll interval must be > 0")
		}
		s.pollInterval = d
		return nil
	}
}

// WithServiceReapInterval sets how often expired subscriptions are reaped.
func WithServiceReapInterval(d time.Duration) ServiceOption {
	return func(s *DispatchService) error {
		if d <= 0 {
			return NewError(ErrCodeConfiguration, "reap interval must be > 0")
		}
		s.reapInterval = d
		return nil
	}
}

// WithServiceMonitor sets the monitor receiving pipeline callbacks.
func WithServiceMonitor(m Monitor) ServiceOption {
	return func(s *DispatchService) error {
		if m == nil {
			return NewError(ErrCodeConfiguration, "monitor cannot be nil")
		}
		s.monitor = m
		return nil
	}
}

// WithServiceLogger sets the logger instance.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *DispatchService) error {
		if logger == nil {
			return NewError(ErrCodeConfiguration, "logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// State returns the current lifecycle state.
func (s *DispatchService) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init applies store migrations (when configured) and allocates the bucket
// router, the per-bucket managers and the worker hand-off queue. It must be
// called exactly once before Run.
func (s *DispatchService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return NewError(ErrCodeConfiguration, fmt.Sprintf("cannot init from state %s", s.state))
	}

	if s.db != nil {
		if err := ApplyMigrations(s.db, s.driver); err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to apply migrations", err)
		}
		s.logger.Info("Store migrations applied")
	}

	router, err := NewBucketRouter(s.bucketCount)
	if err != nil {
		return err
	}
	s.router = router

	// Sized for one poll batch per bucket so a burst does not immediately
	// fall back to store polling.
	s.handoff = make(chan model.Notification, s.bucketCount*s.queueSize)

	s.buckets = make([]*BucketManager, s.bucketCount)
	for i := 0; i < s.bucketCount; i++ {
		bm, err := NewBucketManager(i, s.queueSize, s.broker, s.subs, s.notifs, s.series, s.ledger, s.handoff, s.logger)
		if err != nil {
			return err
		}
		s.buckets[i] = bm
	}

	s.state = StateInitialized
	s.logger.Infof("Dispatch service initialized: buckets=%d, queueSize=%d", s.bucketCount, s.queueSize)
	return nil
}

// Run starts the bucket managers and the broker consumer and blocks until
// ctx is canceled. Events are routed by partition key to their bucket and
// enqueued with backpressure; the single consumer goroutine blocks when a
// bucket queue is full.
func (s *DispatchService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitialized {
		s.mu.Unlock()
		return NewError(ErrCodeConfiguration, fmt.Sprintf("cannot run from state %s", s.state))
	}
	s.state = StateConsuming

	bucketCtx, stopBuckets := context.WithCancel(ctx)
	defer stopBuckets()

	var wg sync.WaitGroup
	for _, bm := range s.buckets {
		wg.Add(1)
		go func(bm *BucketManager) {
			defer wg.Done()
			bm.Run(bucketCtx)
		}(bm)
	}

	handle, err := s.broker.Consume(ctx, func(d *Delivery) {
		bucket := s.router.Route(d.Event)
		if err := s.buckets[bucket].Enqueue(bucketCtx, d); err != nil {
			// Not acked; the broker redelivers after restart.
			s.logger.Warnf("Dropped delivery for event %s during shutdown: %v", d.Event.UUID, err)
		}
	})
	if err != nil {
		s.state = StateInitialized
		s.mu.Unlock()
		stopBuckets()
		wg.Wait()
		return NewErrorWithCause(ErrCodeBroker, "failed to start broker consumer", err)
	}
	s.consumer = handle
	s.mu.Unlock()

	s.logger.Info("Dispatch service consuming")
	<-ctx.Done()

	s.mu.Lock()
	s.state = StateShuttingDown
	s.mu.Unlock()

	if err := handle.Stop(); err != nil {
		s.logger.Warnf("Failed to stop broker consumer: %v", err)
	}
	wg.Wait()
	s.logger.Info("Dispatch service stopped consuming")
	return nil
}

// StartWorkers starts the delivery worker pool and the recovery runner.
// They run until StopWorkers or Shutdown. Safe to call only once per start.
func (s *DispatchService) StartWorkers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handoff == nil {
		return NewError(ErrCodeConfiguration, "service is not initialized")
	}
	if s.workersCancel != nil {
		return NewError(ErrCodeConfiguration, "workers are already running")
	}

	pool, err := NewDeliveryWorkerPool(s.handoff, s.bucketCount,
		WithWorkerStores(s.notifs, s.recovery),
		WithWorkerTransmitter(s.transmitter),
		WithWorkerCount(s.workerCount),
		WithWorkerPolicy(s.policy),
		WithWorkerRecoveryPolicy(s.recoveryPolicy),
		WithWorkerMonitor(s.monitor),
		WithWorkerLogger(s.logger),
	)
	if err != nil {
		return err
	}

	runner, err := NewRecoveryRunner(s.recovery, s.transmitter, s.recoveryPolicy, s.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.workersCancel = cancel
	s.workersDone = done

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			pool.Run(ctx, s.pollInterval)
		}()
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
		wg.Wait()
	}()

	s.logger.Infof("Delivery workers started: workers=%d, schedule=%s", s.workerCount, pool.Schedule())
	return nil
}

// StopWorkers stops the delivery worker pool and recovery runner, waiting
// for in-flight attempts to finish or time out.
func (s *DispatchService) StopWorkers() {
	s.mu.Lock()
	cancel, done := s.workersCancel, s.workersDone
	s.workersCancel, s.workersDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Delivery workers stopped")
}

// StartReaper starts the expired-subscription reaper.
func (s *DispatchService) StartReaper() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reaperCancel != nil {
		return NewError(ErrCodeConfiguration, "reaper is already running")
	}

	reaper, err := NewReaper(s.subs, s.reapInterval, s.monitor, s.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.reaperCancel = cancel
	s.reaperDone = done

	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	s.logger.Infof("Subscription reaper started: interval=%v", s.reapInterval)
	return nil
}

// StopReaper stops the expired-subscription reaper.
func (s *DispatchService) StopReaper() {
	s.mu.Lock()
	cancel, done := s.reaperCancel, s.reaperDone
	s.reaperCancel, s.reaperDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Subscription reaper stopped")
}

// Shutdown stops workers and the reaper and closes the broker connection
// within the given timeout. In-flight delivery attempts run to completion
// or to their own attempt timeout; no hard kill.
func (s *DispatchService) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		s.StopWorkers()
		s.StopReaper()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		s.logger.Warnf("Shutdown timed out after %v waiting for workers", timeout)
	}

	if err := s.broker.Close(); err != nil {
		s.logger.Errorf("Failed to close broker: %v", err)
		s.setState(StateStopped)
		return NewErrorWithCause(ErrCodeBroker, "failed to close broker", err)
	}

	s.setState(StateStopped)
	s.logger.Info("Dispatch service stopped")
	return nil
}

func (s *DispatchService) setState(st ServiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
