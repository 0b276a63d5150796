package mailstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/sequence"
	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// lifecycle is implemented by auxiliary backends that need connecting.
type lifecycle interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// service is the default implementation of Service.
type service struct {
	store      store.Store
	sequences  *sequence.Allocator
	counters   store.SequenceStore
	quotas     store.QuotaStore
	mapper     mapper.Mapper
	listeners  *events.Registry
	codecs     *events.CodecRegistry
	logger     *slog.Logger
	opts       *options
	state      int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins    *pluginRegistry
	otel       *otelInstrumentation
	mutateSem  *semaphore.Weighted // Limits concurrent mutations to prevent resource exhaustion
	auxiliary  []lifecycle         // separately configured sequence/quota backends
	eventBus   *event.Bus          // Event bus for publishing events
	busEvent   event.Event[events.Envelope]
	quotaOwner *events.Registration
}

// Compile-time check that service implements Service.
var _ Service = (*service)(nil)

// NewService creates a new mailbox service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	// Initialize plugin registry
	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	s := &service{
		store:     o.store,
		logger:    o.logger,
		opts:      o,
		plugins:   plugins,
		otel:      otelInstr,
		mutateSem: semaphore.NewWeighted(int64(o.maxConcurrentMutations)),
	}

	var seqStore store.SequenceStore = o.store
	if o.sequences != nil {
		seqStore = o.sequences
		s.addAuxiliary(o.sequences)
	}
	s.counters = seqStore
	s.sequences = sequence.New(seqStore, sequence.WithLogger(o.logger))

	s.quotas = o.store
	if o.quotas != nil {
		s.quotas = o.quotas
		s.addAuxiliary(o.quotas)
	}

	switch {
	case o.mapper != nil:
		s.mapper = o.mapper
	default:
		if b, ok := o.store.(store.TxBeginner); ok {
			s.mapper = mapper.NewTransactional(b, mapper.WithLogger(o.logger))
		} else {
			s.mapper = mapper.NewNonTransactional()
		}
	}

	s.listeners = o.listeners
	if s.listeners == nil {
		ropts := []events.RegistryOption{events.WithRegistryLogger(o.logger)}
		if o.deadLetters != nil {
			ropts = append(ropts, events.WithDeadLetters(o.deadLetters))
		}
		s.listeners = events.NewRegistry(ropts...)
	}

	s.codecs = o.codecs
	if s.codecs == nil {
		s.codecs = events.DefaultCodecRegistry()
	}

	return s, nil
}

// addAuxiliary tracks a backend that has its own lifecycle, once.
func (s *service) addAuxiliary(b any) {
	l, ok := b.(lifecycle)
	if !ok || b == any(s.store) {
		return
	}
	for _, existing := range s.auxiliary {
		if any(existing) == b {
			return
		}
	}
	s.auxiliary = append(s.auxiliary, l)
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	for i, aux := range s.auxiliary {
		if err := aux.Connect(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.auxiliary[j].Close(ctx)
			}
			s.store.Close(ctx)
			return fmt.Errorf("connect auxiliary backend: %w", err)
		}
	}

	// Initialize event bus with appropriate transport
	if err := s.initEventBus(ctx); err != nil {
		s.closeBackends(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	// Initialize plugins
	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.closeBackends(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	if s.opts.quotaUpdater {
		s.quotaOwner = s.listeners.RegisterGlobal(QuotaListenerName, newQuotaUpdater(s.quotas))
	}

	success = true
	s.logger.Info("mailstore service connected")
	return nil
}

// closeBackends closes auxiliary backends and the store.
func (s *service) closeBackends(ctx context.Context) error {
	var errs []error
	for i := len(s.auxiliary) - 1; i >= 0; i-- {
		if err := s.auxiliary[i].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close auxiliary backend: %w", err))
		}
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Close waits for in-flight mutations and closes all connections.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// After setting state to disconnected no new mutation can start.
	// Acquiring all semaphore slots waits for existing ones to finish.
	s.logger.Info("waiting for in-flight mutations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.mutateSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentMutations)); err != nil {
		s.logger.Warn("timeout waiting for in-flight mutations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.mutateSem.Release(int64(s.opts.maxConcurrentMutations))
		s.logger.Info("all in-flight mutations completed")
	}

	if s.quotaOwner != nil {
		s.quotaOwner.Unregister()
		s.quotaOwner = nil
	}

	// Close plugins first (reverse order of init)
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.closeBackends(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Listeners returns the registry events are dispatched to.
func (s *service) Listeners() *events.Registry {
	return s.listeners
}

// EndRequest releases request-scoped backend resources.
func (s *service) EndRequest(ctx context.Context) {
	s.mapper.EndRequest(ctx)
}

// slotKey marks a context whose mutation already holds a semaphore slot.
type slotKey struct{}

// mutate runs work as one mapper execution, bounded by the mutation
// semaphore and instrumented. Nested calls reuse the caller's slot.
func (s *service) mutate(ctx context.Context, op string, path store.MailboxPath, work mapper.Work) error {
	if ctx.Value(slotKey{}) == nil {
		if !s.IsConnected() {
			return ErrNotConnected
		}
		if err := s.mutateSem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.mutateSem.Release(1)
		ctx = context.WithValue(ctx, slotKey{}, struct{}{})
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mailstore."+op,
		attribute.String("mailstore.operation", op),
		attribute.String("mailstore.path", path.String()),
	)
	err := s.mapper.Execute(ctx, work)
	end(err)
	s.otel.recordMutation(ctx, op, time.Since(start), err)

	if err != nil {
		s.logger.Debug("mutation failed", "operation", op, "path", path.String(), "error", err)
	}
	return err
}

// RunInTransaction runs fn as a single mapper execution.
func (s *service) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.mutate(ctx, "transaction", store.MailboxPath{}, fn)
}

// checkConnected guards read operations.
func (s *service) checkConnected() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// AllocateUID allocates the next UID of a mailbox. The number is burned even
// when the caller's write later fails.
func (s *service) AllocateUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	return s.allocateUID(ctx, id)
}

// AllocateModSeq allocates the next ModSeq of a mailbox.
func (s *service) AllocateModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	return s.allocateModSeq(ctx, id)
}

func (s *service) allocateUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	start := time.Now()
	uid, err := s.sequences.AllocateUID(ctx, id)
	s.otel.recordAllocation(ctx, string(sequence.KindUID), time.Since(start), err)
	return uid, err
}

func (s *service) allocateModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	start := time.Now()
	ms, err := s.sequences.AllocateModSeq(ctx, id)
	s.otel.recordAllocation(ctx, string(sequence.KindModSeq), time.Since(start), err)
	return ms, err
}

// emit queues ev for dispatch once the current mapper execution commits.
// A rolled back execution drops it.
func (s *service) emit(ctx context.Context, ev events.Event) {
	mapper.AfterCommit(ctx, func(ctx context.Context) {
		s.dispatch(ctx, ev)
	})
}

// dispatch delivers ev to listeners and the event bus.
func (s *service) dispatch(ctx context.Context, ev events.Event) {
	if err := s.listeners.Dispatch(ctx, ev); err != nil {
		s.otel.recordDispatchErrors(ctx, string(ev.Type()), countErrors(err))
	}
	s.publish(ctx, ev)
}

// countErrors returns the number of errors joined in err.
func countErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
