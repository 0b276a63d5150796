package mailstore

import (
	"log/slog"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/store/memory"
)

func TestNewOptions(t *testing.T) {
	t.Run("returns defaults without options", func(t *testing.T) {
		opts := newOptions()

		if opts.maxMessageSize != DefaultMaxMessageSize {
			t.Errorf("expected maxMessageSize %v, got %v", DefaultMaxMessageSize, opts.maxMessageSize)
		}
		if opts.maxUserFlags != DefaultMaxUserFlags {
			t.Errorf("expected maxUserFlags %v, got %v", DefaultMaxUserFlags, opts.maxUserFlags)
		}
		if opts.maxConcurrentMutations != DefaultMaxConcurrentMutations {
			t.Errorf("expected maxConcurrentMutations %v, got %v", DefaultMaxConcurrentMutations, opts.maxConcurrentMutations)
		}
		if opts.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected shutdownTimeout %v, got %v", DefaultShutdownTimeout, opts.shutdownTimeout)
		}
		if !opts.quotaUpdater {
			t.Error("quota updater should be enabled by default")
		}
		if opts.bus.onFailure == nil {
			t.Error("publish failure handler should always be set")
		}
	})
}

func TestOptionValidation(t *testing.T) {
	tests := []struct {
		name  string
		opt   Option
		check func(*options) bool
	}{
		{"max message size ignores zero", WithMaxMessageSize(0), func(o *options) bool { return o.maxMessageSize == DefaultMaxMessageSize }},
		{"max message size", WithMaxMessageSize(1024), func(o *options) bool { return o.maxMessageSize == 1024 }},
		{"max user flags ignores negative", WithMaxUserFlags(-1), func(o *options) bool { return o.maxUserFlags == DefaultMaxUserFlags }},
		{"concurrency", WithMaxConcurrentMutations(8), func(o *options) bool { return o.maxConcurrentMutations == 8 }},
		{"shutdown below minimum", WithShutdownTimeout(time.Millisecond), func(o *options) bool { return o.shutdownTimeout == DefaultShutdownTimeout }},
		{"shutdown", WithShutdownTimeout(5 * time.Second), func(o *options) bool { return o.shutdownTimeout == 5*time.Second }},
		{"nil store ignored", WithStore(nil), func(o *options) bool { return o.store == nil }},
		{"nil logger ignored", WithLogger(nil), func(o *options) bool { return o.logger == slog.Default() }},
		{"otel", WithOTel(true), func(o *options) bool { return o.telemetry.tracing && o.telemetry.metrics }},
		{"service name", WithServiceName("imap"), func(o *options) bool { return o.name == "imap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(newOptions(tt.opt)) {
				t.Error("option not applied as expected")
			}
		})
	}
}

func TestWithMapper(t *testing.T) {
	m := mapper.NewNonTransactional()
	svc, err := NewService(WithStore(memory.New()), WithMapper(m))
	if err != nil {
		t.Fatal(err)
	}
	if svc.(*service).mapper != m {
		t.Error("custom mapper not used")
	}
}

func TestWithSequenceStore(t *testing.T) {
	main, counters := memory.New(), memory.New()
	svc, err := NewService(WithStore(main), WithSequenceStore(counters), WithQuotaStore(counters))
	if err != nil {
		t.Fatal(err)
	}
	s := svc.(*service)
	if s.counters != counters || s.quotas != counters {
		t.Error("override stores not used")
	}
	if len(s.auxiliary) != 1 {
		t.Errorf("shared auxiliary backend should be tracked once, got %d", len(s.auxiliary))
	}
}

func TestSafeEventPublishFailure(t *testing.T) {
	opts := newOptions(WithEventPublishFailureHandler(func(string, error) { panic("boom") }))
	// must not panic
	opts.safeEventPublishFailure("message.added", nil)
}
