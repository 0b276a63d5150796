// Package reindex rebuilds a search index from the mailbox store.
//
// Runs read messages while writes continue. Scoped listeners record the
// renames, deletions, flag updates and expunges that race the read pass, and
// each message is reconciled with them before it is indexed.
//
// Failure granularity is asymmetric: ReIndexAll records a failing mailbox and
// moves on, while ReIndexMailbox returns the first message failure.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore"
	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/rbaliyan/mailstore/reindex"

// ReIndexer rebuilds a store.SearchIndex from a mailstore.Service.
type ReIndexer struct {
	svc    mailstore.Service
	index  store.SearchIndex
	opts   *options
	tracer trace.Tracer
}

// New creates a ReIndexer.
func New(svc mailstore.Service, index store.SearchIndex, opts ...Option) *ReIndexer {
	o := newOptions(opts...)
	return &ReIndexer{
		svc:    svc,
		index:  index,
		opts:   o,
		tracer: o.tracerProvider.Tracer(tracerName),
	}
}

// passStats counts the outcome of one mailbox pass.
type passStats struct {
	indexed   int64
	unchanged int64
	removed   int64
}

// ReIndexAll indexes every mailbox. Mailboxes renamed during the run are
// followed to their new path; mailboxes deleted during the run are skipped.
// A failing mailbox is logged and recorded in the report. The returned error
// is non-nil only when the mailbox list itself could not be read.
func (r *ReIndexer) ReIndexAll(ctx context.Context, opts RunningOptions) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "reindex.all",
		trace.WithAttributes(attribute.String("mode", opts.Mode.String())))
	defer span.End()

	tracker := newPathTracker()
	reg := r.svc.Listeners().RegisterGlobal("reindex-all-"+uuid.NewString(), tracker)
	defer reg.Unregister()

	it, err := r.svc.MailboxPaths(ctx, store.MailboxQuery{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return (&reportBuilder{}).build(true), fmt.Errorf("reindex: list mailboxes: %w", err)
	}

	limiter := newLimiter(opts)
	b := &reportBuilder{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.concurrency)

	// A rename can move a mailbox onto a later page of the listing.
	var visited sync.Map

	var listErr error
	for {
		ok, err := it.Next(gctx)
		if err != nil {
			listErr = err
			break
		}
		if !ok {
			break
		}
		path, err := it.Path()
		if err != nil {
			listErr = err
			break
		}
		g.Go(func() error {
			r.indexListed(gctx, tracker, &visited, path, opts, limiter, b)
			return nil
		})
	}
	_ = g.Wait()

	if listErr == nil {
		listErr = ctx.Err()
	}
	report := b.build(listErr != nil)
	span.SetAttributes(
		attribute.Int("mailboxes_indexed", report.MailboxesIndexed),
		attribute.Int("failures", len(report.Failures)),
	)
	if listErr != nil {
		span.RecordError(listErr)
		span.SetStatus(codes.Error, listErr.Error())
		return report, fmt.Errorf("reindex: list mailboxes: %w", listErr)
	}
	r.opts.logger.Info("reindex finished",
		"result", report.Result.String(),
		"mailboxes", report.MailboxesIndexed,
		"skipped", report.MailboxesSkipped,
		"messages", report.MessagesIndexed,
		"failures", len(report.Failures))
	return report, nil
}

// indexListed indexes one listed path, resolving renames first.
func (r *ReIndexer) indexListed(ctx context.Context, tracker *pathTracker, visited *sync.Map, listed store.MailboxPath, opts RunningOptions, limiter *rate.Limiter, b *reportBuilder) {
	path, alive := tracker.resolve(listed)
	if !alive {
		r.opts.logger.Debug("mailbox deleted during reindex, skipping", "path", listed.String())
		b.mailboxSkipped()
		return
	}

	mb, err := r.svc.GetMailbox(ctx, path)
	if errors.Is(err, store.ErrMailboxNotFound) {
		r.opts.logger.Debug("mailbox vanished during reindex, skipping", "path", path.String())
		b.mailboxSkipped()
		return
	}
	if err != nil {
		r.opts.logger.Error("reindex: failed to load mailbox", "path", path.String(), "error", err)
		b.mailboxFailed(&MailboxFailure{Path: path, Err: err})
		return
	}

	if _, dup := visited.LoadOrStore(mb.ID, struct{}{}); dup {
		return
	}

	st, err := r.indexMailbox(ctx, mb, opts, limiter)
	if err != nil {
		if errors.Is(err, store.ErrMailboxNotFound) {
			b.mailboxSkipped()
			return
		}
		r.opts.logger.Error("reindex: mailbox failed", "mailbox_id", mb.ID, "path", mb.Path.String(), "error", err)
		b.mailboxFailed(&MailboxFailure{MailboxID: mb.ID, Path: mb.Path, Err: err})
		return
	}
	b.mailboxDone(st)
}

// ReIndexMailbox indexes a single mailbox. The first failing message aborts
// the pass and its error is returned alongside a Failed report.
func (r *ReIndexer) ReIndexMailbox(ctx context.Context, path store.MailboxPath, opts RunningOptions) (*Report, error) {
	b := &reportBuilder{}
	mb, err := r.svc.GetMailbox(ctx, path)
	if err != nil {
		b.mailboxFailed(&MailboxFailure{Path: path, Err: err})
		return b.build(false), err
	}

	st, err := r.indexMailbox(ctx, mb, opts, newLimiter(opts))
	if err != nil {
		f := &MailboxFailure{MailboxID: mb.ID, Path: mb.Path, Err: err}
		b.mailboxFailed(f)
		return b.build(false), f
	}
	b.mailboxDone(st)
	return b.build(false), nil
}

// ReIndexFailures re-runs the mailboxes recorded as failed by an earlier
// report. Mailboxes are looked up by ID so renames since then are followed;
// mailboxes deleted since then are skipped.
func (r *ReIndexer) ReIndexFailures(ctx context.Context, failures []*MailboxFailure, opts RunningOptions) (*Report, error) {
	limiter := newLimiter(opts)
	b := &reportBuilder{}
	for _, f := range failures {
		if err := ctx.Err(); err != nil {
			return b.build(true), err
		}

		var (
			mb  *store.Mailbox
			err error
		)
		if f.MailboxID != "" {
			mb, err = r.svc.GetMailboxByID(ctx, f.MailboxID)
		} else {
			mb, err = r.svc.GetMailbox(ctx, f.Path)
		}
		if errors.Is(err, store.ErrMailboxNotFound) {
			b.mailboxSkipped()
			continue
		}
		if err != nil {
			b.mailboxFailed(&MailboxFailure{MailboxID: f.MailboxID, Path: f.Path, Err: err})
			continue
		}

		st, err := r.indexMailbox(ctx, mb, opts, limiter)
		if err != nil {
			r.opts.logger.Error("reindex: retry of failed mailbox failed", "mailbox_id", mb.ID, "error", err)
			b.mailboxFailed(&MailboxFailure{MailboxID: mb.ID, Path: mb.Path, Err: err})
			continue
		}
		b.mailboxDone(st)
	}
	return b.build(false), nil
}

// ReIndexMessage re-indexes one message. A message that no longer exists is
// removed from the index.
func (r *ReIndexer) ReIndexMessage(ctx context.Context, path store.MailboxPath, uid store.UID) error {
	mb, err := r.svc.GetMailbox(ctx, path)
	if err != nil {
		return err
	}
	msg, err := r.svc.GetMessage(ctx, path, uid)
	if errors.Is(err, store.ErrMessageNotFound) {
		return r.index.Delete(ctx, mb.ID, uid)
	}
	if err != nil {
		return err
	}
	return r.index.Add(ctx, mb, msg)
}

// indexMailbox runs one mailbox pass. A listener scoped to the mailbox is
// registered before any message is read and removed when the pass ends.
func (r *ReIndexer) indexMailbox(ctx context.Context, mb *store.Mailbox, opts RunningOptions, limiter *rate.Limiter) (st passStats, err error) {
	ctx, span := r.tracer.Start(ctx, "reindex.mailbox", trace.WithAttributes(
		attribute.String("mailbox_id", string(mb.ID)),
		attribute.String("path", mb.Path.String()),
	))
	defer func() {
		span.SetAttributes(attribute.Int64("messages_indexed", st.indexed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tracker := newMessageTracker()
	reg := r.svc.Listeners().RegisterMailbox(mb.ID, "reindex-"+string(mb.ID)+"-"+uuid.NewString(), tracker)
	defer reg.Unregister()

	if opts.Mode == RebuildAll {
		if err := r.index.DeleteAll(ctx, mb.ID); err != nil {
			return st, fmt.Errorf("clear index: %w", err)
		}
	}

	it, err := r.svc.Messages(ctx, mb.ID, mailstore.StreamOptions{BatchSize: r.opts.batchSize})
	if err != nil {
		return st, err
	}
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			return st, err
		}
		if !ok {
			break
		}
		msg, err := it.Message()
		if err != nil {
			return st, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return st, err
			}
		}

		if change, ok := tracker.relevant(msg.UID); ok {
			if change.deleted {
				if err := r.index.Delete(ctx, mb.ID, msg.UID); err != nil {
					return st, fmt.Errorf("uid %d: %w", msg.UID, err)
				}
				st.removed++
				continue
			}
			if change.modSeq > msg.ModSeq {
				msg.Flags = change.flags
				msg.ModSeq = change.modSeq
			}
		}

		if opts.Mode == FixOutdated {
			current, err := r.index.Get(ctx, mb.ID, msg.UID)
			if err == nil && current.ModSeq == msg.ModSeq && current.Flags.Equal(msg.Flags) {
				st.unchanged++
				continue
			}
			if err != nil && !errors.Is(err, store.ErrMessageNotFound) {
				return st, fmt.Errorf("uid %d: %w", msg.UID, err)
			}
		}

		if err := r.index.Add(ctx, mb, msg); err != nil {
			return st, fmt.Errorf("uid %d: %w", msg.UID, err)
		}
		st.indexed++
	}
	return st, nil
}

func newLimiter(opts RunningOptions) *rate.Limiter {
	if opts.MessagesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), 1)
}
