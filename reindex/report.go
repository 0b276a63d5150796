package reindex

import (
	"fmt"
	"sync"

	"github.com/rbaliyan/mailstore/store"
)

// Mode selects what a run re-indexes.
type Mode int

const (
	// RebuildAll clears each mailbox's index entries and indexes every message.
	RebuildAll Mode = iota
	// FixOutdated only re-indexes messages whose entry is missing or stale.
	FixOutdated
)

func (m Mode) String() string {
	if m == FixOutdated {
		return "fix_outdated"
	}
	return "rebuild_all"
}

// RunningOptions tunes a single run.
type RunningOptions struct {
	Mode Mode
	// MessagesPerSecond throttles indexing across the whole run. Zero means
	// unlimited.
	MessagesPerSecond int
}

// Result is the aggregate outcome of a run.
type Result int

const (
	Completed Result = iota
	Partial
	Failed
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case Partial:
		return "partial"
	default:
		return "failed"
	}
}

// MailboxFailure records a mailbox whose pass failed.
type MailboxFailure struct {
	MailboxID store.MailboxID
	Path      store.MailboxPath
	Err       error
}

func (f *MailboxFailure) Error() string {
	return fmt.Sprintf("reindex: mailbox %s (%s): %v", f.Path, f.MailboxID, f.Err)
}

func (f *MailboxFailure) Unwrap() error {
	return f.Err
}

// Report summarizes a run.
type Report struct {
	Result            Result
	MailboxesIndexed  int
	MailboxesSkipped  int
	MessagesIndexed   int64
	MessagesUnchanged int64
	MessagesRemoved   int64
	Failures          []*MailboxFailure
}

// reportBuilder accumulates counters from parallel mailbox passes.
type reportBuilder struct {
	mu sync.Mutex
	r  Report
}

func (b *reportBuilder) mailboxDone(st passStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.MailboxesIndexed++
	b.r.MessagesIndexed += st.indexed
	b.r.MessagesUnchanged += st.unchanged
	b.r.MessagesRemoved += st.removed
}

func (b *reportBuilder) mailboxSkipped() {
	b.mu.Lock()
	b.r.MailboxesSkipped++
	b.mu.Unlock()
}

func (b *reportBuilder) mailboxFailed(f *MailboxFailure) {
	b.mu.Lock()
	b.r.Failures = append(b.r.Failures, f)
	b.mu.Unlock()
}

// build finalizes the result. aborted marks a run that stopped before
// visiting every mailbox.
func (b *reportBuilder) build(aborted bool) *Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.r
	switch {
	case aborted && r.MailboxesIndexed == 0:
		r.Result = Failed
	case aborted:
		r.Result = Partial
	case len(r.Failures) == 0:
		r.Result = Completed
	case r.MailboxesIndexed == 0:
		r.Result = Failed
	default:
		r.Result = Partial
	}
	return &r
}
