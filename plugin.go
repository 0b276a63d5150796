package mailstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/mailstore/store"
)

// Plugin defines the interface for service extensions.
// Plugins can hook into appends and deletions to add custom behavior
// such as content validation, retention policies or archiving.
//
// For observing committed changes, register an events.Listener instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// AppendHook is called before and after appending messages.
type AppendHook interface {
	Plugin
	// BeforeAppend is called before any number is allocated. Return an
	// error to abort the append.
	BeforeAppend(ctx context.Context, path store.MailboxPath, req *AppendRequest) error
	// AfterAppend is called after the append committed. Errors are logged;
	// the message stays appended.
	AfterAppend(ctx context.Context, path store.MailboxPath, res *AppendResult) error
}

// DeletionReason tells a PreDeletionHook why messages are removed.
type DeletionReason string

// Deletion reasons.
const (
	DeletionExpunge       DeletionReason = "expunge"
	DeletionMove          DeletionReason = "move"
	DeletionMailboxDelete DeletionReason = "mailbox_delete"
)

// DeletedMessage describes a message about to be removed.
type DeletedMessage struct {
	UID       store.UID
	Size      int64
	MessageID string
}

// DeletionOperation describes a pending deletion.
type DeletionOperation struct {
	Reason    DeletionReason
	MailboxID store.MailboxID
	Path      store.MailboxPath
	Messages  []DeletedMessage
}

// PreDeletionHook is called inside the deleting transaction, before messages
// are removed. Returning an error aborts the whole mutation.
type PreDeletionHook interface {
	Plugin
	BeforeDelete(ctx context.Context, op DeletionOperation) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all      []Plugin
	append   []AppendHook
	deletion []PreDeletionHook
	logger   *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(AppendHook); ok {
		r.append = append(r.append, h)
	}
	if h, ok := p.(PreDeletionHook); ok {
		r.deletion = append(r.deletion, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &HookError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &HookError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// Hook execution helpers

func (r *pluginRegistry) beforeAppend(ctx context.Context, path store.MailboxPath, req *AppendRequest) error {
	for _, h := range r.append {
		if err := h.BeforeAppend(ctx, path, req); err != nil {
			return &HookError{Plugin: h.Name(), Op: "BeforeAppend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterAppend(ctx context.Context, path store.MailboxPath, res *AppendResult) {
	for _, h := range r.append {
		if err := h.AfterAppend(ctx, path, res); err != nil {
			r.logger.Error("after-append hook failed",
				"plugin", h.Name(), "path", path.String(), "uid", res.UID, "error", err)
		}
	}
}

func (r *pluginRegistry) beforeDelete(ctx context.Context, op DeletionOperation) error {
	if len(op.Messages) == 0 {
		return nil
	}
	for _, h := range r.deletion {
		if err := h.BeforeDelete(ctx, op); err != nil {
			return &HookError{Plugin: h.Name(), Op: "BeforeDelete", Err: err}
		}
	}
	return nil
}
