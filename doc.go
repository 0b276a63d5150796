// Package mailstore provides the mailbox core of an IMAP-style mail store:
// per-mailbox UID and ModSeq sequencing, transactional mutations and
// after-commit change events.
//
// Every mutation (append, flag update, expunge, move, mailbox lifecycle)
// allocates its sequence numbers first, runs its storage writes through a
// mapper (transactional when the store supports it) and only then dispatches
// the resulting event to listeners. A failed write emits nothing and burns the
// allocated numbers; UIDs and ModSeqs may have gaps but are never reused.
//
// # Basic Usage
//
//	svc, err := mailstore.NewService(
//	    mailstore.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	inbox, _ := svc.CreateMailbox(ctx, store.Inbox("alice"))
//	res, _ := svc.Append(ctx, inbox.Path, mailstore.AppendRequest{Body: raw})
//	_, _ = svc.UpdateFlags(ctx, inbox.Path, res.UID, store.NewFlags(store.FlagSeen), mailstore.FlagsAdd)
//
// # Storage Backends
//
// The store package provides implementations for:
//   - PostgreSQL (store/postgres) - transactional, accepts *sqlx.DB
//   - MongoDB (store/mongo) - transactional on replica sets, accepts *mongo.Client
//   - Redis (store/redis) - sequence and quota counters only, see WithSequenceStore
//   - In-memory (store/memory) - for testing
//
// # Listeners
//
// Committed changes are delivered to an events.Registry. Listeners are
// registered globally or per mailbox and are retried, then dead-lettered, on
// failure. A failing listener never undoes the write nor blocks other
// listeners.
//
//	svc.Listeners().RegisterGlobal("audit", events.ListenerFunc(func(ctx context.Context, ev events.Event) error {
//	    log.Println(ev.Type(), ev.Meta().Path)
//	    return nil
//	}))
//
// # Event Bus
//
// Every dispatched event is also encoded as an events.Envelope and published
// on a github.com/rbaliyan/event/v3 bus. Pass WithRedisClient or
// WithEventTransport to reach other processes:
//
//	svc, _ := mailstore.NewService(
//	    mailstore.WithStore(pgStore),
//	    mailstore.WithRedisClient(redisClient),
//	)
//
// # Batch Operations
//
// The reindex package rebuilds a search index while mutations continue, and
// the copier package copies mailboxes between stores.
package mailstore
