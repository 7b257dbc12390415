//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"campus-sync/domain/event"
	"campus-sync/domain/forum"
	"campus-sync/domain/ledger"
	"campus-sync/domain/presence"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// LedgerReader is the request/response primitive used for the bulk read of
// an account and its transaction history.
type LedgerReader interface {
	LoadLedger(ctx context.Context, accountID string) (ledger.Snapshot, error)
}

// PostReader is the bulk read of a forum post.
type PostReader interface {
	LoadPost(ctx context.Context, postID string) (forum.PostSnapshot, error)
}

// ChangeFeed opens subscriptions on resource scoped topics.
// Delivery is at-least-once and ordered within one subscription.
type ChangeFeed interface {
	Subscribe(ctx context.Context, topic string) (FeedSubscription, error)
}

// FeedSubscription delivers changes until closed. When Changes is closed
// without Close having been called, Err reports why the feed dropped.
type FeedSubscription interface {
	Changes() <-chan event.Change
	Err() error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, change event.Change) error
}

// PresenceChannel is the pub/sub primitive tracking live membership.
type PresenceChannel interface {
	Join(ctx context.Context, channel, identity string) (PresenceMember, error)
}

// PresenceMember is one participant's membership in a channel.
// Watch opens a stream of full membership maps, starting with the current
// one; the stream is closed by its stop function or once the member left.
type PresenceMember interface {
	Broadcast(b presence.Broadcast)
	Watch() (<-chan presence.Snapshot, func())
	Leave()
}

// Submitter hands a quiz attempt over to the backend. Submitted reports
// whether the backend already holds attemptID.
type Submitter interface {
	Submit(ctx context.Context, attemptID string, expired bool) error
	Submitted(ctx context.Context, attemptID string) (bool, error)
}
