// Package audit carries the audit-trail plumbing shared by the storage and
// REST layers: who is acting on a request, how long activity entries are
// kept, and an optional hash-chained journal that archives every entry
// outside the database.
package audit

import "context"

// Actor identifies the principal behind a mutation. Both fields are
// optional; an empty UserID is recorded as a null userId.
type Actor struct {
	UserID string
	IP     string
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
