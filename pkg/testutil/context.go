// Package testutil holds helpers shared across test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	id "custos/pkg/domain"
	"custos/pkg/requestcontext"
)

// NewActor returns a fresh actor identity for tests.
func NewActor() id.Actor {
	return id.Actor{ID: id.ActorID(uuid.New())}
}

// Ctx returns a context carrying an actor and a fixed clock, the state every
// governed request runs with.
func Ctx(t *testing.T, actor id.Actor, now time.Time) context.Context {
	t.Helper()
	ctx := requestcontext.WithActor(context.Background(), actor)
	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
	return requestcontext.WithTime(ctx, now)
}
