package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "custos/pkg/domain"
	dErrors "custos/pkg/domain-errors"
	"custos/pkg/requestcontext"
)

// Store persists entries. Append-only: the interface deliberately has no
// update or delete method.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// List returns entries matching filter ordered by created_at descending,
	// tie-broken by id descending, starting after the cursor position.
	List(ctx context.Context, filter Filter, after *Position, limit int) ([]Entry, error)
}

// Position is the decoded pagination cursor: the sort key of the last entry
// the caller has already seen.
type Position struct {
	CreatedAt time.Time
	ID        id.EntryID
}

// Service records and reads ledger entries. Record must be called inside the
// same transactional unit of work as the mutation it documents; the postgres
// store joins the transaction found in context.
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

// Record appends one entry for a logical change. Before and after snapshots
// are marshalled by the caller's own model; the ledger never interprets them.
func (s *Service) Record(ctx context.Context, workspaceID id.WorkspaceID, entityType, entityID, action string, actor id.Actor, before, after any) error {
	entry := &Entry{
		ID:          id.EntryID(uuid.New()),
		WorkspaceID: workspaceID,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if !actor.IsSystem() {
		actorID := actor.ID
		entry.ActorID = &actorID
	}

	var err error
	if entry.Before, err = marshalSnapshot(before); err != nil {
		return err
	}
	if entry.After, err = marshalSnapshot(after); err != nil {
		return err
	}

	if err := s.store.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger append failed")
	}
	return nil
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal ledger snapshot")
	}
	return raw, nil
}

// Page is one cursor-delimited slice of the ledger.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

const defaultPageSize = 50

// List reads entries matching filter with cursor pagination. The cursor is
// opaque to callers; ordering is stable (created_at desc, id desc).
func (s *Service) List(ctx context.Context, filter Filter, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// Fetch one extra row to learn whether another page exists.
	entries, err := s.store.List(ctx, filter, after, limit+1)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger read failed")
	}

	page := &Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = encodeCursor(Position{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func encodeCursor(pos Position) string {
	raw := fmt.Sprintf("%s|%s", pos.CreatedAt.UTC().Format(time.RFC3339Nano), pos.ID.String())
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (*Position, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	entryID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	return &Position{CreatedAt: ts, ID: id.EntryID(entryID)}, nil
}
