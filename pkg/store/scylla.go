package store

import (
	"context"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/db"
	"github.com/mahaj/dhuan/pkg/groups"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/metrics"
	"github.com/mahaj/dhuan/pkg/model"
	"github.com/mahaj/dhuan/pkg/snowflake"
)

// ScyllaStore keeps messages in two tables: messages_by_id for point
// lookups and conditional mutations, messages_by_scope clustered ascending
// by id for backfill reads. Snowflake ids are time-ordered, so id order is
// creation order.
type ScyllaStore struct {
	db       *db.Session
	node     *snowflake.Node
	resolver TTLResolver
	registry groups.Registry
	sink     EventSink
	maxRunes int
}

func NewScyllaStore(session *db.Session, node *snowflake.Node, resolver TTLResolver, registry groups.Registry, sink EventSink, maxRunes int) *ScyllaStore {
	return &ScyllaStore{
		db:       session,
		node:     node,
		resolver: resolver,
		registry: registry,
		sink:     sink,
		maxRunes: maxRunes,
	}
}

func (s *ScyllaStore) Append(ctx context.Context, req AppendRequest) (*model.Message, error) {
	sc, err := validate(ctx, s.registry, s.maxRunes, req)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:         s.node.Generate(),
		AuthorID:   req.AuthorID,
		AuthorRole: req.AuthorRole,
		AuthorName: req.AuthorName,
		Scope:      sc.String(),
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}
	msg.ExpiresAt = s.resolver.Resolve(ctx, sc, req.OverrideHours)

	batch := s.db.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages_by_id (id, author_id, author_role, author_name, scope, content, created_at, expires_at, pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, false)`,
		msg.ID, msg.AuthorID, msg.AuthorRole, msg.AuthorName, msg.Scope, msg.Content, msg.CreatedAt, msg.ExpiresAt,
	)
	batch.Query(
		`INSERT INTO messages_by_scope (scope, id, author_id, author_role, author_name, content, created_at, expires_at, pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, false)`,
		msg.Scope, msg.ID, msg.AuthorID, msg.AuthorRole, msg.AuthorName, msg.Content, msg.CreatedAt, msg.ExpiresAt,
	)
	if err := s.db.ExecuteBatch(batch); err != nil {
		return nil, chaterr.Transient(err, "message append")
	}

	metrics.MessagesAppended.Inc()
	emit(ctx, s.sink, model.Event{
		Kind:    model.EventInsert,
		Scope:   msg.Scope,
		Message: msg,
		Token:   req.Token,
	})
	return msg, nil
}

func (s *ScyllaStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	err := s.db.Query(
		`SELECT id, author_id, author_role, author_name, scope, content, created_at, expires_at, pinned
		 FROM messages_by_id WHERE id = ?`, id,
	).WithContext(ctx).Scan(
		&msg.ID, &msg.AuthorID, &msg.AuthorRole, &msg.AuthorName,
		&msg.Scope, &msg.Content, &msg.CreatedAt, &msg.ExpiresAt, &msg.Pinned,
	)
	if err == gocql.ErrNotFound {
		return nil, chaterr.NotFoundf("message %d", id)
	}
	if err != nil {
		return nil, chaterr.Transient(err, "message get")
	}
	return &msg, nil
}

func (s *ScyllaStore) ListScope(ctx context.Context, sc string, sinceID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	iter := s.db.Query(
		`SELECT id, author_id, author_role, author_name, scope, content, created_at, expires_at, pinned
		 FROM messages_by_scope WHERE scope = ? AND id > ? LIMIT ?`,
		sc, sinceID, limit,
	).WithContext(ctx).Iter()

	var out []model.Message
	var msg model.Message
	for iter.Scan(
		&msg.ID, &msg.AuthorID, &msg.AuthorRole, &msg.AuthorName,
		&msg.Scope, &msg.Content, &msg.CreatedAt, &msg.ExpiresAt, &msg.Pinned,
	) {
		out = append(out, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, chaterr.Transient(err, "scope list")
	}
	return out, nil
}

// Delete re-checks the pinned flag with a lightweight transaction so a pin
// that lands first always wins the race.
func (s *ScyllaStore) Delete(ctx context.Context, id int64) (bool, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	applied, err := s.db.Query(
		`DELETE FROM messages_by_id WHERE id = ? IF pinned = false`, id,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, chaterr.Transient(err, "conditional delete")
	}
	if !applied {
		// Pinned in the meantime, or already gone. Benign either way.
		return false, nil
	}

	if err := s.db.Query(
		`DELETE FROM messages_by_scope WHERE scope = ? AND id = ?`, msg.Scope, id,
	).WithContext(ctx).Exec(); err != nil {
		logger.Error("scope_row_delete_failed", "id", id, "scope", msg.Scope, "error", err)
	}

	emit(ctx, s.sink, model.Event{Kind: model.EventDelete, Scope: msg.Scope, MessageID: id})
	return true, nil
}

func (s *ScyllaStore) SetPinned(ctx context.Context, id int64, pinned bool) (*model.Message, error) {
	applied, err := s.db.Query(
		`UPDATE messages_by_id SET pinned = ? WHERE id = ? IF EXISTS`, pinned, id,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, chaterr.Transient(err, "pin update")
	}
	if !applied {
		return nil, chaterr.NotFoundf("message %d", id)
	}

	msg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Query(
		`UPDATE messages_by_scope SET pinned = ? WHERE scope = ? AND id = ?`, pinned, msg.Scope, id,
	).WithContext(ctx).Exec(); err != nil {
		logger.Error("scope_row_pin_failed", "id", id, "scope", msg.Scope, "error", err)
	}

	emit(ctx, s.sink, model.Event{Kind: model.EventPin, Scope: msg.Scope, Message: msg})
	return msg, nil
}

func (s *ScyllaStore) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	iter := s.db.Query(
		`SELECT id, pinned FROM messages_by_id WHERE expires_at < ? ALLOW FILTERING`, now,
	).WithContext(ctx).Iter()

	var ids []int64
	var id int64
	var pinned bool
	for iter.Scan(&id, &pinned) {
		if !pinned {
			ids = append(ids, id)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, chaterr.Transient(err, "expired scan")
	}
	return ids, nil
}
