package groups

import (
	"context"

	"github.com/gocql/gocql"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/db"
)

// ScyllaRegistry reads group metadata from the groups table maintained by
// the membership service.
type ScyllaRegistry struct {
	db *db.Session
}

func NewScyllaRegistry(session *db.Session) *ScyllaRegistry {
	return &ScyllaRegistry{db: session}
}

func (r *ScyllaRegistry) Group(ctx context.Context, groupID string) (*Info, error) {
	var info Info
	err := r.db.Query(
		`SELECT group_id, retention_seconds, active, max_members FROM groups WHERE group_id = ?`,
		groupID,
	).WithContext(ctx).Scan(&info.ID, &info.RetentionSeconds, &info.Active, &info.MaxMembers)
	if err == gocql.ErrNotFound {
		return nil, chaterr.NotFoundf("group %s", groupID)
	}
	if err != nil {
		return nil, chaterr.Transient(err, "group lookup")
	}
	return &info, nil
}
