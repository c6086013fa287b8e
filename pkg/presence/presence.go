// Package presence tracks the ephemeral set of clients connected to a
// scope. Advisory only: it is rebuilt from full sync snapshots on reconnect
// and is never authoritative for message delivery.
package presence

import (
	"context"

	"github.com/mahaj/dhuan/pkg/model"
)

type Tracker interface {
	Track(ctx context.Context, sc string, identity model.Identity) error
	Untrack(ctx context.Context, sc string, clientID string) error
	List(ctx context.Context, sc string) ([]model.Identity, error)
}
