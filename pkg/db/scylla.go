package db

import (
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/dhuan/pkg/logger"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	logger.Info("scylla_connected", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session}, nil
}

// EnsureKeyspace connects to the system keyspace and creates the service
// keyspace if absent. Used by the schema scripts and service bootstrap.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	return sys.Query(`CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
}
