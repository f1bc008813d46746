package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog/log"
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
		return nil, fmt.Errorf("connect scylla %v: %w", hosts, err)
	}

	log.Info().Str("keyspace", keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates keyspace through the system keyspace.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	// keyspace names cannot be bound as query parameters
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// EnsureSchema creates the messages table. Rows of a room are clustered
// newest first, so a page is a plain LIMIT scan.
func (s *Session) EnsureSchema() error {
	err := s.Query(`CREATE TABLE IF NOT EXISTS messages (
		room text,
		id bigint,
		username text,
		content text,
		created_at bigint,
		PRIMARY KEY (room, id)
	) WITH CLUSTERING ORDER BY (id DESC)`).Exec()
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

// DropMessages removes the messages table.
func (s *Session) DropMessages() error {
	return s.Query("DROP TABLE IF EXISTS messages").Exec()
}
