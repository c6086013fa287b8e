package main

import (
	"log"
	"os"
	"strings"

	"github.com/mahaj/dhuan/pkg/db"
)

// Creates the keyspace and tables the message core reads and writes. Schema
// migration tooling should own this in production.
func main() {
	hostsStr := os.Getenv("DHUAN_SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	hosts := strings.Split(hostsStr, ",")
	keyspace := os.Getenv("DHUAN_KEYSPACE")
	if keyspace == "" {
		keyspace = "dhuan"
	}

	if err := db.EnsureKeyspace(hosts, keyspace); err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	session, err := db.NewSession(hosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages_by_id (
			id bigint PRIMARY KEY,
			author_id text,
			author_role text,
			author_name text,
			scope text,
			content text,
			created_at timestamp,
			expires_at timestamp,
			pinned boolean
		)`,
		`CREATE TABLE IF NOT EXISTS messages_by_scope (
			scope text,
			id bigint,
			author_id text,
			author_role text,
			author_name text,
			content text,
			created_at timestamp,
			expires_at timestamp,
			pinned boolean,
			PRIMARY KEY (scope, id)
		) WITH CLUSTERING ORDER BY (id ASC)`,
		`CREATE TABLE IF NOT EXISTS groups (
			group_id text PRIMARY KEY,
			retention_seconds int,
			active boolean,
			max_members int
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key text PRIMARY KEY,
			value int,
			updated_by text,
			updated_at timestamp
		)`,
	}

	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
	}

	log.Println("Schema ready")
}
