package main

import (
	"log"
	"os"
	"strings"

	"github.com/mahaj/dhuan/pkg/db"
)

func main() {
	hostsStr := os.Getenv("DHUAN_SCYLLA_HOSTS")
	if hostsStr == "" {
		hostsStr = "localhost:9042"
	}
	keyspace := os.Getenv("DHUAN_KEYSPACE")
	if keyspace == "" {
		keyspace = "dhuan"
	}

	session, err := db.NewSession(strings.Split(hostsStr, ","), keyspace)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages_by_id", "messages_by_scope", "groups", "settings"} {
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop %s: %v", table, err)
		}
		log.Printf("Dropped %s", table)
	}
}
