// Package memory implements every persistence contract on in-process maps.
// It backs worker and service tests and the dev/demo mode of the binaries,
// where running without PostgreSQL is useful. Semantics mirror the postgres
// package: conditional updates check state under the lock and report whether
// a row changed.
package memory

import (
	"sync"

	"github.com/lumenpress/courier/internal/domain"
)

// Store holds all entities behind one mutex. Fine at in-memory scale; the
// postgres package is the production path.
type Store struct {
	mu sync.RWMutex

	campaigns        map[string]*domain.Campaign
	recipients       map[string]*domain.Recipient
	recipientByEmail map[string]string
	deliveries       map[string]*domain.Delivery
	snapshots        []domain.Snapshot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:        make(map[string]*domain.Campaign),
		recipients:       make(map[string]*domain.Recipient),
		recipientByEmail: make(map[string]string),
		deliveries:       make(map[string]*domain.Delivery),
	}
}

func deliveryKey(campaignID, recipientID string) string {
	return campaignID + "|" + recipientID
}
