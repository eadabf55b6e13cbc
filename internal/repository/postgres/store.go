package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Store bundles the per-entity repositories behind one constructor so the
// binaries can hand a single value to everything that needs persistence.
type Store struct {
	*CampaignRepo
	*RecipientRepo
	*DeliveryRepo
	*SnapshotRepo
}

// NewStore wires all repositories over one connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{
		CampaignRepo:  NewCampaignRepo(db),
		RecipientRepo: NewRecipientRepo(db),
		DeliveryRepo:  NewDeliveryRepo(db),
		SnapshotRepo:  NewSnapshotRepo(db),
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
