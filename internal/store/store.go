// Package store persists accounts and named locations.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/maartendamen/houseagent-latitude/internal/models"
)

// ErrConfigIO wraps every persistence read or write failure.
var ErrConfigIO = errors.New("config store I/O failure")

// Repository is a keyed store of accounts (by username) and locations (by name).
// Saving an existing key replaces it; deleting a missing key is a no-op.
type Repository interface {
	LoadAccounts(ctx context.Context) ([]models.Account, error)
	LoadLocations(ctx context.Context) ([]models.NamedLocation, error)
	SaveAccount(ctx context.Context, account models.Account) error
	DeleteAccount(ctx context.Context, username string) error
	SaveLocation(ctx context.Context, location models.NamedLocation) error
	DeleteLocation(ctx context.Context, name string) error
	Close() error
}

func sortAccounts(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
}

func sortLocations(locations []models.NamedLocation) {
	sort.Slice(locations, func(i, j int) bool { return locations[i].Name < locations[j].Name })
}
