package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/maartendamen/houseagent-latitude/internal/models"
)

// MockRepository is a mock implementation of store.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]models.Account)
	return accounts, args.Error(1)
}

func (m *MockRepository) LoadLocations(ctx context.Context) ([]models.NamedLocation, error) {
	args := m.Called(ctx)
	locations, _ := args.Get(0).([]models.NamedLocation)
	return locations, args.Error(1)
}

func (m *MockRepository) SaveAccount(ctx context.Context, account models.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockRepository) DeleteAccount(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *MockRepository) SaveLocation(ctx context.Context, location models.NamedLocation) error {
	return m.Called(ctx, location).Error(0)
}

func (m *MockRepository) DeleteLocation(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockRepository) Close() error {
	return m.Called().Error(0)
}
