package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/pkg/file"
)

type fileAccount struct {
	Password        string  `yaml:"password"`
	DeviceID        string  `yaml:"device_id"`
	RefreshInterval int     `yaml:"refresh_interval"`
	ProximityKm     float64 `yaml:"proximity_km"`
}

type fileLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type fileDocument struct {
	Accounts  map[string]fileAccount  `yaml:"accounts"`
	Locations map[string]fileLocation `yaml:"locations"`
}

// FileRepository keeps the whole configuration in one YAML document.
// Every mutation rewrites the document.
type FileRepository struct {
	path       string
	fileClient file.FileOperations
	mu         sync.Mutex
}

// NewFileRepository returns a repository backed by the YAML file at path.
// The file is created on the first write.
func NewFileRepository(path string, fileClient file.FileOperations) *FileRepository {
	return &FileRepository{path: path, fileClient: fileClient}
}

func (r *FileRepository) read() (fileDocument, error) {
	doc := fileDocument{
		Accounts:  map[string]fileAccount{},
		Locations: map[string]fileLocation{},
	}

	exists, err := r.fileClient.IsFileExists(r.path)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	if !exists {
		return doc, nil
	}

	if err := r.fileClient.ReadYamlFile(r.path, &doc); err != nil {
		return doc, fmt.Errorf("%w: reading %s: %v", ErrConfigIO, r.path, err)
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]fileAccount{}
	}
	if doc.Locations == nil {
		doc.Locations = map[string]fileLocation{}
	}
	return doc, nil
}

func (r *FileRepository) update(mutate func(*fileDocument)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	mutate(&doc)

	if err := r.fileClient.WriteYamlFile(r.path, doc); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrConfigIO, r.path, err)
	}
	return nil
}

func (r *FileRepository) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	r.mu.Lock()
	doc, err := r.read()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(doc.Accounts))
	for username, a := range doc.Accounts {
		accounts = append(accounts, models.Account{
			Username:        username,
			Password:        a.Password,
			DeviceID:        a.DeviceID,
			RefreshInterval: a.RefreshInterval,
			ProximityKm:     a.ProximityKm,
		})
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (r *FileRepository) LoadLocations(ctx context.Context) ([]models.NamedLocation, error) {
	r.mu.Lock()
	doc, err := r.read()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	locations := make([]models.NamedLocation, 0, len(doc.Locations))
	for name, l := range doc.Locations {
		locations = append(locations, models.NamedLocation{Name: name, Latitude: l.Latitude, Longitude: l.Longitude})
	}
	sortLocations(locations)
	return locations, nil
}

func (r *FileRepository) SaveAccount(ctx context.Context, account models.Account) error {
	return r.update(func(doc *fileDocument) {
		doc.Accounts[account.Username] = fileAccount{
			Password:        account.Password,
			DeviceID:        account.DeviceID,
			RefreshInterval: account.RefreshInterval,
			ProximityKm:     account.ProximityKm,
		}
	})
}

func (r *FileRepository) DeleteAccount(ctx context.Context, username string) error {
	return r.update(func(doc *fileDocument) {
		delete(doc.Accounts, username)
	})
}

func (r *FileRepository) SaveLocation(ctx context.Context, location models.NamedLocation) error {
	return r.update(func(doc *fileDocument) {
		doc.Locations[location.Name] = fileLocation{Latitude: location.Latitude, Longitude: location.Longitude}
	})
}

func (r *FileRepository) DeleteLocation(ctx context.Context, name string) error {
	return r.update(func(doc *fileDocument) {
		delete(doc.Locations, name)
	})
}

// Close is a no-op; the file is not held open.
func (r *FileRepository) Close() error {
	return nil
}
