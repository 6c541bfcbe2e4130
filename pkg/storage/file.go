package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarforecast/pkg/types"
	"gopkg.in/yaml.v3"
)

// FileProvider implements the Database interface on top of a single YAML file
// keyed by site ID. The whole file is rewritten on every save.
type FileProvider struct {
	path string

	mu    sync.Mutex
	sites map[string]fileSite
}

var _ Database = (*FileProvider)(nil)

type fileSite struct {
	Name                 string                  `yaml:"name,omitempty"`
	Provider             string                  `yaml:"provider,omitempty"`
	ProviderSiteID       string                  `yaml:"providerSiteID,omitempty"`
	ProductionStart      string                  `yaml:"productionStart,omitempty"`
	Timezone             string                  `yaml:"timezone,omitempty"`
	Window               string                  `yaml:"window,omitempty"`
	Permissions          []types.SitePermissions `yaml:"permissions,omitempty"`
	EncryptedCredentials string                  `yaml:"encryptedCredentials,omitempty"`
	Version              int                     `yaml:"version"`
}

type fileContents struct {
	Sites map[string]fileSite `yaml:"sites"`
}

func configuredFile() *FileProvider {
	path := lflag.String("storage-file", "sites.yaml", "Path to the YAML file used by the file storage provider")

	f := &FileProvider{}
	lflag.Do(func() {
		f.path = *path
	})
	return f
}

// NewFile returns a FileProvider reading and writing path. Init must be called
// before use.
func NewFile(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Init loads the file. A missing file is treated as an empty database.
func (f *FileProvider) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sites = map[string]fileSite{}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	var contents fileContents
	if err := yaml.Unmarshal(b, &contents); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	for id, s := range contents.Sites {
		f.sites[id] = s
	}
	return nil
}

func (f *FileProvider) Close() error {
	return nil
}

func (f *FileProvider) GetSettings(ctx context.Context, siteID string) (types.SiteSettings, int, error) {
	if siteID == "" {
		return types.SiteSettings{}, 0, fmt.Errorf("siteID cannot be empty")
	}
	f.mu.Lock()
	s, ok := f.sites[siteID]
	f.mu.Unlock()
	if !ok {
		return types.SiteSettings{}, 0, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
	}
	settings, err := s.settings()
	if err != nil {
		return types.SiteSettings{}, 0, fmt.Errorf("site %s: %w", siteID, err)
	}
	return settings, s.Version, nil
}

func (f *FileProvider) SetSettings(ctx context.Context, siteID string, settings types.SiteSettings, version int) error {
	if siteID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.sites[siteID]
	f.sites[siteID] = fileSite{
		Name:                 settings.Name,
		Provider:             settings.Provider,
		ProviderSiteID:       settings.ProviderSiteID,
		ProductionStart:      settings.ProductionStart,
		Timezone:             settings.Timezone,
		Window:               settings.Window,
		Permissions:          settings.Permissions,
		EncryptedCredentials: base64.StdEncoding.EncodeToString(settings.EncryptedCredentials),
		Version:              version,
	}
	if err := f.write(); err != nil {
		if existed {
			f.sites[siteID] = prev
		} else {
			delete(f.sites, siteID)
		}
		return err
	}
	return nil
}

func (f *FileProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.sites))
	for id := range f.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sites := make([]types.Site, 0, len(ids))
	for _, id := range ids {
		s := f.sites[id]
		settings, err := s.settings()
		if err != nil {
			// Skip malformed entries
			continue
		}
		sites = append(sites, types.Site{ID: id, Settings: settings, Version: s.Version})
	}
	return sites, nil
}

// write persists the sites through a temporary file so a failed write never
// truncates the existing file. f.mu must be held.
func (f *FileProvider) write() error {
	b, err := yaml.Marshal(fileContents{Sites: f.sites})
	if err != nil {
		return fmt.Errorf("failed to marshal sites: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sites: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write sites: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (s fileSite) settings() (types.SiteSettings, error) {
	var creds []byte
	if s.EncryptedCredentials != "" {
		var err error
		creds, err = base64.StdEncoding.DecodeString(s.EncryptedCredentials)
		if err != nil {
			return types.SiteSettings{}, fmt.Errorf("invalid encryptedCredentials: %w", err)
		}
	}
	return types.SiteSettings{
		Name:                 s.Name,
		Provider:             s.Provider,
		ProviderSiteID:       s.ProviderSiteID,
		ProductionStart:      s.ProductionStart,
		Timezone:             s.Timezone,
		Window:               s.Window,
		Permissions:          s.Permissions,
		EncryptedCredentials: creds,
	}, nil
}
