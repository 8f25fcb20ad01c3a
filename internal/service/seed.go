package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// seedUserID is the creator recorded for seeded layouts that name none
const seedUserID = "system:seed"

// seedFile is the YAML shape of a layout seed file
type seedFile struct {
	Namespace string       `yaml:"namespace"`
	Layouts   []seedLayout `yaml:"layouts"`
}

type seedLayout struct {
	Namespace     string     `yaml:"namespace"`
	ID            string     `yaml:"id"`
	Name          string     `yaml:"name"`
	Permission    string     `yaml:"permission"`
	CreatorUserID string     `yaml:"creatorUserId"`
	CreatedAt     string     `yaml:"createdAt"`
	UpdatedAt     string     `yaml:"updatedAt"`
	Data          *yaml.Node `yaml:"data"`
}

// LoadSeedFile reads a YAML seed file into a snapshot. Missing ids and
// timestamps are minted; layouts default to private.
func LoadSeedFile(path string, clock util.Clock) (domain.LayoutSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw, clock)
}

// ParseSeed converts YAML seed content into a validated snapshot
func ParseSeed(raw []byte, clock util.Clock) (domain.LayoutSnapshot, error) {
	if clock == nil {
		clock = util.NewMonotonicClock()
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	snapshot := make(domain.LayoutSnapshot)
	for i, entry := range file.Layouts {
		namespace := entry.Namespace
		if namespace == "" {
			namespace = file.Namespace
		}
		if namespace == "" {
			return nil, fmt.Errorf("seed layout %d: %w", i, domain.ErrNamespaceRequired)
		}

		layout, err := entry.toLayout(clock)
		if err != nil {
			return nil, fmt.Errorf("seed layout %d (%q): %w", i, entry.Name, err)
		}
		snapshot[namespace] = append(snapshot[namespace], layout)
	}

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s seedLayout) toLayout(clock util.Clock) (*domain.Layout, error) {
	if err := validateName(s.Name); err != nil {
		return nil, err
	}

	permission := domain.PermissionCreatorWrite
	if s.Permission != "" {
		permission = domain.Permission(s.Permission)
		if !permission.IsValid() {
			return nil, domain.ErrInvalidPermission
		}
	}

	id := uuid.New()
	if s.ID != "" {
		parsed, err := uuid.Parse(s.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}

	creator := strings.TrimSpace(s.CreatorUserID)
	if creator == "" {
		creator = seedUserID
	}

	createdAt, err := seedTimestamp(s.CreatedAt, clock)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt: %w", err)
	}
	updatedAt := createdAt
	if s.UpdatedAt != "" {
		if updatedAt, err = seedTimestamp(s.UpdatedAt, clock); err != nil {
			return nil, fmt.Errorf("invalid updatedAt: %w", err)
		}
	}

	data, err := seedData(s.Data)
	if err != nil {
		return nil, err
	}

	return &domain.Layout{
		LayoutMetadata: domain.LayoutMetadata{
			ID:            id,
			Name:          s.Name,
			Permission:    permission,
			CreatorUserID: creator,
			CreatedAt:     createdAt,
			UpdatedAt:     updatedAt,
		},
		Data: data,
	}, nil
}

func seedTimestamp(value string, clock util.Clock) (time.Time, error) {
	if value == "" {
		return clock.Now(), nil
	}
	t, err := util.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, err
	}
	return util.TruncateTimestamp(t), nil
}

// seedData converts the YAML data node to JSON. Scalar strings holding JSON
// are taken verbatim so payloads can be pasted as-is.
func seedData(node *yaml.Node) (json.RawMessage, error) {
	if node == nil {
		return nil, domain.ErrDataRequired
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		data := json.RawMessage(node.Value)
		if err := validateData(data); err != nil {
			return nil, err
		}
		return data, nil
	}

	var value interface{}
	if err := node.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataInvalid, err)
	}
	return data, nil
}

// InitialLayoutsConfig selects where the store is populated from at start
type InitialLayoutsConfig struct {
	Snapshots domain.SnapshotRepository // optional
	SeedFile  string                    // optional
	Clock     util.Clock
}

// SeedTarget is a store that can be listed and restored
type SeedTarget interface {
	domain.LayoutRepository
	domain.LayoutRestorer
}

// LoadInitialLayouts restores the latest snapshot into the store. When there is
// no snapshot, or it is empty, the seed file is loaded instead. Seeds never
// overwrite a namespace that already holds layouts.
func LoadInitialLayouts(ctx context.Context, store SeedTarget, cfg InitialLayoutsConfig) error {
	if cfg.Snapshots != nil {
		snapshot, err := cfg.Snapshots.Load(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if len(snapshot) > 0 {
			if err := store.Restore(ctx, snapshot); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			log.Info().Int("namespaces", len(snapshot)).Msg("Restored layouts from snapshot")
			return nil
		}
	}

	if cfg.SeedFile == "" {
		return nil
	}

	snapshot, err := LoadSeedFile(cfg.SeedFile, cfg.Clock)
	if err != nil {
		return err
	}

	for namespace := range snapshot {
		existing, err := store.ListMetadata(ctx, namespace)
		if err != nil {
			return fmt.Errorf("list layouts: %w", err)
		}
		if len(existing) > 0 {
			log.Info().Str("namespace", namespace).Msg("Namespace already has layouts, skipping seed")
			delete(snapshot, namespace)
		}
	}
	if len(snapshot) == 0 {
		return nil
	}

	if err := store.Restore(ctx, snapshot); err != nil {
		return fmt.Errorf("restore seed layouts: %w", err)
	}
	log.Info().
		Str("file", cfg.SeedFile).
		Int("namespaces", len(snapshot)).
		Msg("Seeded layouts")
	return nil
}
