package neoogm

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogSnapshot is a saved listing of the user-managed catalog that RecreateFrom can replay.
type CatalogSnapshot struct {
	Server      DatabaseIdentity       `yaml:"server"`
	TakenAt     time.Time              `yaml:"taken_at"`
	Constraints []ConstraintDescriptor `yaml:"constraints"`
	Indexes     []IndexDescriptor      `yaml:"indexes"`
}

// Snapshot lists the constraints and the non token lookup indexes.
func (s *SchemaCatalog) Snapshot(ctx context.Context) (*CatalogSnapshot, error) {
	id, err := s.conn.Identity(ctx)
	if err != nil {
		return nil, err
	}
	constraints, err := s.ListConstraints(ctx)
	if err != nil {
		return nil, err
	}
	indexes, err := s.ListIndexes(ctx, true)
	if err != nil {
		return nil, err
	}
	return &CatalogSnapshot{
		Server:      id,
		TakenAt:     time.Now().UTC(),
		Constraints: constraints,
		Indexes:     indexes,
	}, nil
}

// Restore recreates the snapshot's rules.
func (s *SchemaCatalog) Restore(ctx context.Context, snap *CatalogSnapshot) error {
	if snap.Server.Flavour != "" && snap.Server.Flavour != s.conn.conf.DatabaseFlavour {
		s.conn.log.Warnf("restoring a %s snapshot onto %s", snap.Server.Flavour, s.conn.conf.DatabaseFlavour)
	}
	return s.RecreateFrom(ctx, snap.Constraints, snap.Indexes)
}

func (snap *CatalogSnapshot) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode catalog snapshot: %w", err)
	}
	return enc.Close()
}

func ReadCatalogSnapshot(r io.Reader) (*CatalogSnapshot, error) {
	snap := &CatalogSnapshot{}
	if err := yaml.NewDecoder(r).Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to decode catalog snapshot: %w", err)
	}
	return snap, nil
}
