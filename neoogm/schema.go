package neoogm

import (
	"context"
	"errors"
	"fmt"
)

// SchemaCatalog keeps the constraints and indexes in the database in line with model declarations.
// Catalog statements run one at a time in their own transactions, so a failure part way through
// leaves whatever was created before it.
type SchemaCatalog struct {
	conn *Connection
}

// InstallLabels creates a uniqueness constraint for every unique property of m and an index for
// every other indexed property. Required properties get existence constraints when the connection
// asks for them and the server supports them. Rules that already exist are left alone, so calling
// it again is harmless; a rule whose name is taken by a different definition is an error.
func (s *SchemaCatalog) InstallLabels(ctx context.Context, m Model) error {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return err
	}

	constraints, indexes := s.desired(d, m)
	if len(constraints) == 0 && len(indexes) == 0 {
		return nil
	}

	existingConstraints, err := s.listConstraints(ctx, d)
	if err != nil {
		return err
	}
	existingIndexes, err := s.listIndexes(ctx, d, true)
	if err != nil {
		return err
	}

	for _, c := range constraints {
		if hasConstraint(existingConstraints, c) {
			continue
		}
		stmt, err := d.createConstraint(c)
		if err != nil {
			return err
		}
		s.conn.log.Infof("Creating %s constraint for type %s on property %s", c.Kind, c.Label, c.Properties[0])
		if err := s.create(ctx, d, stmt); err != nil {
			return err
		}
	}

	for _, i := range indexes {
		if hasIndex(existingIndexes, i) {
			continue
		}
		stmt, err := d.createIndex(i)
		if err != nil {
			return err
		}
		s.conn.log.Infof("Creating index for type %s on property %s", i.Label, i.Properties[0])
		if err := s.create(ctx, d, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InstallAllLabels installs every model in registry, stopping at the first failure.
func (s *SchemaCatalog) InstallAllLabels(ctx context.Context, registry *Registry) error {
	for _, m := range registry.Models() {
		if err := s.InstallLabels(ctx, m); err != nil {
			return fmt.Errorf("cannot install labels for %s %s: %w", m.Entity(), m.Name(), err)
		}
	}
	return nil
}

func (s *SchemaCatalog) desired(d dialect, m Model) ([]ConstraintDescriptor, []IndexDescriptor) {
	var (
		constraints []ConstraintDescriptor
		indexes     []IndexDescriptor
	)
	label := m.Name()
	for _, p := range m.Properties() {
		props := []string{p.Name}
		switch {
		case p.UniqueIndex:
			constraints = append(constraints, ConstraintDescriptor{
				Name:       constraintName(ConstraintUniqueness, label, props),
				Kind:       ConstraintUniqueness,
				Entity:     m.Entity(),
				Label:      label,
				Properties: props,
			})
		case p.Index:
			indexes = append(indexes, IndexDescriptor{
				Name:       indexName(label, props),
				Kind:       IndexRange,
				Entity:     m.Entity(),
				Label:      label,
				Properties: props,
			})
		}

		if p.Required && s.conn.conf.InstallExistenceConstraints && d.existenceConstraints() {
			constraints = append(constraints, ConstraintDescriptor{
				Name:       constraintName(ConstraintExistence, label, props),
				Kind:       ConstraintExistence,
				Entity:     m.Entity(),
				Label:      label,
				Properties: props,
			})
		}
	}
	return constraints, indexes
}

func hasConstraint(existing []ConstraintDescriptor, c ConstraintDescriptor) bool {
	for _, e := range existing {
		if e.sameRule(c) {
			return true
		}
	}
	return false
}

func hasIndex(existing []IndexDescriptor, i IndexDescriptor) bool {
	for _, e := range existing {
		if e.sameRule(i) {
			return true
		}
	}
	return false
}

// create runs a CREATE statement, treating an equivalent rule that is already in place as success.
func (s *SchemaCatalog) create(ctx context.Context, d dialect, stmt string) error {
	_, err := s.conn.Execute(ctx, stmt, nil)
	if err != nil && d.isAlreadyExists(err) {
		s.conn.log.WithError(err).Debug("schema rule already exists")
		return nil
	}
	return err
}

// drop runs a DROP statement, treating a rule that has already gone as success.
func (s *SchemaCatalog) drop(ctx context.Context, d dialect, stmt string) error {
	_, err := s.conn.Execute(ctx, stmt, nil)
	if err != nil && d.isMissingRule(err) {
		s.conn.log.WithError(err).Debug("schema rule already dropped")
		return nil
	}
	return err
}

// ListConstraints dumps the constraints currently in the catalog.
func (s *SchemaCatalog) ListConstraints(ctx context.Context) ([]ConstraintDescriptor, error) {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return nil, err
	}
	return s.listConstraints(ctx, d)
}

func (s *SchemaCatalog) listConstraints(ctx context.Context, d dialect) ([]ConstraintDescriptor, error) {
	result, err := s.conn.Execute(ctx, d.listConstraints(), nil)
	if err != nil {
		return nil, err
	}
	records := result.Records()
	constraints := make([]ConstraintDescriptor, 0, len(records))
	for _, row := range records {
		constraints = append(constraints, d.parseConstraint(row))
	}
	return constraints, nil
}

// ListIndexes dumps the indexes currently in the catalog, optionally leaving out the
// system-managed token lookup indexes.
func (s *SchemaCatalog) ListIndexes(ctx context.Context, excludeTokenLookup bool) ([]IndexDescriptor, error) {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return nil, err
	}
	return s.listIndexes(ctx, d, excludeTokenLookup)
}

func (s *SchemaCatalog) listIndexes(ctx context.Context, d dialect, excludeTokenLookup bool) ([]IndexDescriptor, error) {
	result, err := s.conn.Execute(ctx, d.listIndexes(), nil)
	if err != nil {
		return nil, err
	}
	records := result.Records()
	indexes := make([]IndexDescriptor, 0, len(records))
	for _, row := range records {
		i := d.parseIndex(row)
		if excludeTokenLookup && i.Kind == IndexTokenLookup {
			continue
		}
		indexes = append(indexes, i)
	}
	return indexes, nil
}

// RemoveAllLabels drops every constraint and then every index that is left, apart from token
// lookup indexes. Indexes that disappeared with their constraint are skipped.
func (s *SchemaCatalog) RemoveAllLabels(ctx context.Context) error {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return err
	}
	if err := s.dropConstraints(ctx, d); err != nil {
		return err
	}
	return s.dropIndexes(ctx, d)
}

func (s *SchemaCatalog) dropConstraints(ctx context.Context, d dialect) error {
	constraints, err := s.listConstraints(ctx, d)
	if err != nil {
		return err
	}
	for _, c := range constraints {
		stmt, err := d.dropConstraint(c)
		if err != nil {
			return err
		}
		s.conn.log.Infof("Dropping %s", c)
		if err := s.drop(ctx, d, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SchemaCatalog) dropIndexes(ctx context.Context, d dialect) error {
	// listed after the constraints are gone so that their backing indexes no longer show up
	indexes, err := s.listIndexes(ctx, d, true)
	if err != nil {
		return err
	}
	for _, i := range indexes {
		if i.OwningConstraint != "" {
			continue
		}
		stmt, err := d.dropIndex(i)
		if err != nil {
			return err
		}
		s.conn.log.Infof("Dropping %s", i)
		if err := s.drop(ctx, d, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecreateFrom issues CREATE statements for descriptors captured by ListConstraints and
// ListIndexes. Rules that already exist are skipped. Every descriptor is attempted; the failures
// are returned together.
func (s *SchemaCatalog) RecreateFrom(ctx context.Context, constraints []ConstraintDescriptor, indexes []IndexDescriptor) error {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range constraints {
		stmt, err := d.createConstraint(c)
		if err == nil {
			err = s.create(ctx, d, stmt)
		}
		if err != nil {
			s.conn.log.WithError(err).Warnf("failed to recreate %s", c)
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}

	for _, i := range indexes {
		// comes back with its constraint
		if i.OwningConstraint != "" {
			continue
		}
		stmt, err := d.createIndex(i)
		if err == nil {
			err = s.create(ctx, d, stmt)
		}
		if err != nil {
			s.conn.log.WithError(err).Warnf("failed to recreate %s", i)
			errs = append(errs, fmt.Errorf("%s: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ClearDatabase deletes every node and relationship, then optionally drops constraints and
// indexes.
func (s *SchemaCatalog) ClearDatabase(ctx context.Context, clearConstraints, clearIndexes bool) error {
	d, err := s.conn.dialect(ctx)
	if err != nil {
		return err
	}
	if _, err := s.conn.Execute(ctx, d.clearDatabase(), nil); err != nil {
		return err
	}
	if clearConstraints {
		if err := s.dropConstraints(ctx, d); err != nil {
			return err
		}
	}
	if clearIndexes {
		return s.dropIndexes(ctx, d)
	}
	return nil
}

// IsPopulated reports whether the database holds at least one node.
func (s *SchemaCatalog) IsPopulated(ctx context.Context) (bool, error) {
	result, err := s.conn.Execute(ctx, "MATCH (a) RETURN count(a) > 0 AS populated", nil)
	if err != nil {
		return false, err
	}
	v, ok := result.Single()
	if !ok {
		return false, nil
	}
	populated, ok := v.(bool)
	return ok && populated, nil
}
