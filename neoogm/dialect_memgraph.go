package neoogm

import (
	"fmt"
	"strings"
)

// memgraphDialect targets Memgraph, whose catalog rules carry no names. Names are synthesised
// from kind, label and properties so that descriptors can still be told apart.
type memgraphDialect struct {
	identity DatabaseIdentity
}

func (d memgraphDialect) unsupported(feature string) error {
	return &FeatureNotSupportedError{Feature: feature, Server: d.identity}
}

func (d memgraphDialect) constraintRule(c ConstraintDescriptor) (string, error) {
	if c.Entity == EntityRelationship {
		return "", d.unsupported("relationship constraint")
	}
	if len(c.Properties) == 0 {
		return "", fmt.Errorf("%w: %s has no properties", ErrUnsupportedDescriptor, c)
	}

	pattern := fmt.Sprintf("(n:%s)", quoteIdent(c.Label))
	switch c.Kind {
	case ConstraintUniqueness:
		return fmt.Sprintf("ON %s ASSERT %s IS UNIQUE", pattern, propertyList("n", c.Properties)), nil
	case ConstraintExistence:
		if len(c.Properties) != 1 {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, c)
		}
		return fmt.Sprintf("ON %s ASSERT EXISTS (%s)", pattern, propertyList("n", c.Properties)), nil
	case ConstraintNodeKey:
		return "", d.unsupported("node key constraint")
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, c)
	}
}

func (d memgraphDialect) createConstraint(c ConstraintDescriptor) (string, error) {
	rule, err := d.constraintRule(c)
	if err != nil {
		return "", err
	}
	return "CREATE CONSTRAINT " + rule, nil
}

func (d memgraphDialect) dropConstraint(c ConstraintDescriptor) (string, error) {
	rule, err := d.constraintRule(c)
	if err != nil {
		return "", err
	}
	return "DROP CONSTRAINT " + rule, nil
}

func (d memgraphDialect) indexTarget(i IndexDescriptor) (string, error) {
	keyword := "INDEX"
	if i.Entity == EntityRelationship {
		keyword = "EDGE INDEX"
	}

	switch i.Kind {
	case IndexRange:
		// label-only and edge-type-only indexes have no properties
		if len(i.Properties) == 0 {
			return fmt.Sprintf("%s ON :%s", keyword, quoteIdent(i.Label)), nil
		}
		props := make([]string, len(i.Properties))
		for n, p := range i.Properties {
			props[n] = quoteIdent(p)
		}
		return fmt.Sprintf("%s ON :%s(%s)", keyword, quoteIdent(i.Label), strings.Join(props, ", ")), nil
	case IndexPoint:
		if i.Entity == EntityRelationship || len(i.Properties) != 1 {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, i)
		}
		return fmt.Sprintf("POINT INDEX ON :%s(%s)", quoteIdent(i.Label), quoteIdent(i.Properties[0])), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, i)
	}
}

func (d memgraphDialect) createIndex(i IndexDescriptor) (string, error) {
	target, err := d.indexTarget(i)
	if err != nil {
		return "", err
	}
	return "CREATE " + target, nil
}

func (d memgraphDialect) dropIndex(i IndexDescriptor) (string, error) {
	target, err := d.indexTarget(i)
	if err != nil {
		return "", err
	}
	return "DROP " + target, nil
}

func (d memgraphDialect) listConstraints() string {
	return "SHOW CONSTRAINT INFO"
}

func (d memgraphDialect) listIndexes() string {
	return "SHOW INDEX INFO"
}

func (d memgraphDialect) parseConstraint(row map[string]any) ConstraintDescriptor {
	raw := asString(row["constraint type"])
	c := ConstraintDescriptor{
		Entity:     EntityNode,
		Label:      asString(row["label"]),
		Properties: asStrings(row["properties"]),
		Raw:        raw,
	}
	switch raw {
	case "unique":
		c.Kind = ConstraintUniqueness
	case "exists":
		c.Kind = ConstraintExistence
	default:
		c.Kind = ConstraintUnsupported
	}
	c.Name = constraintName(c.Kind, c.Label, c.Properties)
	return c
}

func (d memgraphDialect) parseIndex(row map[string]any) IndexDescriptor {
	raw := asString(row["index type"])
	i := IndexDescriptor{
		Entity:     EntityNode,
		Label:      asString(row["label"]),
		Properties: asStrings(row["property"]),
		Raw:        raw,
	}
	if strings.HasPrefix(raw, "edge-type") {
		i.Entity = EntityRelationship
	}

	switch raw {
	case "label", "edge-type", "label+property", "edge-type+property":
		i.Kind = IndexRange
	case "point":
		i.Kind = IndexPoint
	case "text", "label_text":
		i.Kind = IndexText
	default:
		i.Kind = IndexUnsupported
	}
	i.Name = indexName(i.Label, i.Properties)
	return i
}

func (d memgraphDialect) existenceConstraints() bool {
	return true
}

func (d memgraphDialect) isAlreadyExists(err error) bool {
	_, msg, ok := backendError(err)
	return ok && strings.Contains(strings.ToLower(msg), "already exists")
}

func (d memgraphDialect) isMissingRule(err error) bool {
	_, msg, ok := backendError(err)
	if !ok {
		return false
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}

func (d memgraphDialect) nodeID(variable string) string {
	return fmt.Sprintf("toString(id(%s))", variable)
}

func (d memgraphDialect) matchNodeID(variable, param string) string {
	return fmt.Sprintf("id(%s) = toInteger($%s)", variable, param)
}

func (d memgraphDialect) clearDatabase() string {
	return "MATCH (n) DETACH DELETE n"
}
