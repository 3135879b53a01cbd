package neoogm

import (
	"fmt"
	"strings"

	"github.com/Financial-Times/neo-ogm-go/version"
)

const (
	codeEquivalentRuleExists = "Neo.ClientError.Schema.EquivalentSchemaRuleAlreadyExists"
	codeConstraintExists     = "Neo.ClientError.Schema.ConstraintAlreadyExists"
	codeIndexExists          = "Neo.ClientError.Schema.IndexAlreadyExists"
)

// neo4jDialect speaks FOR ... REQUIRE from 4.4 on and ON ... ASSERT on 4.2 and 4.3.
type neo4jDialect struct {
	identity DatabaseIdentity
}

func (d neo4jDialect) atLeast(tag string) bool {
	ok, err := version.IsAtLeast(d.identity.Version, tag)
	return err == nil && ok
}

func (d neo4jDialect) modern() bool {
	return d.atLeast(neo4jModernSchema)
}

func (d neo4jDialect) unsupported(feature string) error {
	return &FeatureNotSupportedError{Feature: feature, Server: d.identity}
}

// pattern returns the MATCH pattern and variable for a label or relationship type.
func (d neo4jDialect) pattern(entity EntityType, label string) (string, string) {
	if entity == EntityRelationship {
		return fmt.Sprintf("()-[r:%s]-()", quoteLabels(label)), "r"
	}
	return fmt.Sprintf("(n:%s)", quoteLabels(label)), "n"
}

func (d neo4jDialect) createConstraint(c ConstraintDescriptor) (string, error) {
	if len(c.Properties) == 0 {
		return "", fmt.Errorf("%w: %s has no properties", ErrUnsupportedDescriptor, c)
	}
	pattern, v := d.pattern(c.Entity, c.Label)
	props := propertyList(v, c.Properties)
	if len(c.Properties) > 1 {
		props = "(" + props + ")"
	}

	var rule string
	switch c.Kind {
	case ConstraintUniqueness:
		if c.Entity == EntityRelationship && !d.atLeast(neo4jRelUniqueness) {
			return "", d.unsupported("relationship uniqueness constraint")
		}
		if len(c.Properties) > 1 && !d.modern() {
			return "", d.unsupported("composite uniqueness constraint")
		}
		rule = props + " IS UNIQUE"
	case ConstraintExistence:
		if len(c.Properties) != 1 {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, c)
		}
		if !d.modern() {
			return fmt.Sprintf("CREATE CONSTRAINT %s ON %s ASSERT exists(%s)", quoteIdent(c.Name), pattern, props), nil
		}
		rule = props + " IS NOT NULL"
	case ConstraintNodeKey:
		if len(c.Properties) == 1 {
			props = "(" + props + ")"
		}
		if c.Entity == EntityRelationship {
			if !d.atLeast(neo4jRelUniqueness) {
				return "", d.unsupported("relationship key constraint")
			}
			rule = props + " IS RELATIONSHIP KEY"
		} else {
			rule = props + " IS NODE KEY"
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, c)
	}

	if d.modern() {
		return fmt.Sprintf("CREATE CONSTRAINT %s FOR %s REQUIRE %s", quoteIdent(c.Name), pattern, rule), nil
	}
	return fmt.Sprintf("CREATE CONSTRAINT %s ON %s ASSERT %s", quoteIdent(c.Name), pattern, rule), nil
}

func (d neo4jDialect) createIndex(i IndexDescriptor) (string, error) {
	if i.Entity == EntityRelationship && !d.atLeast(neo4jRelIndexes) {
		return "", d.unsupported("relationship property index")
	}
	pattern, v := d.pattern(i.Entity, i.Label)
	name := quoteIdent(i.Name)

	switch i.Kind {
	case IndexRange:
		return fmt.Sprintf("CREATE INDEX %s FOR %s ON (%s)", name, pattern, propertyList(v, i.Properties)), nil
	case IndexText:
		if !d.atLeast(neo4jTextIndexes) {
			return "", d.unsupported("text index")
		}
		return fmt.Sprintf("CREATE TEXT INDEX %s FOR %s ON (%s)", name, pattern, propertyList(v, i.Properties)), nil
	case IndexPoint:
		if !d.atLeast(neo4jPointIndexes) {
			return "", d.unsupported("point index")
		}
		return fmt.Sprintf("CREATE POINT INDEX %s FOR %s ON (%s)", name, pattern, propertyList(v, i.Properties)), nil
	case IndexTokenLookup:
		if !d.atLeast(neo4jLookupIndexes) {
			return "", d.unsupported("token lookup index")
		}
		if i.Entity == EntityRelationship {
			return fmt.Sprintf("CREATE LOOKUP INDEX %s FOR ()-[r]-() ON EACH type(r)", name), nil
		}
		return fmt.Sprintf("CREATE LOOKUP INDEX %s FOR (n) ON EACH labels(n)", name), nil
	case IndexFullText:
		if !d.atLeast(neo4jFullTextCreation) {
			return "", d.unsupported("fulltext index")
		}
		return fmt.Sprintf("CREATE FULLTEXT INDEX %s FOR %s ON EACH [%s]", name, pattern, propertyList(v, i.Properties)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, i)
	}
}

func (d neo4jDialect) dropConstraint(c ConstraintDescriptor) (string, error) {
	return "DROP CONSTRAINT " + quoteIdent(c.Name), nil
}

func (d neo4jDialect) dropIndex(i IndexDescriptor) (string, error) {
	return "DROP INDEX " + quoteIdent(i.Name), nil
}

func (d neo4jDialect) listConstraints() string {
	return "SHOW CONSTRAINTS"
}

func (d neo4jDialect) listIndexes() string {
	return "SHOW INDEXES"
}

func neo4jEntity(v any) EntityType {
	if asString(v) == "RELATIONSHIP" {
		return EntityRelationship
	}
	return EntityNode
}

func (d neo4jDialect) parseConstraint(row map[string]any) ConstraintDescriptor {
	raw := asString(row["type"])
	c := ConstraintDescriptor{
		Name:       asString(row["name"]),
		Entity:     neo4jEntity(row["entityType"]),
		Label:      strings.Join(asStrings(row["labelsOrTypes"]), "|"),
		Properties: asStrings(row["properties"]),
		Raw:        raw,
	}
	if owned, ok := row["ownedIndex"].(string); ok {
		c.OwnedIndex = owned
	}

	switch {
	case strings.HasSuffix(raw, "UNIQUENESS"):
		c.Kind = ConstraintUniqueness
	case strings.HasSuffix(raw, "EXISTENCE"):
		c.Kind = ConstraintExistence
	case raw == "NODE_KEY" || raw == "RELATIONSHIP_KEY":
		c.Kind = ConstraintNodeKey
	default:
		c.Kind = ConstraintUnsupported
	}
	return c
}

func (d neo4jDialect) parseIndex(row map[string]any) IndexDescriptor {
	raw := asString(row["type"])
	i := IndexDescriptor{
		Name:       asString(row["name"]),
		Entity:     neo4jEntity(row["entityType"]),
		Label:      strings.Join(asStrings(row["labelsOrTypes"]), "|"),
		Properties: asStrings(row["properties"]),
		Raw:        raw,
	}
	if owner, ok := row["owningConstraint"].(string); ok {
		i.OwningConstraint = owner
	} else if asString(row["uniqueness"]) == "UNIQUE" {
		// 4.x reports constraint-backed indexes through the uniqueness column only
		i.OwningConstraint = i.Name
	}

	switch raw {
	case "RANGE", "BTREE":
		i.Kind = IndexRange
	case "TEXT":
		i.Kind = IndexText
	case "POINT":
		i.Kind = IndexPoint
	case "LOOKUP":
		i.Kind = IndexTokenLookup
	case "FULLTEXT":
		i.Kind = IndexFullText
	case "VECTOR":
		i.Kind = IndexVector
	default:
		i.Kind = IndexUnsupported
	}
	return i
}

func (d neo4jDialect) existenceConstraints() bool {
	return version.IsEnterpriseEdition(d.identity.Edition)
}

func (d neo4jDialect) isAlreadyExists(err error) bool {
	code, _, ok := backendError(err)
	if !ok {
		return false
	}
	switch code {
	case codeEquivalentRuleExists, codeConstraintExists, codeIndexExists:
		return true
	}
	return false
}

func (d neo4jDialect) isMissingRule(err error) bool {
	code, _, ok := backendError(err)
	if !ok {
		return false
	}
	for _, fragment := range []string{"IndexDropFailed", "ConstraintDropFailed", "IndexNotFound", "ConstraintNotFound"} {
		if strings.Contains(code, fragment) {
			return true
		}
	}
	return false
}

func (d neo4jDialect) nodeID(variable string) string {
	if d.atLeast(neo4jElementID) {
		return fmt.Sprintf("elementId(%s)", variable)
	}
	return fmt.Sprintf("toString(id(%s))", variable)
}

func (d neo4jDialect) matchNodeID(variable, param string) string {
	if d.atLeast(neo4jElementID) {
		return fmt.Sprintf("elementId(%s) = $%s", variable, param)
	}
	return fmt.Sprintf("id(%s) = toInteger($%s)", variable, param)
}

func (d neo4jDialect) clearDatabase() string {
	if d.atLeast(neo4jBatchedDeletes) {
		return "MATCH (a) CALL { WITH a DETACH DELETE a } IN TRANSACTIONS OF 5000 ROWS"
	}
	return "MATCH (n) DETACH DELETE n"
}
