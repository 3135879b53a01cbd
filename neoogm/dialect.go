package neoogm

import (
	"fmt"
	"strings"

	"github.com/Financial-Times/neo-ogm-go/version"
)

// dialect renders catalog DDL for one database flavour and version and recognises the errors the
// server answers it with.
type dialect interface {
	createConstraint(c ConstraintDescriptor) (string, error)
	createIndex(i IndexDescriptor) (string, error)
	dropConstraint(c ConstraintDescriptor) (string, error)
	dropIndex(i IndexDescriptor) (string, error)

	listConstraints() string
	listIndexes() string
	parseConstraint(row map[string]any) ConstraintDescriptor
	parseIndex(row map[string]any) IndexDescriptor

	// existenceConstraints reports whether the server accepts property existence constraints.
	existenceConstraints() bool

	isAlreadyExists(err error) bool
	isMissingRule(err error) bool

	// nodeID is an expression returning the string identity of the node bound to variable.
	nodeID(variable string) string
	// matchNodeID is a predicate comparing the identity of variable with a string parameter.
	matchNodeID(variable, param string) string

	clearDatabase() string
}

const (
	minNeo4jVersion       = "4.2"
	neo4jModernSchema     = "4.4"
	neo4jRelIndexes       = "4.3"
	neo4jElementID        = "5.0"
	neo4jRelUniqueness    = "5.7"
	neo4jBatchedDeletes   = "4.4"
	neo4jLookupIndexes    = "4.3"
	neo4jTextIndexes      = "4.4"
	neo4jPointIndexes     = "5.0"
	neo4jFullTextCreation = "4.3"
)

// dialectFor picks the DDL strategy matching the connected server.
func dialectFor(id DatabaseIdentity) (dialect, error) {
	switch id.Flavour {
	case FlavourMemgraph:
		return memgraphDialect{identity: id}, nil
	case FlavourNeo4j, "":
		supported, err := version.IsAtLeast(id.Version, minNeo4jVersion)
		if err != nil {
			return nil, err
		}
		if !supported {
			return nil, fmt.Errorf("%w: neo4j %s, need %s or later", ErrUnsupportedVersion, id.Version, minNeo4jVersion)
		}
		return neo4jDialect{identity: id}, nil
	default:
		return nil, fmt.Errorf("unknown database flavour %q", id.Flavour)
	}
}

// quoteIdent leaves plain identifiers alone and backtick-quotes anything else.
func quoteIdent(name string) string {
	if identifierPattern.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// quoteLabels quotes each member of a `|` separated label list.
func quoteLabels(labels string) string {
	parts := strings.Split(labels, "|")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, "|")
}

// propertyList renders v.a, v.b for the given variable.
func propertyList(variable string, props []string) string {
	refs := make([]string, len(props))
	for i, p := range props {
		refs[i] = variable + "." + quoteIdent(p)
	}
	return strings.Join(refs, ", ")
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// asStrings accepts either a list or a single value, which is how both servers report the
// properties of a rule depending on its kind.
func asStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, asString(item))
		}
		return out
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	default:
		return []string{asString(s)}
	}
}
