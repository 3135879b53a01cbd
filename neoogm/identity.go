package neoogm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Financial-Times/neo-ogm-go/version"
)

// Flavour selects the database product, and with it the DDL dialect.
type Flavour string

const (
	FlavourNeo4j    Flavour = "neo4j"
	FlavourMemgraph Flavour = "memgraph"
)

// ParseFlavour accepts the flavour names used in settings files and the environment.
func ParseFlavour(name string) (Flavour, error) {
	switch Flavour(name) {
	case FlavourNeo4j, "":
		return FlavourNeo4j, nil
	case FlavourMemgraph:
		return FlavourMemgraph, nil
	default:
		return "", fmt.Errorf("unknown database flavour %q", name)
	}
}

// DatabaseIdentity is the version and edition the server reports about itself.
type DatabaseIdentity struct {
	Version string  `yaml:"version"`
	Edition string  `yaml:"edition"`
	Flavour Flavour `yaml:"flavour"`
}

// VersionIsHigherThan compares the server version strictly against reference.
func (id DatabaseIdentity) VersionIsHigherThan(reference string) (bool, error) {
	return version.IsHigherThan(id.Version, reference)
}

func (id DatabaseIdentity) EditionIsEnterprise() bool {
	return version.IsEnterpriseEdition(id.Edition)
}

const (
	neo4jIdentityQuery    = "CALL dbms.components() YIELD versions, edition RETURN versions[0] AS version, edition"
	memgraphIdentityQuery = "SHOW VERSION"
)

// fetchIdentity asks the server for its version. Memgraph only ships a community build as far as
// the catalog is concerned, so its edition is fixed.
func fetchIdentity(ctx context.Context, gw QueryGateway, flavour Flavour) (DatabaseIdentity, error) {
	id := DatabaseIdentity{Flavour: flavour}

	switch flavour {
	case FlavourMemgraph:
		result, err := gw.Execute(ctx, memgraphIdentityQuery, nil)
		if err != nil {
			return id, fmt.Errorf("failed to fetch memgraph version: %w", err)
		}
		v, ok := result.Single()
		if !ok {
			return id, errors.New("memgraph returned no version")
		}
		id.Version = asString(v)
		id.Edition = version.CommunityEdition
	default:
		result, err := gw.Execute(ctx, neo4jIdentityQuery, nil)
		if err != nil {
			return id, fmt.Errorf("failed to fetch neo4j components: %w", err)
		}
		records := result.Records()
		if len(records) == 0 {
			return id, errors.New("neo4j returned no components")
		}
		id.Version = asString(records[0]["version"])
		id.Edition = asString(records[0]["edition"])
	}

	if _, err := version.ParseTag(id.Version); err != nil {
		return id, err
	}
	return id, nil
}
