package neoogm

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// boltGateway is a QueryGateway over the Bolt protocol, which both Neo4j and Memgraph speak.
type boltGateway struct {
	url      string
	database string
	driver   neo4j.DriverWithContext
	log      *logger.UPPLogger
}

// newBoltGateway connects to a bolt://, bolt+s://, neo4j:// or neo4j+s:// URL. Credentials are
// taken from the URL user info.
func newBoltGateway(ctx context.Context, neoURL, database string, log *logger.UPPLogger) (*boltGateway, error) {
	parsed, err := url.Parse(neoURL)
	if err != nil || parsed.Host == "" {
		return nil, ErrInvalidURL
	}

	auth := neo4j.NoAuth()
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = neo4j.BasicAuth(parsed.User.Username(), password, "")
	}
	safeURL := *parsed
	safeURL.User = nil

	driver, err := neo4j.NewDriverWithContext(safeURL.String(), auth)
	if err != nil {
		return nil, fmt.Errorf("unable to create driver for %s: %w", safeURL.String(), err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		if closeErr := driver.Close(ctx); closeErr != nil {
			log.WithError(closeErr).Debug("failed to close driver")
		}
		return nil, err
	}

	return &boltGateway{
		url:      safeURL.String(),
		database: database,
		driver:   driver,
		log:      log,
	}, nil
}

func (g *boltGateway) String() string {
	return g.url
}

func (g *boltGateway) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
}

func (g *boltGateway) closeSession(ctx context.Context, session neo4j.SessionWithContext) {
	if err := session.Close(ctx); err != nil {
		g.log.WithError(err).Debug("failed to close session")
	}
}

// Execute runs statement in an auto-commit transaction. Schema statements on Memgraph and
// CALL { } IN TRANSACTIONS on Neo4j are refused inside explicit transactions.
func (g *boltGateway) Execute(ctx context.Context, statement string, params map[string]any) (*Result, error) {
	session := g.session(ctx)
	defer g.closeSession(ctx, session)

	result, err := session.Run(ctx, statement, params)
	if err != nil {
		return nil, err
	}
	return collect(ctx, result)
}

// CypherBatch runs all queries in one managed write transaction.
func (g *boltGateway) CypherBatch(ctx context.Context, queries []*CypherQuery) error {
	if len(queries) == 0 {
		return nil
	}

	session := g.session(ctx)
	defer g.closeSession(ctx, session)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, query := range queries {
			result, err := tx.Run(ctx, query.Statement, query.Parameters)
			if err != nil {
				return nil, err
			}
			if query.Result, err = collect(ctx, result); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (g *boltGateway) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func collect(ctx context.Context, result neo4j.ResultWithContext) (*Result, error) {
	keys, err := result.Keys()
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Values)
	}
	return &Result{Keys: keys, Rows: rows}, nil
}
