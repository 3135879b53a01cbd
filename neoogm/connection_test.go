package neoogm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// componentsServer answers the transactional endpoint as a Neo4j server of the given version.
func componentsServer(t *testing.T, version string, path *atomic.Value) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		var p payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))

		resp := neoResponse{}
		for range p.Statements {
			resp.Results = append(resp.Results, neoResult{
				Columns: []string{"version", "edition"},
				Data:    []record{{Row: []any{version, "community"}}},
			})
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestConnectOverHTTP(t *testing.T) {
	var path atomic.Value
	server := componentsServer(t, "5.14.0", &path)
	defer server.Close()

	conf := DefaultConnectionConfig()
	conf.BackgroundConnect = false
	conf.BatchSize = 0
	conf.HTTPClient = server.Client()

	conn, err := Connect(context.Background(), server.URL, conf, testLogger())
	require.NoError(t, err)
	defer conn.Close(context.Background())

	id, err := conn.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DatabaseIdentity{Version: "5.14.0", Edition: "community", Flavour: FlavourNeo4j}, id)
	assert.False(t, id.EditionIsEnterprise())
	assert.Equal(t, "/db/neo4j/tx/commit", path.Load())
}

func TestConnectBatchesOverHTTP(t *testing.T) {
	var path atomic.Value
	server := componentsServer(t, "4.4.30", &path)
	defer server.Close()

	conf := DefaultConnectionConfig()
	conf.BackgroundConnect = false
	conf.DatabaseName = "movies"
	conf.HTTPClient = server.Client()
	conf.MetricsRegistry = metrics.NewRegistry()

	conn, err := Connect(context.Background(), server.URL, conf, testLogger())
	require.NoError(t, err)
	defer conn.Close(context.Background())

	assert.IsType(t, &BatchCypherRunner{}, conn.Gateway())
	query := &CypherQuery{Statement: neo4jIdentityQuery}
	require.NoError(t, conn.CypherBatch(context.Background(), []*CypherQuery{query}))
	assert.Equal(t, "/db/movies/tx/commit", path.Load())
	require.NotNil(t, query.Result)
	assert.Equal(t, "4.4.30", query.Result.Records()[0]["version"])
}

func TestConnectRejectsBadURLs(t *testing.T) {
	conf := DefaultConnectionConfig()
	conf.BackgroundConnect = false

	for _, u := range []string{"", "localhost:7687", "ftp://graph:21"} {
		_, err := Connect(context.Background(), u, conf, testLogger())
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}

	memgraph := DefaultConnectionConfig()
	memgraph.BackgroundConnect = false
	memgraph.DatabaseFlavour = FlavourMemgraph
	_, err := Connect(context.Background(), "http://localhost:7444", memgraph, testLogger())
	assert.ErrorIs(t, err, ErrInvalidURL)

	background := DefaultConnectionConfig()
	_, err = Connect(context.Background(), "", background, testLogger())
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBackgroundConnectReturnsWhileDatabaseIsDown(t *testing.T) {
	conf := DefaultConnectionConfig()
	conf.ReconnectDelay = time.Hour
	conf.MetricsRegistry = metrics.NewRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Connect(ctx, "ftp://unreachable:21", conf, testLogger())
	require.NoError(t, err)
	defer conn.Close(context.Background())

	assert.IsType(t, &AutoConnectTransactional{}, conn.Gateway())
	_, err = conn.Identity(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestIdentityRefetchedAfterInvalidate(t *testing.T) {
	fake := newFakeNeo4j("5.14.0", "enterprise")
	gw := newCatalogGateway(fake)
	conn := testConnection(gw, nil)

	for i := 0; i < 3; i++ {
		_, err := conn.Identity(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, gw.statements("CALL dbms.components()"), 1)

	fake.version = "5.20.0"
	conn.Invalidate()
	id, err := conn.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5.20.0", id.Version)
}

func TestIdentityRejectsMalformedVersions(t *testing.T) {
	gw := newCatalogGateway(newFakeNeo4j("5.x", "enterprise"))
	_, err := testConnection(gw, nil).Identity(context.Background())
	var formatErr *FormatError
	assert.ErrorAs(t, err, &formatErr)
}

func TestEnsureLabelsInstallsDirectly(t *testing.T) {
	fake := newFakeNeo4j("5.14.0", "enterprise")
	conn := testConnection(newCatalogGateway(fake), nil)

	require.NoError(t, conn.EnsureLabels(context.Background(), personModel()))
	constraints, err := conn.Schema().ListConstraints(context.Background())
	require.NoError(t, err)
	assert.Len(t, constraints, 2)
}

func TestPrepareInstallsPendingModelsOnTheNewGateway(t *testing.T) {
	fake := newFakeNeo4j("5.14.0", "enterprise")
	conn := testConnection(nil, nil)
	conn.identity = &DatabaseIdentity{Version: "4.4.0", Flavour: FlavourNeo4j}

	require.NoError(t, conn.prepare(context.Background(), newCatalogGateway(fake), []Model{personModel()}))
	assert.Nil(t, conn.identity, "a new gateway may point at a different server")
	assert.Len(t, fake.constraints, 2)
}
