package neoogm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/rcrowley/go-metrics"
)

type ConnectionConfig struct {
	// DatabaseFlavour selects the DDL dialect and how the server identity is fetched.
	DatabaseFlavour Flavour
	// DatabaseName is the database sessions run against. Empty means the server default.
	DatabaseName string
	// AutoInstallLabels makes the batch writer install a model's constraints and indexes before
	// its first write through this connection.
	AutoInstallLabels bool
	// InstallExistenceConstraints turns Required properties into existence constraints where the
	// server supports them.
	InstallExistenceConstraints bool
	// BatchSize controls how and whether to batch multiple requests to
	// CypherBatch into a single transaction. BatchSize 0 disables this behaviour.
	// Values >0 indicate the largest preferred batch size.  Actual sizes
	// may be larger because values from a single call will never be split.
	BatchSize int
	// BackgroundConnect indicates that the Connection should be available when
	// the database is not, and will connect and re-connect as required.
	BackgroundConnect bool
	// ReconnectDelay is the pause between failed background connection attempts.
	ReconnectDelay time.Duration
	// Optionally a custom http.Client can be supplied for http:// URLs
	HTTPClient *http.Client
	// MetricsRegistry receives the batch runner and batch writer metrics. nil means
	// metrics.DefaultRegistry.
	MetricsRegistry metrics.Registry
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		DatabaseFlavour: FlavourNeo4j,
		BatchSize:       1024,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   60 * time.Second,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost:   100,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second, // from DefaultTransport
				TLSHandshakeTimeout:   10 * time.Second, // from DefaultTransport
				ExpectContinueTimeout: 1 * time.Second,  // from DefaultTransport
			},
			Timeout: 60 * time.Second,
		},
		BackgroundConnect: true,
		ReconnectDelay:    30 * time.Second,
	}
}

// Connection carries everything the schema catalog and the batch writer need: the gateway, the
// configuration and the cached identity of the server.
type Connection struct {
	gw       QueryGateway
	conf     ConnectionConfig
	log      *logger.UPPLogger
	registry metrics.Registry

	mu         sync.Mutex
	identity   *DatabaseIdentity
	generation uint64
	installed  map[string]bool
}

// NewConnection wraps an existing gateway. conf and log may be nil.
func NewConnection(gw QueryGateway, conf *ConnectionConfig, log *logger.UPPLogger) *Connection {
	c := newConnection(conf, log)
	c.gw = gw
	return c
}

func newConnection(conf *ConnectionConfig, log *logger.UPPLogger) *Connection {
	if conf == nil {
		conf = DefaultConnectionConfig()
	}
	// log is an optional parameter
	if log == nil {
		log = logger.NewUPPInfoLogger("neo-ogm-go")
	}
	registry := conf.MetricsRegistry
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	c := &Connection{
		conf:      *conf,
		log:       log,
		registry:  registry,
		installed: map[string]bool{},
	}
	if c.conf.DatabaseFlavour == "" {
		c.conf.DatabaseFlavour = FlavourNeo4j
	}
	return c
}

// Connect dials neoURL. bolt://, neo4j:// and their TLS variants use the Bolt driver; http:// and
// https:// use the Neo4j transactional endpoint. With BackgroundConnect the call returns after the
// first connection attempt whether or not it succeeded.
func Connect(ctx context.Context, neoURL string, conf *ConnectionConfig, log *logger.UPPLogger) (*Connection, error) {
	c := newConnection(conf, log)

	if !c.conf.BackgroundConnect {
		gw, err := connectDefault(ctx, neoURL, &c.conf, c.log)
		if err != nil {
			return nil, err
		}
		c.gw = gw
		return c, nil
	}

	trying := make(chan struct{}, 1)
	f := func(ctx context.Context) (QueryGateway, error) {
		gw, err := connectDefault(ctx, neoURL, &c.conf, c.log)
		select {
		case trying <- struct{}{}:
		default:
		}
		return gw, err
	}
	delay := c.conf.ReconnectDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	auto, err := connectAuto(neoURL, f, delay, c.log, c.prepare)
	if err != nil {
		return nil, err
	}
	c.gw = auto

	select {
	case <-trying:
	case <-ctx.Done():
	}
	return c, nil
}

func connectDefault(ctx context.Context, neoURL string, conf *ConnectionConfig, log *logger.UPPLogger) (QueryGateway, error) {
	parsed, err := url.Parse(neoURL)
	if err != nil || parsed.Host == "" {
		return nil, ErrInvalidURL
	}

	var gw QueryGateway
	switch parsed.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
		gw, err = newBoltGateway(ctx, neoURL, conf.DatabaseName, log)
	case "http", "https":
		if conf.DatabaseFlavour == FlavourMemgraph {
			return nil, fmt.Errorf("%w: memgraph is only reachable over bolt", ErrInvalidURL)
		}
		if parsed.Path == "" || parsed.Path == "/" {
			name := conf.DatabaseName
			if name == "" {
				name = "neo4j"
			}
			parsed.Path = "/db/" + name
		}
		gw, err = newHTTPGateway(parsed.String(), conf.HTTPClient)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if conf.BatchSize > 0 {
		gw = NewBatchCypherRunner(gw, conf.BatchSize, conf.MetricsRegistry)
	}
	return gw, nil
}

// prepare runs against every gateway the background connector establishes. The cached identity
// belongs to the previous server and is dropped; queued models are installed on the new gateway
// before anyone else can use it.
func (c *Connection) prepare(ctx context.Context, gw QueryGateway, pending []Model) error {
	c.Invalidate()
	if len(pending) == 0 {
		return nil
	}

	direct := NewConnection(gw, &c.conf, c.log)
	schema := direct.Schema()
	for _, m := range pending {
		if err := schema.InstallLabels(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) String() string {
	if c.gw == nil {
		return "Connection(<nil>)"
	}
	return fmt.Sprintf("Connection(%s)", c.gw.String())
}

// Gateway exposes the underlying QueryGateway.
func (c *Connection) Gateway() QueryGateway {
	return c.gw
}

func (c *Connection) Config() ConnectionConfig {
	return c.conf
}

func (c *Connection) Log() *logger.UPPLogger {
	return c.log
}

func (c *Connection) Execute(ctx context.Context, statement string, params map[string]any) (*Result, error) {
	if c.gw == nil {
		return nil, ErrNotConnected
	}
	return c.gw.Execute(ctx, statement, params)
}

func (c *Connection) CypherBatch(ctx context.Context, queries []*CypherQuery) error {
	if c.gw == nil {
		return ErrNotConnected
	}
	return c.gw.CypherBatch(ctx, queries)
}

// Identity returns the cached server identity, fetching it on first use.
func (c *Connection) Identity(ctx context.Context) (DatabaseIdentity, error) {
	c.mu.Lock()
	if c.identity != nil {
		id := *c.identity
		c.mu.Unlock()
		return id, nil
	}
	generation := c.generation
	c.mu.Unlock()

	// fetched without the lock: a reconnect may need to Invalidate while the query is in flight
	id, err := fetchIdentity(ctx, c, c.conf.DatabaseFlavour)
	if err != nil {
		return DatabaseIdentity{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == generation {
		c.identity = &id
	}
	return id, nil
}

// Invalidate forgets the cached identity so that the next catalog or write operation asks the
// server again.
func (c *Connection) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.generation++
}

func (c *Connection) dialect(ctx context.Context) (dialect, error) {
	id, err := c.Identity(ctx)
	if err != nil {
		return nil, err
	}
	return dialectFor(id)
}

// Schema returns the catalog manager bound to this connection.
func (c *Connection) Schema() *SchemaCatalog {
	return &SchemaCatalog{conn: c}
}

// Batch returns the batch writer bound to this connection.
func (c *Connection) Batch() *BatchWriter {
	return newBatchWriter(c)
}

// EnsureLabels installs the constraints and indexes of models. With a background connection they
// are queued and installed as soon as a connection is available, now and after every reconnect
// that happens before they succeed.
func (c *Connection) EnsureLabels(ctx context.Context, models ...Model) error {
	if auto, ok := c.gw.(*AutoConnectTransactional); ok {
		auto.EnsureLabels(models...)
		return nil
	}

	schema := c.Schema()
	for _, m := range models {
		if err := schema.InstallLabels(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// installOnce runs InstallLabels for m the first time it is called for that model.
func (c *Connection) installOnce(ctx context.Context, m Model) error {
	key := registryKey(m)
	c.mu.Lock()
	done := c.installed[key]
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.Schema().InstallLabels(ctx, m); err != nil {
		return err
	}

	c.mu.Lock()
	c.installed[key] = true
	c.mu.Unlock()
	return nil
}

func (c *Connection) Close(ctx context.Context) error {
	if c.gw == nil {
		return nil
	}
	return c.gw.Close(ctx)
}
