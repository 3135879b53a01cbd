package neoogm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Financial-Times/go-logger/v2"
)

// connectHook runs against every newly established gateway before it is handed out. pending holds
// the models whose labels still need installing.
type connectHook func(ctx context.Context, gw QueryGateway, pending []Model) error

func connectAuto(neoURL string, connect func(ctx context.Context) (QueryGateway, error), delay time.Duration, log *logger.UPPLogger, onConnect connectHook) (*AutoConnectTransactional, error) {
	// check that at least we have a valid url
	parsed, err := url.Parse(neoURL)
	if err != nil || parsed.Host == "" {
		return nil, ErrInvalidURL
	}

	a := &AutoConnectTransactional{
		url:          neoURL,
		connect:      connect,
		onConnect:    onConnect,
		needsConnect: make(chan struct{}, 1),
		done:         make(chan struct{}),
		delay:        delay,
		log:          log,
	}

	a.needsConnect <- struct{}{}

	go a.mainLoop()
	return a, nil
}

// AutoConnectTransactional is a QueryGateway that connects in the background and reconnects
// whenever the current connection fails for reasons other than a client error.
type AutoConnectTransactional struct {
	url       string
	connect   func(ctx context.Context) (QueryGateway, error)
	onConnect connectHook
	delay     time.Duration

	lk      sync.RWMutex
	conn    QueryGateway
	pending []Model

	needsConnect chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	log          *logger.UPPLogger
}

func (a *AutoConnectTransactional) mainLoop() {
	for {
		select {
		case <-a.needsConnect:
		case <-a.done:
			return
		}
		select {
		case <-a.done:
			return
		default:
		}

		for {
			err := a.doConnect()
			if err == nil {
				break
			}
			a.log.WithError(err).Warnf("connection to graph database failed. Sleeping for %s", a.delay)
			select {
			case <-time.After(a.delay):
			case <-a.done:
				return
			}
		}

		a.log.Infof("connected to %v", a.url)
	}
}

func (a *AutoConnectTransactional) doConnect() error {
	newConn, err := a.connect(context.Background())
	if err != nil {
		return err
	}

	return a.postConnect(newConn)
}

// run tasks that need to happen once we get a (new) connection
func (a *AutoConnectTransactional) postConnect(newConn QueryGateway) error {
	a.lk.Lock()
	defer a.lk.Unlock()

	if a.onConnect != nil {
		if err := a.onConnect(context.Background(), newConn, a.pending); err != nil {
			if closeErr := newConn.Close(context.Background()); closeErr != nil {
				a.log.WithError(closeErr).Debug("failed to close rejected connection")
			}
			return fmt.Errorf("failed to prepare new connection: %w", err)
		}
	}
	a.pending = nil

	if a.conn != nil && a.conn != newConn {
		if err := a.conn.Close(context.Background()); err != nil {
			a.log.WithError(err).Debug("failed to close previous connection")
		}
	}
	a.conn = newConn
	return nil
}

func (a *AutoConnectTransactional) String() string {
	return fmt.Sprintf("AutoConnectDb(%v)", a.url)
}

func (a *AutoConnectTransactional) CypherBatch(ctx context.Context, queries []*CypherQuery) error {
	a.lk.RLock()
	defer a.lk.RUnlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	err := a.conn.CypherBatch(ctx, queries)
	a.checkReconnect(err)
	return err
}

func (a *AutoConnectTransactional) Execute(ctx context.Context, statement string, params map[string]any) (*Result, error) {
	a.lk.RLock()
	defer a.lk.RUnlock()
	if a.conn == nil {
		return nil, ErrNotConnected
	}
	result, err := a.conn.Execute(ctx, statement, params)
	a.checkReconnect(err)
	return result, err
}

func (a *AutoConnectTransactional) checkReconnect(err error) {
	if err == nil {
		return
	}

	needReconnect := false

	var urlErr *url.Error
	switch {
	case isClientError(err):
		// no reconnect needed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the caller gave up, the connection is fine
	case errors.As(err, &urlErr):
		if !urlErr.Temporary() {
			needReconnect = true
		}
	default:
		a.log.WithError(err).Warnf("unhandled error type. Assuming a reconnect is required %T", err)
		needReconnect = true
	}

	if needReconnect {
		a.requestConnect()
	}
}

func (a *AutoConnectTransactional) requestConnect() {
	select {
	case a.needsConnect <- struct{}{}:
		// request a reconnect
	default:
		// reconnect already queued
	}
}

// EnsureLabels queues models whose constraints and indexes must be installed. They are applied on
// the next (re)connection, which is requested straight away.
func (a *AutoConnectTransactional) EnsureLabels(models ...Model) {
	a.lk.Lock()
	defer a.lk.Unlock()
	a.pending = append(a.pending, models...)
	a.requestConnect()
}

func (a *AutoConnectTransactional) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.done) })

	a.lk.Lock()
	defer a.lk.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close(ctx)
	a.conn = nil
	return err
}
