package neoogm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Check will use the supplied gateway to check connectivity to the database
func Check(ctx context.Context, gw QueryGateway) error {
	_, err := gw.Execute(ctx, "MATCH (n) RETURN count(n) LIMIT 1", nil)
	return err
}

// CheckWritable verifies that the connection points at an instance that accepts writes: the
// cluster leader on Neo4j, the main instance on Memgraph.
func CheckWritable(ctx context.Context, c *Connection) error {
	if c.conf.DatabaseFlavour == FlavourMemgraph {
		result, err := c.Execute(ctx, "SHOW REPLICATION ROLE", nil)
		if err != nil {
			return err
		}
		v, ok := result.Single()
		if !ok {
			return errors.New("got empty response from SHOW REPLICATION ROLE")
		}
		if role := asString(v); role != "main" {
			return errors.New("role has to be main for writing but it's " + role)
		}
		return nil
	}

	database := c.conf.DatabaseName
	if database == "" {
		database = "neo4j"
	}
	result, err := c.Execute(ctx, "CALL dbms.cluster.role($database) YIELD role RETURN role", map[string]any{"database": database})
	if err != nil {
		return err
	}
	v, ok := result.Single()
	if !ok || asString(v) == "" {
		return errors.New("got empty response from dbms.cluster.role()")
	}

	switch role := asString(v); role {
	case "LEADER", "PRIMARY":
		return nil
	default:
		return errors.New("role has to be LEADER for writing but it's " + role)
	}
}

// AsyncHealthcheck runs Check on a ticker and keeps the latest outcome.
type AsyncHealthcheck struct {
	mu               sync.RWMutex
	connectionStatus error
	checkTimestamp   time.Time
	ticker           *time.Ticker
	stop             chan struct{}
}

func (ahc *AsyncHealthcheck) Initialise(gw QueryGateway, duration time.Duration) {
	ahc.ticker = time.NewTicker(duration)
	ahc.stop = make(chan struct{})

	go func() {
		for {
			select {
			case t := <-ahc.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), duration)
				status := Check(ctx, gw)
				cancel()

				ahc.mu.Lock()
				ahc.checkTimestamp = t
				ahc.connectionStatus = status
				ahc.mu.Unlock()
			case <-ahc.stop:
				return
			}
		}
	}()
}

// Check returns the outcome and time of the last completed check.
func (ahc *AsyncHealthcheck) Check() (time.Time, error) {
	ahc.mu.RLock()
	defer ahc.mu.RUnlock()
	return ahc.checkTimestamp, ahc.connectionStatus
}

func (ahc *AsyncHealthcheck) Stop() {
	ahc.ticker.Stop()
	close(ahc.stop)
}
