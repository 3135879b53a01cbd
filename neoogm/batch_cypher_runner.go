package neoogm

import (
	"context"
	"sync"

	"github.com/rcrowley/go-metrics"
)

// NewBatchCypherRunner wraps gw so that concurrent CypherBatch calls are coalesced into a single
// transaction of up to count statements. A single call is never split, so batches can be larger.
// Execute bypasses the batcher.
func NewBatchCypherRunner(gw QueryGateway, count int, registry metrics.Registry) *BatchCypherRunner {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	bcr := &BatchCypherRunner{
		QueryGateway: gw,
		ch:           make(chan cypherQueryBatch, count),
		done:         make(chan struct{}),
		count:        count,
		registry:     registry,
	}

	go bcr.batcher()

	return bcr
}

type BatchCypherRunner struct {
	QueryGateway

	ch        chan cypherQueryBatch
	done      chan struct{}
	closeOnce sync.Once
	count     int
	registry  metrics.Registry
}

func (bcr *BatchCypherRunner) CypherBatch(ctx context.Context, queries []*CypherQuery) error {
	select {
	case <-bcr.done:
		return ErrNotConnected
	default:
	}

	errCh := make(chan error, 1)
	select {
	case bcr.ch <- cypherQueryBatch{ctx, queries, errCh}:
	case <-bcr.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-bcr.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the batcher and closes the wrapped gateway.
func (bcr *BatchCypherRunner) Close(ctx context.Context) error {
	bcr.closeOnce.Do(func() { close(bcr.done) })
	return bcr.QueryGateway.Close(ctx)
}

type cypherQueryBatch struct {
	ctx     context.Context
	queries []*CypherQuery
	err     chan error
}

func (bcr *BatchCypherRunner) batcher() {
	g := metrics.GetOrRegisterGauge("batchQueueSize", bcr.registry)
	b := metrics.GetOrRegisterMeter("batchThroughput", bcr.registry)
	t := metrics.GetOrRegisterTimer("execute-graph-batch", bcr.registry)
	for {
		var currentQueries []*CypherQuery
		var currentErrorChannels []chan error
		// wait for at least one
		var cb cypherQueryBatch
		select {
		case cb = <-bcr.ch:
		case <-bcr.done:
			return
		}
		// the caller has already returned ctx.Err(), so its statements must not run
		if cb.ctx.Err() != nil {
			continue
		}
		// the group outlives any single caller's cancellation
		ctx := context.WithoutCancel(cb.ctx)
		currentErrorChannels = append(currentErrorChannels, cb.err)
		currentQueries = append(currentQueries, cb.queries...)
		g.Update(int64(len(currentQueries)))
		// add any others pending (up to max size)
		group := []cypherQueryBatch{cb}
		for len(bcr.ch) > 0 && len(currentQueries) < bcr.count {
			cb = <-bcr.ch
			if cb.ctx.Err() != nil {
				continue
			}
			group = append(group, cb)
			currentErrorChannels = append(currentErrorChannels, cb.err)
			currentQueries = append(currentQueries, cb.queries...)
			g.Update(int64(len(currentQueries)))
		}
		// run the batch of queries
		var err error
		t.Time(func() {
			err = bcr.QueryGateway.CypherBatch(ctx, currentQueries)
		})
		if err != nil && len(group) > 1 {
			// the whole transaction rolled back; rerun each caller alone so that only the
			// caller at fault sees the error
			for _, member := range group {
				member.err <- bcr.QueryGateway.CypherBatch(context.WithoutCancel(member.ctx), member.queries)
			}
		} else {
			for _, cec := range currentErrorChannels {
				cec <- err
			}
		}
		b.Mark(int64(len(currentQueries)))
		g.Update(0)
	}
}
