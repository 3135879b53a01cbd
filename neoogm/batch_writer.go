package neoogm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcrowley/go-metrics"
)

// Record holds the raw property values of one entity in a batch call. Keys must be properties
// declared on the model; nil values count as absent.
type Record map[string]any

// Node is a node returned by the batch writer.
type Node struct {
	ElementID  string
	Labels     []string
	Properties map[string]any
}

// Direction orients the relationship of a RelationshipBinding, seen from the anchor.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// RelationshipBinding scopes GetOrCreateMany to the nodes related to Anchor: a node only counts as
// existing when it is already connected to the anchor, and new nodes are created connected.
type RelationshipBinding struct {
	Anchor *Node
	// AnchorLabel narrows the anchor lookup. Defaults to the first label of Anchor.
	AnchorLabel string
	Type        string
	Direction   Direction
}

// BatchWriter creates and merges many nodes of one model per statement. Every record is validated
// before anything is sent, and each call is a single statement, so a call either writes all of its
// records or none of them.
type BatchWriter struct {
	conn *Connection

	records             metrics.Meter
	validationFailures  metrics.Counter
	uniquenessConflicts metrics.Counter
}

func newBatchWriter(c *Connection) *BatchWriter {
	return &BatchWriter{
		conn:                c,
		records:             metrics.GetOrRegisterMeter("batch-writer.records", c.registry),
		validationFailures:  metrics.GetOrRegisterCounter("batch-writer.validation-failures", c.registry),
		uniquenessConflicts: metrics.GetOrRegisterCounter("batch-writer.uniqueness-violations", c.registry),
	}
}

// CreateMany creates one node per record. A record that fails validation fails the call with a
// ValidationError; a clash with a uniqueness constraint, either within the batch or with stored
// data, fails it with a UniquenessViolation.
func (w *BatchWriter) CreateMany(ctx context.Context, model *NodeModel, records ...Record) ([]*Node, error) {
	if len(records) == 0 {
		return nil, nil
	}

	batch := make([]any, 0, len(records))
	for _, record := range records {
		props, err := deflate(model.modelDefinition, record)
		if err != nil {
			w.validationFailures.Inc(1)
			return nil, err
		}
		batch = append(batch, props)
	}

	d, err := w.prepare(ctx, model)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UNWIND $batch AS props CREATE (n:%s) SET n = props %s", quoteIdent(model.Label()), returnClause(d))
	return w.run(ctx, "create-many", model, stmt, map[string]any{"batch": batch}, len(records))
}

// CreateOrUpdateMany merges each record on the model's merge key. New nodes get every supplied
// and defaulted value; existing nodes get the supplied non-nil values, everything else is left as
// it is. Records that resolve to the same node share one *Node in the result.
func (w *BatchWriter) CreateOrUpdateMany(ctx context.Context, model *NodeModel, records ...Record) ([]*Node, error) {
	return w.merge(ctx, "create-or-update-many", model, nil, true, records)
}

// GetOrCreateMany merges each record on the model's merge key without touching nodes that already
// exist. With a binding, the match and the creation are both relative to the anchor node, so
// concurrent callers with different anchors never share or duplicate each other's nodes.
func (w *BatchWriter) GetOrCreateMany(ctx context.Context, model *NodeModel, binding *RelationshipBinding, records ...Record) ([]*Node, error) {
	return w.merge(ctx, "get-or-create-many", model, binding, false, records)
}

func (w *BatchWriter) merge(ctx context.Context, op string, model *NodeModel, binding *RelationshipBinding, update bool, records []Record) ([]*Node, error) {
	key := model.MergeKey()
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMergeKey, model.Label())
	}
	if binding != nil {
		if err := binding.validate(); err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	batch := make([]any, 0, len(records))
	for _, record := range records {
		params, err := mergeParams(model, key, record)
		if err != nil {
			w.validationFailures.Inc(1)
			return nil, err
		}
		batch = append(batch, params)
	}

	d, err := w.prepare(ctx, model)
	if err != nil {
		return nil, err
	}

	keyProps := make([]string, len(key))
	for i, p := range key {
		name := quoteIdent(p.Name)
		keyProps[i] = fmt.Sprintf("%s: params.create.%s", name, name)
	}
	target := fmt.Sprintf("(n:%s {%s})", quoteIdent(model.Label()), strings.Join(keyProps, ", "))

	var sb strings.Builder
	params := map[string]any{"batch": batch}
	if binding != nil {
		anchor := "(source)"
		if label := binding.anchorLabel(); label != "" {
			anchor = fmt.Sprintf("(source:%s)", quoteIdent(label))
		}
		fmt.Fprintf(&sb, "MATCH %s WHERE %s WITH source UNWIND $batch AS params ", anchor, d.matchNodeID("source", "source_id"))
		if binding.Direction == Incoming {
			fmt.Fprintf(&sb, "MERGE (source)<-[:%s]-%s ", quoteIdent(binding.Type), target)
		} else {
			fmt.Fprintf(&sb, "MERGE (source)-[:%s]->%s ", quoteIdent(binding.Type), target)
		}
		params["source_id"] = binding.Anchor.ElementID
	} else {
		fmt.Fprintf(&sb, "UNWIND $batch AS params MERGE %s ", target)
	}
	sb.WriteString("ON CREATE SET n = params.create ")
	if update {
		sb.WriteString("ON MATCH SET n += params.update ")
	}
	sb.WriteString(returnClause(d))

	nodes, err := w.run(ctx, op, model, sb.String(), params, len(records))
	if binding != nil && errors.Is(err, errRowCount) {
		return nil, fmt.Errorf("%w: %s", ErrAnchorNotFound, binding.Anchor.ElementID)
	}
	return nodes, err
}

// mergeParams splits a record into the values used when the node is created and the values
// applied when it already exists.
func mergeParams(model *NodeModel, key []PropertySpec, record Record) (map[string]any, error) {
	create, err := deflate(model.modelDefinition, record)
	if err != nil {
		return nil, err
	}
	for _, p := range key {
		if _, ok := create[p.Name]; !ok {
			return nil, &ValidationError{Model: model.Label(), Property: p.Name, Err: ErrRequired}
		}
	}

	// defaults are for new nodes only
	update := make(map[string]any, len(record))
	for name, raw := range record {
		if raw != nil {
			update[name] = create[name]
		}
	}
	return map[string]any{"create": create, "update": update}, nil
}

func (b *RelationshipBinding) validate() error {
	if b.Anchor == nil || b.Anchor.ElementID == "" {
		return fmt.Errorf("%w: binding has no anchor", ErrAnchorNotFound)
	}
	if !identifierPattern.MatchString(b.Type) {
		return fmt.Errorf("invalid relationship type %q", b.Type)
	}
	return nil
}

func (b *RelationshipBinding) anchorLabel() string {
	if b.AnchorLabel != "" {
		return b.AnchorLabel
	}
	if len(b.Anchor.Labels) > 0 {
		return b.Anchor.Labels[0]
	}
	return ""
}

func returnClause(d dialect) string {
	return fmt.Sprintf("RETURN %s AS element_id, labels(n) AS labels, properties(n) AS props", d.nodeID("n"))
}

// prepare installs the model's labels on first use when configured to, and picks the dialect.
func (w *BatchWriter) prepare(ctx context.Context, model *NodeModel) (dialect, error) {
	if w.conn.conf.AutoInstallLabels {
		if err := w.conn.installOnce(ctx, model); err != nil {
			return nil, err
		}
	}
	return w.conn.dialect(ctx)
}

var errRowCount = errors.New("unexpected number of rows")

func (w *BatchWriter) run(ctx context.Context, op string, model *NodeModel, stmt string, params map[string]any, expected int) ([]*Node, error) {
	query := &CypherQuery{Statement: stmt, Parameters: params}

	var err error
	metrics.GetOrRegisterTimer("batch-writer."+op, w.conn.registry).Time(func() {
		err = w.conn.CypherBatch(ctx, []*CypherQuery{query})
	})
	if err != nil {
		err = classifyWriteError(err)
		if IsUniquenessViolation(err) {
			w.uniquenessConflicts.Inc(1)
		}
		return nil, err
	}

	if query.Result == nil || len(query.Result.Rows) != expected {
		got := 0
		if query.Result != nil {
			got = len(query.Result.Rows)
		}
		return nil, fmt.Errorf("%w: expected %d, got %d", errRowCount, expected, got)
	}
	w.records.Mark(int64(expected))

	return decodeNodes(model, query.Result)
}

// decodeNodes builds one *Node per row. Rows for the same element share a pointer, holding the
// properties of the last of them.
func decodeNodes(model *NodeModel, result *Result) ([]*Node, error) {
	seen := make(map[string]*Node, len(result.Rows))
	nodes := make([]*Node, 0, len(result.Rows))
	for _, row := range result.Records() {
		id := asString(row["element_id"])
		if id == "" {
			return nil, errors.New("row without element id")
		}
		stored, ok := row["props"].(map[string]any)
		if !ok && row["props"] != nil {
			return nil, fmt.Errorf("unexpected properties value %T", row["props"])
		}
		props := inflate(model.modelDefinition, stored)

		if node, ok := seen[id]; ok {
			node.Properties = props
			nodes = append(nodes, node)
			continue
		}
		node := &Node{
			ElementID:  id,
			Labels:     asStrings(row["labels"]),
			Properties: props,
		}
		seen[id] = node
		nodes = append(nodes, node)
	}
	return nodes, nil
}
