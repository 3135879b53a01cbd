package neoogm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Financial-Times/go-logger/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rcrowley/go-metrics"
)

// scriptedGateway answers every statement through handler and records what it was sent.
type scriptedGateway struct {
	mu       sync.Mutex
	handler  func(statement string, params map[string]any) (*Result, error)
	executed []string
	batches  int
	closed   bool
}

func (g *scriptedGateway) String() string {
	return "scripted"
}

func (g *scriptedGateway) Execute(_ context.Context, statement string, params map[string]any) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, statement)
	return g.handler(statement, params)
}

func (g *scriptedGateway) CypherBatch(_ context.Context, queries []*CypherQuery) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches++
	for _, q := range queries {
		g.executed = append(g.executed, q.Statement)
		result, err := g.handler(q.Statement, q.Parameters)
		if err != nil {
			return err
		}
		q.Result = result
	}
	return nil
}

func (g *scriptedGateway) Close(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// statements returns the recorded statements that start with prefix.
func (g *scriptedGateway) statements(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, s := range g.executed {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func testLogger() *logger.UPPLogger {
	return logger.NewUPPLogger("neo-ogm-go-test", "PANIC")
}

func testConnection(gw QueryGateway, mutate func(*ConnectionConfig)) *Connection {
	conf := &ConnectionConfig{
		DatabaseFlavour: FlavourNeo4j,
		MetricsRegistry: metrics.NewRegistry(),
	}
	if mutate != nil {
		mutate(conf)
	}
	return NewConnection(gw, conf, testLogger())
}

func neoErr(code, msg string) error {
	return &neo4j.Neo4jError{Code: code, Msg: msg}
}

type fakeRule struct {
	name   string
	kind   string
	entity string
	label  string
	prop   string
	owner  string
}

func (r fakeRule) sameSchema(o fakeRule) bool {
	return r.kind == o.kind && r.entity == o.entity && r.label == o.label && r.prop == o.prop
}

var (
	fakeCreateConstraint = regexp.MustCompile(`^CREATE CONSTRAINT (\S+) FOR (?:\(n:(\w+)\)|\(\)-\[r:(\w+)\]-\(\)) REQUIRE [nr]\.(\w+) IS (UNIQUE|NOT NULL)$`)
	fakeCreateIndex      = regexp.MustCompile(`^CREATE INDEX (\S+) FOR (?:\(n:(\w+)\)|\(\)-\[r:(\w+)\]-\(\)) ON \([nr]\.(\w+)\)$`)
	fakeDrop             = regexp.MustCompile(`^DROP (CONSTRAINT|INDEX) (\S+)$`)
)

// fakeNeo4j keeps a schema catalog in memory and answers the statements the Neo4j dialect sends.
type fakeNeo4j struct {
	version     string
	edition     string
	constraints []fakeRule
	indexes     []fakeRule
	nodes       int
}

func newFakeNeo4j(version, edition string) *fakeNeo4j {
	return &fakeNeo4j{
		version: version,
		edition: edition,
		indexes: []fakeRule{
			{name: "index_343aff4e", kind: "LOOKUP", entity: "NODE"},
			{name: "index_f7700477", kind: "LOOKUP", entity: "RELATIONSHIP"},
		},
	}
}

func entityOf(nodeLabel, relType string) (string, string) {
	if relType != "" {
		return "RELATIONSHIP", relType
	}
	return "NODE", nodeLabel
}

func (f *fakeNeo4j) handle(statement string, _ map[string]any) (*Result, error) {
	switch {
	case strings.HasPrefix(statement, "CALL dbms.components()"):
		return &Result{Keys: []string{"version", "edition"}, Rows: [][]any{{f.version, f.edition}}}, nil
	case statement == "SHOW CONSTRAINTS":
		result := &Result{Keys: []string{"name", "type", "entityType", "labelsOrTypes", "properties", "ownedIndex"}}
		for _, c := range f.constraints {
			var owned any
			if c.kind == "UNIQUENESS" {
				owned = c.name
			}
			result.Rows = append(result.Rows, []any{c.name, c.kind, c.entity, []any{c.label}, []any{c.prop}, owned})
		}
		return result, nil
	case statement == "SHOW INDEXES":
		result := &Result{Keys: []string{"name", "type", "entityType", "labelsOrTypes", "properties", "owningConstraint"}}
		for _, i := range f.indexes {
			var labels, props, owner any
			if i.label != "" {
				labels, props = []any{i.label}, []any{i.prop}
			}
			if i.owner != "" {
				owner = i.owner
			}
			result.Rows = append(result.Rows, []any{i.name, i.kind, i.entity, labels, props, owner})
		}
		return result, nil
	case strings.HasPrefix(statement, "MATCH (a) CALL"), statement == "MATCH (n) DETACH DELETE n":
		f.nodes = 0
		return &Result{}, nil
	case strings.HasPrefix(statement, "MATCH (a) RETURN count(a) > 0"):
		return &Result{Keys: []string{"populated"}, Rows: [][]any{{f.nodes > 0}}}, nil
	}

	if m := fakeCreateConstraint.FindStringSubmatch(statement); m != nil {
		entity, label := entityOf(m[2], m[3])
		rule := fakeRule{name: m[1], entity: entity, label: label, prop: m[4], kind: "UNIQUENESS"}
		if m[5] == "NOT NULL" {
			rule.kind = entity + "_PROPERTY_EXISTENCE"
		}
		for _, c := range f.constraints {
			if c.sameSchema(rule) {
				return nil, neoErr(codeEquivalentRuleExists, "An equivalent constraint already exists")
			}
			if c.name == rule.name {
				return nil, neoErr("Neo.ClientError.Schema.ConstraintWithNameAlreadyExists", fmt.Sprintf("There already exists a constraint called '%s'.", rule.name))
			}
		}
		f.constraints = append(f.constraints, rule)
		if rule.kind == "UNIQUENESS" {
			f.indexes = append(f.indexes, fakeRule{name: rule.name, kind: "RANGE", entity: entity, label: label, prop: rule.prop, owner: rule.name})
		}
		return &Result{}, nil
	}

	if m := fakeCreateIndex.FindStringSubmatch(statement); m != nil {
		entity, label := entityOf(m[2], m[3])
		rule := fakeRule{name: m[1], kind: "RANGE", entity: entity, label: label, prop: m[4]}
		for _, i := range f.indexes {
			if i.sameSchema(rule) {
				return nil, neoErr(codeEquivalentRuleExists, "An equivalent index already exists")
			}
			if i.name == rule.name {
				return nil, neoErr("Neo.ClientError.Schema.IndexWithNameAlreadyExists", fmt.Sprintf("There already exists an index called '%s'.", rule.name))
			}
		}
		f.indexes = append(f.indexes, rule)
		return &Result{}, nil
	}

	if m := fakeDrop.FindStringSubmatch(statement); m != nil {
		if m[1] == "CONSTRAINT" {
			for n, c := range f.constraints {
				if c.name == m[2] {
					f.constraints = append(f.constraints[:n], f.constraints[n+1:]...)
					f.dropIndex(func(i fakeRule) bool { return i.owner == c.name })
					return &Result{}, nil
				}
			}
			return nil, neoErr("Neo.DatabaseError.Schema.ConstraintDropFailed", "No such constraint "+m[2])
		}
		if f.dropIndex(func(i fakeRule) bool { return i.name == m[2] }) {
			return &Result{}, nil
		}
		return nil, neoErr("Neo.DatabaseError.Schema.IndexDropFailed", "No such index "+m[2])
	}

	return nil, neoErr("Neo.ClientError.Statement.SyntaxError", "unexpected statement: "+statement)
}

func (f *fakeNeo4j) dropIndex(match func(fakeRule) bool) bool {
	for n, i := range f.indexes {
		if match(i) {
			f.indexes = append(f.indexes[:n], f.indexes[n+1:]...)
			return true
		}
	}
	return false
}

type fakeNode struct {
	id     string
	labels []string
	props  map[string]any
}

// fakeGraph answers identity queries and the batch writer's CREATE and MERGE statements against an
// in-memory node store keyed on keyProps.
type fakeGraph struct {
	version  string
	flavour  Flavour
	keyProps []string
	unique   []string
	label    string

	nodes   []*fakeNode
	anchors map[string]bool
	// bound holds nodes created under an anchor, keyed by anchor then merge key
	bound map[string]map[string]*fakeNode
	next  int
}

func newFakeGraph(label string, keyProps, unique []string) *fakeGraph {
	return &fakeGraph{
		version:  "5.14.0",
		flavour:  FlavourNeo4j,
		keyProps: keyProps,
		unique:   unique,
		label:    label,
		anchors:  map[string]bool{},
		bound:    map[string]map[string]*fakeNode{},
	}
}

func (g *fakeGraph) handle(statement string, params map[string]any) (*Result, error) {
	switch {
	case strings.HasPrefix(statement, "CALL dbms.components()"):
		return &Result{Keys: []string{"version", "edition"}, Rows: [][]any{{g.version, "enterprise"}}}, nil
	case statement == "SHOW VERSION":
		return &Result{Keys: []string{"version"}, Rows: [][]any{{g.version}}}, nil
	case strings.HasPrefix(statement, "UNWIND $batch AS props CREATE"):
		return g.create(params["batch"].([]any))
	case strings.Contains(statement, "MERGE"):
		var anchor string
		if strings.HasPrefix(statement, "MATCH (source") {
			anchor = params["source_id"].(string)
			if !g.anchors[anchor] {
				return &Result{Keys: nodeKeys}, nil
			}
		}
		return g.merge(params["batch"].([]any), anchor, strings.Contains(statement, "ON MATCH SET"))
	}
	return nil, neoErr("Neo.ClientError.Statement.SyntaxError", "unexpected statement: "+statement)
}

var nodeKeys = []string{"element_id", "labels", "props"}

func (g *fakeGraph) row(n *fakeNode) []any {
	props := make(map[string]any, len(n.props))
	for k, v := range n.props {
		props[k] = v
	}
	labels := make([]any, len(n.labels))
	for i, l := range n.labels {
		labels[i] = l
	}
	return []any{n.id, labels, props}
}

func (g *fakeGraph) newNode(props map[string]any) *fakeNode {
	g.next++
	n := &fakeNode{id: fmt.Sprintf("4:fake:%d", g.next), labels: []string{g.label}, props: map[string]any{}}
	for k, v := range props {
		n.props[k] = v
	}
	return n
}

func (g *fakeGraph) create(batch []any) (*Result, error) {
	var created []*fakeNode
	for _, item := range batch {
		props := item.(map[string]any)
		for _, prop := range g.unique {
			for _, existing := range append(append([]*fakeNode(nil), g.nodes...), created...) {
				if v, ok := props[prop]; ok && existing.props[prop] == v {
					return nil, neoErr(codeConstraintValidationFailed,
						fmt.Sprintf("Node(%s) already exists with label `%s` and property `%s` = '%v'", existing.id, g.label, prop, v))
				}
			}
		}
		created = append(created, g.newNode(props))
	}

	g.nodes = append(g.nodes, created...)
	result := &Result{Keys: nodeKeys}
	for _, n := range created {
		result.Rows = append(result.Rows, g.row(n))
	}
	return result, nil
}

func (g *fakeGraph) mergeKey(create map[string]any) string {
	parts := make([]string, 0, len(g.keyProps))
	for _, k := range g.keyProps {
		parts = append(parts, fmt.Sprintf("%s=%v", k, create[k]))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (g *fakeGraph) merge(batch []any, anchor string, update bool) (*Result, error) {
	result := &Result{Keys: nodeKeys}
	for _, item := range batch {
		params := item.(map[string]any)
		create := params["create"].(map[string]any)
		key := g.mergeKey(create)

		var found *fakeNode
		if anchor != "" {
			found = g.bound[anchor][key]
		} else {
			for _, n := range g.nodes {
				if g.mergeKey(n.props) == key {
					found = n
					break
				}
			}
		}

		switch {
		case found == nil:
			found = g.newNode(create)
			g.nodes = append(g.nodes, found)
			if anchor != "" {
				if g.bound[anchor] == nil {
					g.bound[anchor] = map[string]*fakeNode{}
				}
				g.bound[anchor][key] = found
			}
		case update:
			for k, v := range params["update"].(map[string]any) {
				found.props[k] = v
			}
		}
		result.Rows = append(result.Rows, g.row(found))
	}
	return result, nil
}

func (g *fakeGraph) count() int {
	return len(g.nodes)
}

func newGraphGateway(g *fakeGraph) *scriptedGateway {
	return &scriptedGateway{handler: g.handle}
}

func newCatalogGateway(f *fakeNeo4j) *scriptedGateway {
	return &scriptedGateway{handler: f.handle}
}

const fakeMemgraphCode = "Memgraph.ClientError.MemgraphError.MemgraphError"

var (
	fakeMemgraphConstraint = regexp.MustCompile(`^(CREATE|DROP) CONSTRAINT ON \(n:(\w+)\) ASSERT (?:n\.(\w+) IS UNIQUE|EXISTS \(n\.(\w+)\))$`)
	fakeMemgraphIndex      = regexp.MustCompile(`^(CREATE|DROP) (EDGE )?INDEX ON :(\w+)(?:\((\w+)\))?$`)
)

// fakeMemgraph keeps SHOW CONSTRAINT INFO and SHOW INDEX INFO rows in memory and answers the
// statements the Memgraph dialect sends.
type fakeMemgraph struct {
	version     string
	constraints [][]any
	indexes     [][]any
	nodes       int
}

func newMemgraphGateway(f *fakeMemgraph) *scriptedGateway {
	return &scriptedGateway{handler: f.handle}
}

func (f *fakeMemgraph) handle(statement string, _ map[string]any) (*Result, error) {
	switch statement {
	case "SHOW VERSION":
		return &Result{Keys: []string{"version"}, Rows: [][]any{{f.version}}}, nil
	case "SHOW CONSTRAINT INFO":
		return &Result{Keys: []string{"constraint type", "label", "properties"}, Rows: append([][]any(nil), f.constraints...)}, nil
	case "SHOW INDEX INFO":
		return &Result{Keys: []string{"index type", "label", "property", "count"}, Rows: append([][]any(nil), f.indexes...)}, nil
	case "MATCH (n) DETACH DELETE n":
		f.nodes = 0
		return &Result{}, nil
	case "MATCH (a) RETURN count(a) > 0 AS populated":
		return &Result{Keys: []string{"populated"}, Rows: [][]any{{f.nodes > 0}}}, nil
	}

	if m := fakeMemgraphConstraint.FindStringSubmatch(statement); m != nil {
		row := []any{"unique", m[2], []any{m[3]}}
		if m[4] != "" {
			row = []any{"exists", m[2], m[4]}
		}
		return f.apply(&f.constraints, m[1] == "CREATE", row, "Constraint")
	}
	if m := fakeMemgraphIndex.FindStringSubmatch(statement); m != nil {
		kind := "label"
		if m[2] != "" {
			kind = "edge-type"
		}
		var prop any
		if m[4] != "" {
			kind += "+property"
			prop = m[4]
		}
		return f.apply(&f.indexes, m[1] == "CREATE", []any{kind, m[3], prop, int64(0)}, "Index")
	}
	return nil, neoErr(fakeMemgraphCode, "unexpected "+statement)
}

func (f *fakeMemgraph) apply(rows *[][]any, create bool, row []any, what string) (*Result, error) {
	key := fmt.Sprint(row)
	for n, existing := range *rows {
		if fmt.Sprint(existing) != key {
			continue
		}
		if create {
			return nil, neoErr(fakeMemgraphCode, what+" already exists.")
		}
		*rows = append((*rows)[:n], (*rows)[n+1:]...)
		return &Result{}, nil
	}
	if !create {
		return nil, neoErr(fakeMemgraphCode, what+" doesn't exist.")
	}
	*rows = append(*rows, row)
	return &Result{}, nil
}
