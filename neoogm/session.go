package neoogm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"go4.org/osutil"
)

// Session talks to the Neo4j HTTP transactional endpoint. Name borrowed from neoism.
type Session struct {
	Client *http.Client

	// Optional
	Userinfo *url.Userinfo
	Header   http.Header

	CommitTxEndpoint string
}

type payload struct {
	Statements []*httpStatement `json:"statements"`
}

type httpStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// NeoErrors is the list of errors the transactional endpoint reports for a rolled back request.
type NeoErrors []NeoError

func (nerrs NeoErrors) Error() string {
	if len(nerrs) == 1 {
		return nerrs[0].Error()
	}
	return fmt.Sprintf("%d statements failed to execute, transaction was rolled back: %s", len(nerrs), nerrs[0].Error())
}

func (nerrs NeoErrors) Unwrap() []error {
	errs := make([]error, 0, len(nerrs))
	for i := range nerrs {
		errs = append(errs, &nerrs[i])
	}
	return errs
}

type NeoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *NeoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type record struct {
	Row []any `json:"row"`
}

type neoResult struct {
	Columns []string `json:"columns"`
	Data    []record `json:"data"`
}

type neoResponse struct {
	Results []neoResult `json:"results"`
	Errors  NeoErrors   `json:"errors"`
}

// Send posts the queries in one commit request and fills in each query's Result.
// Parameters are JSON encoded, so time.Time values reach the server as RFC 3339 strings rather
// than temporal values. DateTime properties written over http:// are therefore stored as strings;
// use bolt:// where the database should hold native datetimes.
func (s *Session) Send(ctx context.Context, queries ...*CypherQuery) error {
	p := payload{Statements: make([]*httpStatement, 0, len(queries))}
	for _, q := range queries {
		p.Statements = append(p.Statements, &httpStatement{Statement: q.Statement, Parameters: q.Parameters})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal statements: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.CommitTxEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if s.Header != nil {
		req.Header = s.Header.Clone()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.Userinfo != nil {
		password, _ := s.Userinfo.Password()
		req.SetBasicAuth(s.Userinfo.Username(), password)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("transactional endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var nr neoResponse
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&nr); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	// The transactional endpoint will return 200 or 201 status code, regardless
	// of whether statements were successfully executed. At the end of the
	// response payload, the server includes a list of errors that occurred
	// while executing statements. If the list is empty, the request completed
	// successfully.
	if len(nr.Errors) != 0 {
		return nr.Errors
	}
	return parseResults(queries, nr.Results)
}

// Each result corresponds to a query. results[0] is for queries[0], etc
func parseResults(queries []*CypherQuery, results []neoResult) error {
	if len(queries) != len(results) {
		return errors.New("the number of results is not equal to the number of statements")
	}
	for i, result := range results {
		rows := make([][]any, 0, len(result.Data))
		for _, d := range result.Data {
			rows = append(rows, d.Row)
		}
		queries[i].Result = &Result{Keys: result.Columns, Rows: rows}
	}
	return nil
}

// httpGateway is a QueryGateway over the HTTP transactional endpoint.
type httpGateway struct {
	url     string
	session *Session
}

// newHTTPGateway expects a database URL such as http://localhost:7474/db/neo4j. Credentials may be
// given as URL user info.
func newHTTPGateway(neoURL string, client *http.Client) (*httpGateway, error) {
	parsed, err := url.Parse(neoURL)
	if err != nil || parsed.Host == "" {
		return nil, ErrInvalidURL
	}

	h := http.Header{}
	exeName, err := osutil.Executable()
	if err == nil {
		_, exeFile := filepath.Split(exeName)
		h.Set("User-Agent", exeFile+" (using neo-ogm-go)")
	}

	userinfo := parsed.User
	parsed.User = nil
	if client == nil {
		client = http.DefaultClient
	}

	return &httpGateway{
		url: parsed.String(),
		session: &Session{
			Client:           client,
			Userinfo:         userinfo,
			Header:           h,
			CommitTxEndpoint: strings.TrimSuffix(parsed.String(), "/") + "/tx/commit",
		},
	}, nil
}

func (g *httpGateway) String() string {
	return g.url
}

func (g *httpGateway) CypherBatch(ctx context.Context, queries []*CypherQuery) error {
	if len(queries) == 0 {
		return nil
	}
	return g.session.Send(ctx, queries...)
}

func (g *httpGateway) Execute(ctx context.Context, statement string, params map[string]any) (*Result, error) {
	query := &CypherQuery{Statement: statement, Parameters: params}
	if err := g.session.Send(ctx, query); err != nil {
		return nil, err
	}
	return query.Result, nil
}

func (g *httpGateway) Close(context.Context) error {
	g.session.Client.CloseIdleConnections()
	return nil
}
