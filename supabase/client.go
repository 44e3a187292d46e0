// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package supabase is the gateway to the backing platform: the PostgREST-style
relational data API, the GoTrue-style identity provider and the object storage
service.

The Client is a cheap value type. Credential modes are selected per call chain:

	gw.AsService().From("usuarios").Eq("id", id).Single(&row)

AsService attaches the elevated service-role key and must only be used after
the calling code has verified the caller is authorized for the target rows;
the gateway itself performs no authorization. Every call is a single attempt
with a bounded timeout, no retries.
*/
package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/cuido-tech/cuido-bff/core"
)

// Config holds the platform endpoints and credentials
type Config struct {
	// BaseURL is the platform base, e.g. https://xyz.supabase.co
	BaseURL string
	// RestURL is the data API base, e.g. https://xyz.supabase.co/rest/v1
	RestURL string
	// AnonKey is the public api key
	AnonKey string
	// ServiceKey is the elevated service-role key
	ServiceKey string
	// Timeout bounds every outbound call. Default 5s.
	Timeout time.Duration
}

// Client provides access to the backing platform.
type Client struct {
	config     Config
	httpClient *http.Client
	ctx        context.Context

	apikey string
	bearer string
}

// New creates a gateway client. The client is constructed once at startup and
// passed to every route package; it is never reconstructed per request.
func New(config Config) Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	config.RestURL = strings.TrimSuffix(config.RestURL, "/")
	if config.RestURL == "" {
		config.RestURL = config.BaseURL + "/rest/v1"
	}
	return Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the client's request context
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// AsService returns a new client with elevated service-role credentials
func (c Client) AsService() Client {
	c.apikey = c.config.ServiceKey
	c.bearer = c.config.ServiceKey
	return c
}

// AsCaller returns a new client with the public api key and the caller's token
func (c Client) AsCaller(token string) Client {
	c.apikey = c.config.AnonKey
	c.bearer = token
	return c
}

// BaseURL returns the platform base URL
func (c Client) BaseURL() string {
	return c.config.BaseURL
}

// From returns a query builder for the given table of the data API
func (c Client) From(table string) Query {
	return Query{client: c, table: table}
}

// Rpc invokes the named stored procedure with the given arguments. The
// procedure result is decoded into result verbatim; result can be nil or a
// raw *[]byte.
func (c Client) Rpc(name string, args interface{}, result interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return core.Errorf(core.KindInternal, "marshal rpc args: %v", err)
	}
	status, resBody, err := c.do(http.MethodPost, c.config.RestURL+"/rpc/"+name, nil, body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	if result == nil || len(resBody) == 0 {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

// do issues one outbound exchange and returns the status and raw body.
// A transport failure (timeout included) surfaces as RemoteFailed.
func (c Client) do(method, rawURL string, header map[string]string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, rawURL, reader)
	if err != nil {
		return 0, nil, core.Errorf(core.KindInternal, "build request: %v", err)
	}
	if c.apikey != "" {
		r.Header.Set("apikey", c.apikey)
	}
	if c.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	res, err := c.httpClient.Do(r)
	if err != nil {
		return 0, nil, core.RemoteError(0, err.Error())
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

// Query builds one filtered operation against a table of the data API
type Query struct {
	client Client
	table  string

	params []string
	prefer []string
}

func (q Query) withParam(key, value string) Query {
	// we want a true copy to avoid side effects
	q.params = append(append([]string{}, q.params...), url.QueryEscape(key)+"="+url.QueryEscape(value))
	return q
}

func (q Query) withPrefer(value string) Query {
	q.prefer = append(append([]string{}, q.prefer...), value)
	return q
}

// Select sets the column (and embedded resource) list
func (q Query) Select(columns string) Query {
	return q.withParam("select", columns)
}

// Eq filters column = value
func (q Query) Eq(column, value string) Query {
	return q.withParam(column, "eq."+value)
}

// Neq filters column != value
func (q Query) Neq(column, value string) Query {
	return q.withParam(column, "neq."+value)
}

// In filters column to the given set
func (q Query) In(column string, values []string) Query {
	return q.withParam(column, "in.("+strings.Join(values, ",")+")")
}

// NotIn excludes rows whose column is in the given set
func (q Query) NotIn(column string, values []string) Query {
	return q.withParam(column, "not.in.("+strings.Join(values, ",")+")")
}

// Order sorts by column, descending when desc is true
func (q Query) Order(column string, desc bool) Query {
	direction := ".asc"
	if desc {
		direction = ".desc"
	}
	return q.withParam("order", column+direction)
}

// Page applies limit/offset pagination, page starting at 1
func (q Query) Page(page, limit int) Query {
	if page < 1 {
		page = 1
	}
	return q.withParam("limit", strconv.Itoa(limit)).
		withParam("offset", strconv.Itoa((page-1)*limit))
}

// OnConflict makes Insert an upsert resolving duplicates on the given column
func (q Query) OnConflict(column string) Query {
	return q.withParam("on_conflict", column).withPrefer("resolution=merge-duplicates")
}

func (q Query) path() string {
	p := q.client.config.RestURL + "/" + q.table
	if len(q.params) > 0 {
		p += "?" + strings.Join(q.params, "&")
	}
	return p
}

func (q Query) header() map[string]string {
	if len(q.prefer) == 0 {
		return nil
	}
	return map[string]string{"Prefer": strings.Join(q.prefer, ",")}
}

// Get reads all matching rows into result (a pointer to a slice, or *[]byte).
// An empty or null body counts as no rows, not as an error.
func (q Query) Get(result interface{}) error {
	status, body, err := q.client.do(http.MethodGet, q.path(), q.header(), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(body)))
	}
	return decodeRows(body, result)
}

// Single reads exactly one matching row into result. Zero rows is a NotFound
// error; more than one row returns the first.
func (q Query) Single(result interface{}) error {
	ok, err := q.MaybeSingle(result)
	if err != nil {
		return err
	}
	if !ok {
		return core.Errorf(core.KindNotFound, "no rows")
	}
	return nil
}

// MaybeSingle reads at most one matching row into result and reports whether
// a row was found.
func (q Query) MaybeSingle(result interface{}) (bool, error) {
	status, body, err := q.client.do(http.MethodGet, q.path(), q.header(), nil)
	if err != nil {
		return false, err
	}
	if status < 200 || status > 299 {
		return false, core.RemoteError(status, strings.TrimSpace(string(body)))
	}
	return decodeSingleRow(body, result)
}

// Insert creates the given row (or rows). When result is non-nil the mutated
// rows are requested back with a preference header and decoded into it; a
// non-slice result receives the first returned row.
func (q Query) Insert(row interface{}, result interface{}) error {
	return q.mutate(http.MethodPost, row, result)
}

// Update patches all matching rows. Result handling as in Insert; a non-slice
// result with zero mutated rows is a NotFound error.
func (q Query) Update(changes interface{}, result interface{}) error {
	return q.mutate(http.MethodPatch, changes, result)
}

// Delete removes all matching rows
func (q Query) Delete() error {
	status, body, err := q.client.do(http.MethodDelete, q.path(), q.header(), nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (q Query) mutate(method string, row interface{}, result interface{}) error {
	if result != nil {
		q = q.withPrefer("return=representation")
	}
	body, err := json.Marshal(row)
	if err != nil {
		return core.Errorf(core.KindInternal, "marshal row: %v", err)
	}
	status, resBody, err := q.client.do(method, q.path(), q.header(), body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	if result == nil {
		return nil
	}
	if isSlicePtr(result) {
		return decodeRows(resBody, result)
	}
	ok, err := decodeSingleRow(resBody, result)
	if err != nil {
		return err
	}
	if !ok {
		return core.Errorf(core.KindNotFound, "no rows")
	}
	return nil
}

func isSlicePtr(result interface{}) bool {
	v := reflect.ValueOf(result)
	return v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Slice
}

func isEmptyBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed == "" || trimmed == "null" || trimmed == "[]"
}

func decodeRows(body []byte, result interface{}) error {
	if result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = body
		return nil
	}
	if isEmptyBody(body) {
		// leave result at its zero value, empty is no rows
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return core.Errorf(core.KindInternal, "decode response: %v", err)
	}
	return nil
}

func decodeSingleRow(body []byte, result interface{}) (bool, error) {
	if isEmptyBody(body) {
		return false, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		// some endpoints answer with a bare object
		if result != nil {
			if err := json.Unmarshal(body, result); err != nil {
				return false, core.Errorf(core.KindInternal, "decode response: %v", err)
			}
		}
		return true, nil
	}
	if len(rows) == 0 {
		return false, nil
	}
	if result != nil {
		if err := json.Unmarshal(rows[0], result); err != nil {
			return false, core.Errorf(core.KindInternal, "decode response: %v", err)
		}
	}
	return true, nil
}

// String renders the full query URL, useful for debug logging
func (q Query) String() string {
	return fmt.Sprintf("%s %s", q.table, q.path())
}
