package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// Client is the view the federation has of one data service.
type Client interface {
	Schemas(ctx context.Context) ([]*schema.Schema, error)
	Schema(ctx context.Context, typ, version string) (*schema.Schema, error)
	Record(ctx context.Context, typ, id string) (*ir.Record, error)
	List(ctx context.Context, typ string) ([]string, error)
	Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error)
}

// StoreClient talks to a data service over HTTP.
//
// Transport failures and 5xx responses without an error body are reported
// as UNAVAILABLE naming the store; error bodies are decoded into ir.Error.
type StoreClient struct {
	name string
	base string
	http *http.Client
}

// NewStoreClient creates a client for the data service at baseURL. A nil
// hc uses http.DefaultClient.
func NewStoreClient(name, baseURL string, hc *http.Client) *StoreClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &StoreClient{name: name, base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Name returns the store name.
func (c *StoreClient) Name() string { return c.name }

// Schemas fetches the latest schema of every type the store hosts.
func (c *StoreClient) Schemas(ctx context.Context) ([]*schema.Schema, error) {
	var docs []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/schema", nil, &docs); err != nil {
		return nil, err
	}
	out := make([]*schema.Schema, 0, len(docs))
	for _, raw := range docs {
		sch, err := schema.CompileJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("store %s: schema: %w", c.name, err)
		}
		out = append(out, sch)
	}
	return out, nil
}

// Schema fetches one schema version; an empty version means latest.
func (c *StoreClient) Schema(ctx context.Context, typ, version string) (*schema.Schema, error) {
	p := "/schema/" + url.PathEscape(typ)
	if version != "" {
		p += "?version=" + url.QueryEscape(version)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, p, nil, &raw); err != nil {
		return nil, err
	}
	sch, err := schema.CompileJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("store %s: schema %s: %w", c.name, typ, err)
	}
	return sch, nil
}

// Record fetches (typ, id).
func (c *StoreClient) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	var rec ir.Record
	if err := c.do(ctx, http.MethodGet, recordPath(typ, id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List fetches the ids of typ.
func (c *StoreClient) List(ctx context.Context, typ string) ([]string, error) {
	var ids []string
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(typ), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Patch sends a PATCH for path; a nil value removes.
func (c *StoreClient) Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("store %s: encode patch: %w", c.name, err)
	}
	var rec ir.Record
	if err := c.do(ctx, http.MethodPatch, recordPath(typ, id)+"/"+path.String(), body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RegisterSchema pushes a schema document to the store. Re-pushing an
// identical version is accepted.
func (c *StoreClient) RegisterSchema(ctx context.Context, doc *schema.Document) (*ir.Record, error) {
	body, err := json.Marshal(map[string]any{"type": ir.SchemaType, "data": doc})
	if err != nil {
		return nil, fmt.Errorf("store %s: encode schema: %w", c.name, err)
	}
	var rec ir.Record
	if err := c.do(ctx, http.MethodPost, "/", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Resolve runs a path query on the store and returns the raw JSON result.
func (c *StoreClient) Resolve(ctx context.Context, typ, id string, q queryir.Query) (json.RawMessage, error) {
	p := recordPath(typ, id)
	if len(q.Path) > 0 || q.Modifiers != (queryir.Modifiers{}) {
		p += "/" + q.String()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, p, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func recordPath(typ, id string) string {
	return "/" + url.PathEscape(typ) + "/" + url.PathEscape(id)
}

func (c *StoreClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("store %s: %w", c.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ir.Unavailable(c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ir.Unavailable(c.name, err)
	}
	if resp.StatusCode >= 300 {
		return c.decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store %s: decode %s %s: %w", c.name, method, path, err)
	}
	return nil
}

func (c *StoreClient) decodeError(status int, data []byte) error {
	var body ir.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return body.AsError()
	}
	err := fmt.Errorf("status %d: %s", status, bytes.TrimSpace(data))
	switch {
	case status == http.StatusNotFound:
		return &ir.Error{Code: ir.CodeNotFound, Message: err.Error(), Path: c.name}
	case status >= 500:
		return ir.Unavailable(c.name, err)
	default:
		return &ir.Error{Code: ir.CodeBadRequest, Message: err.Error(), Path: c.name}
	}
}

// isUnavailable reports whether err means the store could not answer.
func isUnavailable(err error) bool {
	return ir.IsCode(err, ir.CodeUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
