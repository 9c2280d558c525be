package federation

import (
	"context"
	"net/http"
	"net/url"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// InventoryClient reaches the rest of the federation through an inventory
// service. Data services use it for cross-store reference checks,
// traversal and index writes into records they do not host.
type InventoryClient struct {
	inv  *StoreClient
	http *http.Client
}

// NewInventoryClient creates a client for the inventory service at baseURL.
func NewInventoryClient(baseURL string, hc *http.Client) *InventoryClient {
	return &InventoryClient{inv: NewStoreClient("inventory", baseURL, hc), http: hc}
}

// Schemas returns the merged catalog.
func (c *InventoryClient) Schemas(ctx context.Context) ([]*schema.Schema, error) {
	return c.inv.Schemas(ctx)
}

// Schema returns one schema version of typ.
func (c *InventoryClient) Schema(ctx context.Context, typ, version string) (*schema.Schema, error) {
	return c.inv.Schema(ctx, typ, version)
}

// Record fetches (typ, id) through the inventory service.
func (c *InventoryClient) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	return c.inv.Record(ctx, typ, id)
}

// List returns the ids of typ.
func (c *InventoryClient) List(ctx context.Context, typ string) ([]string, error) {
	return c.inv.List(ctx, typ)
}

// Referral returns the store serving typ.
func (c *InventoryClient) Referral(ctx context.Context, typ string) (Referral, error) {
	var ref Referral
	if err := c.inv.do(ctx, http.MethodGet, "/referral/"+url.PathEscape(typ), nil, &ref); err != nil {
		return Referral{}, err
	}
	return ref, nil
}

// Patch writes directly to the store serving typ. The inventory service
// itself is read-only.
func (c *InventoryClient) Patch(ctx context.Context, typ, id string, path queryir.Path, value any) (*ir.Record, error) {
	ref, err := c.Referral(ctx, typ)
	if err != nil {
		return nil, err
	}
	return NewStoreClient(ref.Store, ref.URL, c.http).Patch(ctx, typ, id, path, value)
}

// Sync asks the inventory service to re-poll every store.
func (c *InventoryClient) Sync(ctx context.Context) (*SyncResult, error) {
	var res SyncResult
	if err := c.inv.do(ctx, http.MethodPost, "/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
