package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitao/internal/cmtindex"
	"github.com/roach88/unitao/internal/dataservice"
	"github.com/roach88/unitao/internal/federation"
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/metrics"
	"github.com/roach88/unitao/internal/testutil"
)

// lateHandler lets servers be started before the handler they serve
// exists, so the data services and the inventory service can point at
// each other.
type lateHandler struct {
	mu sync.RWMutex
	h  http.Handler
}

func (l *lateHandler) set(h http.Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

func (l *lateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	h := l.h
	l.mu.RUnlock()
	h.ServeHTTP(w, r)
}

type cluster struct {
	inv        *federation.Service
	invURL     string
	disks      *dataservice.Service
	disksURL   string
	hosts      *dataservice.Service
	hostsURL   string
	diskEngine *cmtindex.Engine
	hostEngine *cmtindex.Engine
}

// newCluster runs store "disks" hosting VirtualHardDisk and store "hosts"
// hosting VmHost@0.0.2 and VirtualMachine behind one inventory service.
func newCluster(t *testing.T) *cluster {
	t.Helper()
	ctx := context.Background()

	invH, disksH, hostsH := &lateHandler{}, &lateHandler{}, &lateHandler{}
	invSrv := httptest.NewServer(invH)
	disksSrv := httptest.NewServer(disksH)
	hostsSrv := httptest.NewServer(hostsH)
	t.Cleanup(invSrv.Close)
	t.Cleanup(disksSrv.Close)
	t.Cleanup(hostsSrv.Close)

	remote := federation.NewInventoryClient(invSrv.URL, nil)
	c := &cluster{invURL: invSrv.URL, disksURL: disksSrv.URL, hostsURL: hostsSrv.URL}
	c.disks = newDataService(t, dataservice.WithName("disks"), dataservice.WithRemote(remote), dataservice.WithHopTimeout(time.Second))
	c.hosts = newDataService(t, dataservice.WithName("hosts"), dataservice.WithRemote(remote), dataservice.WithHopTimeout(time.Second))
	disksH.set(NewDataRouter(c.disks))
	hostsH.set(NewDataRouter(c.hosts))

	inv, err := federation.New([]federation.Store{
		{Name: "disks", URL: disksSrv.URL},
		{Name: "hosts", URL: hostsSrv.URL},
	}, federation.WithHopTimeout(time.Second))
	require.NoError(t, err)
	c.inv = inv
	invH.set(NewInventoryRouter(inv, WithMetrics(metrics.New("inventory"))))

	registerHTTP(t, c.disksURL, testutil.VirtualHardDiskSchema)
	registerHTTP(t, c.hostsURL, testutil.VmHostSchemaV2, testutil.VirtualMachineSchema)
	status, body := call(t, http.MethodPost, c.invURL+"/sync", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	c.diskEngine = cmtindex.New(c.disks.Journal(), c.disks.Store(), c.disks.Graph())
	c.hostEngine = cmtindex.New(c.hosts.Journal(), c.hosts.Store(), c.hosts.Graph())
	require.NoError(t, c.diskEngine.Init(ctx))
	require.NoError(t, c.hostEngine.Init(ctx))
	return c
}

func (c *cluster) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []*cmtindex.Engine{c.diskEngine, c.hostEngine} {
		_, err := e.Drain(ctx)
		require.NoError(t, err)
	}
}

func TestInventoryRouter_Catalog(t *testing.T) {
	c := newCluster(t)

	status, body := call(t, http.MethodGet, c.invURL+"/schema", nil)
	require.Equal(t, http.StatusOK, status)
	var ids []string
	for _, doc := range decode[[]map[string]any](t, body) {
		ids = append(ids, doc["id"].(string))
	}
	assert.Equal(t, []string{"VirtualHardDisk", "VirtualMachine", "VmHost"}, ids)

	status, body = call(t, http.MethodGet, c.invURL+"/referral/VmHost", nil)
	require.Equal(t, http.StatusOK, status)
	ref := decode[federation.Referral](t, body)
	assert.Equal(t, "hosts", ref.Store)
	assert.Equal(t, c.hostsURL, ref.URL)

	status, body = call(t, http.MethodGet, c.invURL+"/referral", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]federation.Referral](t, body), 3)

	status, body = call(t, http.MethodGet, c.invURL+"/inventory/disks", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"VirtualHardDisk"}, decode[federation.StoreStatus](t, body).Types)

	status, body = call(t, http.MethodGet, c.invURL+"/inventory", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]federation.StoreStatus](t, body), 2)

	for _, path := range []string{"/referral/Nope", "/schema/Nope", "/inventory/nope", "/Nope/x"} {
		status, body = call(t, http.MethodGet, c.invURL+path, nil)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, ir.CodeNotFound, decode[ir.ErrorBody](t, body).Code, path)
	}

	status, _ = call(t, http.MethodPut, c.invURL+"/VmHost/h1", map[string]any{})
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestCluster_CrossStoreReferencesAndTraversal(t *testing.T) {
	c := newCluster(t)

	createHTTP(t, c.disksURL, "VirtualHardDisk", map[string]any{"name": "d0", "size": 10})
	createHTTP(t, c.disksURL, "VirtualHardDisk", map[string]any{"name": "d1", "size": 20})

	// The VM's reference to d0 is checked against the disks store.
	createHTTP(t, c.hostsURL, "VirtualMachine", map[string]any{
		"name": "vm1",
		"storage": []any{
			map[string]any{"name": "disk1", "vhd": "d0"},
			map[string]any{"name": "disk2", "vhd": "d1"},
		},
		"network": []any{},
	})
	status, body := call(t, http.MethodPost, c.hostsURL+"/", map[string]any{"type": "VirtualMachine", "data": map[string]any{
		"name":    "vm2",
		"storage": []any{map[string]any{"name": "disk1", "vhd": "missing"}},
		"network": []any{},
	}})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	status, body = call(t, http.MethodGet, c.invURL+"/VirtualMachine/vm1/storage[disk1]/vhd/size", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, float64(10), decode[float64](t, body))

	status, body = call(t, http.MethodGet, c.invURL+"/VirtualMachine/vm1/storage[*]/vhd/size", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var sizes []any
	for _, b := range decode[[]map[string]any](t, body) {
		sizes = append(sizes, b["value"])
	}
	assert.ElementsMatch(t, []any{float64(10), float64(20)}, sizes)

	// The data service traverses into the other store as well.
	status, body = call(t, http.MethodGet, c.hostsURL+"/VirtualMachine/vm1/storage[disk2]/vhd/size", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, float64(20), decode[float64](t, body))

	status, body = call(t, http.MethodGet, c.invURL+"/VirtualHardDisk", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"d0", "d1"}, decode[[]string](t, body))
}

func TestCluster_IndexAcrossStores(t *testing.T) {
	c := newCluster(t)

	createHTTP(t, c.hostsURL, "VmHost", map[string]any{"name": "h1"})
	c.drain(t)
	createHTTP(t, c.disksURL, "VirtualHardDisk", map[string]any{"name": "d0", "host": "h1"})
	c.drain(t)

	status, body := call(t, http.MethodGet, c.invURL+"/VmHost/h1/virtualHardDisk", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, []any{"d0"}, decode[[]any](t, body))

	status, body = call(t, http.MethodGet, c.disksURL+"/cmtIdx/VmHost", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	registry := decode[ir.Record](t, body).Data["registry"].(map[string]any)
	assert.Equal(t, []any{"d0"}, registry["VmHost/h1/virtualHardDisk"])

	// Moving the disk retracts it from the old host.
	createHTTP(t, c.hostsURL, "VmHost", map[string]any{"name": "h2"})
	c.drain(t)
	status, body = call(t, http.MethodPatch, c.disksURL+"/VirtualHardDisk/d0/host", `"h2"`)
	require.Equal(t, http.StatusOK, status, string(body))
	c.drain(t)

	status, body = call(t, http.MethodGet, c.invURL+"/VmHost/h1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[ir.Record](t, body).Data["virtualHardDisk"])

	status, body = call(t, http.MethodGet, c.invURL+"/VmHost/h2/virtualHardDisk", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, []any{"d0"}, decode[[]any](t, body))
}

func TestCluster_StoreDown(t *testing.T) {
	c := newCluster(t)
	createHTTP(t, c.disksURL, "VirtualHardDisk", map[string]any{"name": "d0"})
	createHTTP(t, c.hostsURL, "VirtualMachine", map[string]any{
		"name":    "vm1",
		"storage": []any{map[string]any{"name": "disk1", "vhd": "d0"}},
		"network": []any{},
	})

	inv, err := federation.New([]federation.Store{
		{Name: "disks", URL: "http://127.0.0.1:1"},
		{Name: "hosts", URL: c.hostsURL},
	})
	require.NoError(t, err)
	res, err := inv.SyncSchemas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"disks"}, res.Failed())

	srv := httptest.NewServer(NewInventoryRouter(inv))
	t.Cleanup(srv.Close)

	// The disk type was never synced from the dead store.
	status, body := call(t, http.MethodGet, srv.URL+"/VirtualMachine/vm1/storage[disk1]/vhd", nil)
	assert.Equal(t, http.StatusNotFound, status, string(body))

	status, body = call(t, http.MethodGet, srv.URL+"/VirtualMachine/vm1/storage[disk1]/vhd?ref", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "d0", decode[string](t, body))
}
