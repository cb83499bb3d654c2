package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mfsNode serves the files/* commands of an IPFS node API over an in-memory
// tree. Only the structure is tracked, file contents are not.
type mfsNode struct {
	mu    sync.Mutex
	nodes map[string]bool // path -> is directory
}

func newMFSNode(t *testing.T) (*mfsNode, *IPFSDriver) {
	n := &mfsNode{nodes: map[string]bool{"/": true}}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	d, err := NewIPFSDriver(u.Hostname(), u.Port(), "/drive", 0, testLogger())
	require.NoError(t, err)
	return n, d
}

// add creates a file at p together with its parent directories.
func (n *mfsNode) add(p string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mkdirAll(path.Dir(p))
	n.nodes[p] = false
}

func (n *mfsNode) has(p string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.nodes[p]
	return ok
}

func (n *mfsNode) mkdirAll(p string) {
	for ; p != "/"; p = path.Dir(p) {
		n.nodes[p] = true
	}
}

// subtree returns p and every path below it.
func (n *mfsNode) subtree(p string) []string {
	var out []string
	for k := range n.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			out = append(out, k)
		}
	}
	return out
}

func (n *mfsNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	args := r.URL.Query()["arg"]
	notFound := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"Message": "file does not exist", "Code": 0, "Type": "error"})
	}
	reply := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/v0/") {
	case "files/stat":
		isDir, ok := n.nodes[args[0]]
		if !ok {
			notFound()
			return
		}
		typ := "file"
		if isDir {
			typ = "directory"
		}
		reply(map[string]any{"Type": typ})
	case "files/ls":
		if isDir, ok := n.nodes[args[0]]; !ok || !isDir {
			notFound()
			return
		}
		var names []string
		for k := range n.nodes {
			if k != "/" && path.Dir(k) == args[0] {
				names = append(names, path.Base(k))
			}
		}
		sort.Strings(names)
		entries := make([]map[string]any, 0, len(names))
		for _, name := range names {
			entries = append(entries, map[string]any{"Name": name})
		}
		reply(map[string]any{"Entries": entries})
	case "files/mkdir":
		n.mkdirAll(args[0])
		reply(map[string]any{})
	case "files/mv", "files/cp":
		src, dst := args[0], args[1]
		if _, ok := n.nodes[src]; !ok {
			notFound()
			return
		}
		if _, ok := n.nodes[path.Dir(dst)]; !ok {
			notFound()
			return
		}
		moved := map[string]bool{}
		for _, k := range n.subtree(src) {
			moved[dst+strings.TrimPrefix(k, src)] = n.nodes[k]
			if strings.HasSuffix(r.URL.Path, "mv") {
				delete(n.nodes, k)
			}
		}
		for k, v := range moved {
			n.nodes[k] = v
		}
		reply(map[string]any{})
	case "files/rm":
		if _, ok := n.nodes[args[0]]; !ok {
			notFound()
			return
		}
		for _, k := range n.subtree(args[0]) {
			delete(n.nodes, k)
		}
		reply(map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func TestIPFSDriverUpgradeMergesIntoExistingFile(t *testing.T) {
	n, d := newMFSNode(t)
	tenantID, volumeID, partitionID := uuid.New(), uuid.New(), uuid.New()
	shared, moved := uuid.New().String(), uuid.New().String()

	src := path.Join("/drive", volumeID.String(), partitionID.String())
	dst := path.Join("/drive", tenantID.String(), partitionID.String())

	// The tenant already holds part of the shared file.
	n.add(path.Join(dst, shared, streamsDir, "a", dataName))
	n.add(path.Join(dst, shared, versionsDir, "v1", "a", dataName))

	n.add(path.Join(src, shared, streamsDir, "a", dataName))
	n.add(path.Join(src, shared, streamsDir, "b", dataName))
	n.add(path.Join(src, shared, versionsDir, "v1", "legacy", dataName))
	n.add(path.Join(src, shared, versionsDir, "v2", "a", dataName))
	n.add(path.Join(src, moved, streamsDir, "c", dataName))

	require.NoError(t, d.UpgradePartition(context.Background(), tenantID, volumeID, partitionID))

	tests := []struct {
		path   string
		exists bool
	}{
		{path.Join(dst, shared, streamsDir, "a", dataName), true},
		{path.Join(dst, shared, streamsDir, "b", dataName), true},
		{path.Join(dst, shared, versionsDir, "v1", "a", dataName), true},
		{path.Join(dst, shared, versionsDir, "v1", "legacy"), false},
		{path.Join(dst, shared, versionsDir, "v2", "a", dataName), true},
		{path.Join(dst, moved, streamsDir, "c", dataName), true},
		{src, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.exists, n.has(tt.path), tt.path)
	}
}

func TestIPFSDriverUpgradeWithoutVolumeContent(t *testing.T) {
	n, d := newMFSNode(t)
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()
	live := path.Join("/drive", tenantID.String(), partitionID.String(), fileID.String(), streamsDir, "a", dataName)
	n.add(live)

	require.NoError(t, d.UpgradePartition(context.Background(), tenantID, uuid.New(), partitionID))
	assert.True(t, n.has(live))
}
