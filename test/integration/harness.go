// Package integration runs the vidtrim binary end to end.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHarness serves source fixtures over HTTP and runs vidtrim instances
// against them.
type TestHarness struct {
	t          *testing.T
	binary     string
	httpServer *http.Server
	httpPort   int
	tempDir    string
	instances  []*Instance
}

// Instance is one running "vidtrim serve" process.
type Instance struct {
	ID       string
	HTTPPort int
	RaftAddr string
	Cmd      *exec.Cmd
	Cancel   context.CancelFunc
}

// URL returns the address of path on the instance.
func (i *Instance) URL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", i.HTTPPort, path)
}

// NewTestHarness creates a new test harness. The test is skipped when the
// vidtrim binary has not been built.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	return &TestHarness{
		t:        t,
		binary:   findBinary(t),
		httpPort: findAvailablePort(t),
	}
}

// StartHTTPServer serves files from a temporary directory.
func (h *TestHarness) StartHTTPServer(files map[string]string) {
	h.t.Helper()

	h.tempDir = h.t.TempDir()
	for name, content := range files {
		require.NoError(h.t, os.WriteFile(filepath.Join(h.tempDir, name), []byte(content), 0644), "fixture %s", name)
	}

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: http.FileServer(http.Dir(h.tempDir)),
	}

	// Start server in goroutine
	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	waitForServer(h.t, h.FixtureURL(""), 5*time.Second)
	h.t.Logf("fixture server started on port %d", h.httpPort)
}

// FixtureURL returns the URL of a served fixture.
func (h *TestHarness) FixtureURL(name string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.httpPort, name)
}

// StartInstance starts a standalone vidtrim service.
func (h *TestHarness) StartInstance() *Instance {
	h.t.Helper()

	inst := h.start("standalone", findAvailablePort(h.t))
	waitForServer(h.t, inst.URL("/health"), 10*time.Second)
	return inst
}

// StartCluster starts nodeCount replicated instances and waits for a
// leader.
func (h *TestHarness) StartCluster(nodeCount int) []*Instance {
	h.t.Helper()

	peers := make([]string, nodeCount)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.1:%d", findAvailablePort(h.t))
	}
	peerList := strings.Join(peers, ",")

	nodes := make([]*Instance, nodeCount)
	for i := 0; i < nodeCount; i++ {
		id := fmt.Sprintf("node%d", i+1)
		nodes[i] = h.start(id, findAvailablePort(h.t),
			"--raft-id", id,
			"--raft-bind", peers[i],
			"--peers", peerList,
		)
		nodes[i].RaftAddr = peers[i]
	}

	for _, inst := range nodes {
		waitForServer(h.t, inst.URL("/health"), 15*time.Second)
	}
	h.WaitForLeader(nodes, 10*time.Second)

	return nodes
}

func (h *TestHarness) start(id string, port int, extra ...string) *Instance {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	args := append([]string{"serve", "--port", strconv.Itoa(port)}, extra...)

	cmd := exec.CommandContext(ctx, h.binary, args...)

	// Capture output for debugging
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cancel()
		h.t.Fatalf("failed to start %s: %v", id, err)
	}

	inst := &Instance{ID: id, HTTPPort: port, Cmd: cmd, Cancel: cancel}
	h.instances = append(h.instances, inst)
	h.t.Logf("started %s (HTTP: %d)", id, port)
	return inst
}

// WaitForLeader waits until one of nodes reports itself as leader and
// returns it.
func (h *TestHarness) WaitForLeader(nodes []*Instance, timeout time.Duration) *Instance {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, inst := range nodes {
			if inst.Cmd.ProcessState != nil {
				continue
			}
			var health struct {
				Cluster struct {
					State string `json:"state"`
				} `json:"cluster"`
			}
			if status, err := h.Do(inst, http.MethodGet, "/health", nil, &health); err == nil && status == http.StatusOK && health.Cluster.State == "Leader" {
				return inst
			}
		}
		time.Sleep(200 * time.Millisecond)
	}

	h.t.Fatalf("no leader elected within %v", timeout)
	return nil
}

// Do sends a JSON request to inst and decodes the JSON reply into out when
// out is non-nil.
func (h *TestHarness) Do(inst *Instance, method, path string, body, out interface{}) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, inst.URL(path), r)
	if err != nil {
		return 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// MustDo is Do that fails the test on transport errors or an unexpected
// status.
func (h *TestHarness) MustDo(inst *Instance, method, path string, body, out interface{}, wantStatus int) {
	h.t.Helper()

	status, err := h.Do(inst, method, path, body, out)
	require.NoError(h.t, err, "%s %s", method, path)
	require.Equal(h.t, wantStatus, status, "%s %s", method, path)
}

// Fetch returns the body of a GET on inst.
func (h *TestHarness) Fetch(inst *Instance, path string) string {
	h.t.Helper()

	resp, err := http.Get(inst.URL(path))
	require.NoError(h.t, err, "fetch %s", path)
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusOK, resp.StatusCode, "fetch %s", path)

	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err, "read %s", path)
	return string(body)
}

// Stop terminates inst.
func (h *TestHarness) Stop(inst *Instance) {
	h.t.Helper()

	inst.Cancel()
	_ = inst.Cmd.Wait()
	h.t.Logf("stopped %s", inst.ID)
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	for _, inst := range h.instances {
		inst.Cancel()
		_ = inst.Cmd.Wait()
	}

	// Stop HTTP server
	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.httpServer.Shutdown(ctx)
	}
}

// findBinary locates the vidtrim binary.
func findBinary(t *testing.T) string {
	t.Helper()

	// Try several possible locations
	candidates := []string{
		"../../vidtrim",         // From test/integration
		"./vidtrim",             // From project root
		"../vidtrim",            // From test directory
		"./cmd/vidtrim/vidtrim", // Built in place
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, _ := filepath.Abs(path)
			t.Logf("found vidtrim binary at: %s", absPath)
			return absPath
		}
	}

	t.Skip("vidtrim binary not found. Run 'go build -o vidtrim ./cmd/vidtrim' first")
	return ""
}

// waitForServer waits for a server to become available.
func waitForServer(t *testing.T, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "find available port")
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

// mediaPlaylist builds a VOD playlist of count chunks of duration seconds.
func mediaPlaylist(count int, duration float64) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", int(duration))
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\nchunk%03d.ts\n", duration, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
