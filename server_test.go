package abs9p

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDialString(t *testing.T) {
	tests := []struct {
		in      string
		network string
		address string
		wantErr bool
	}{
		{in: "tcp!0.0.0.0!564", network: "tcp", address: "0.0.0.0:564"},
		{in: "tcp!localhost!5640", network: "tcp", address: "localhost:5640"},
		{in: "tcp4!127.0.0.1!0", network: "tcp4", address: "127.0.0.1:0"},
		{in: "tcp6!::1!5640", network: "tcp6", address: "[::1]:5640"},
		{in: "unix!/run/abs9p.sock", network: "unix", address: "/run/abs9p.sock"},
		{in: "tcp!localhost", wantErr: true},
		{in: "tcp!a!b!c", wantErr: true},
		{in: "unix!", wantErr: true},
		{in: "udp!localhost!5640", wantErr: true},
		{in: "localhost:5640", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		network, address, err := parseDialString(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDialString(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDialString(%q) failed: %v", tt.in, err)
			continue
		}
		if network != tt.network || address != tt.address {
			t.Errorf("parseDialString(%q) = %q, %q; want %q, %q",
				tt.in, network, address, tt.network, tt.address)
		}
	}
}

func TestNewServerDefaults(t *testing.T) {
	server, err := NewServer(ServerOptions{})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.options.Addr != "tcp!0.0.0.0!564" {
		t.Errorf("default Addr = %q", server.options.Addr)
	}
	if server.options.MSize != DefaultMSize {
		t.Errorf("default MSize = %d, want %d", server.options.MSize, DefaultMSize)
	}
	if server.Addr() != nil {
		t.Error("Addr() before Listen should be nil")
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(ServerOptions{Addr: "bogus!addr"}); err == nil {
		t.Error("NewServer accepted a bad dial string")
	}
	if _, err := NewServer(ServerOptions{MSize: 100}); err == nil {
		t.Error("NewServer accepted an msize below the minimum")
	}
}

func TestServerListenRequiresBackend(t *testing.T) {
	server, err := NewServer(ServerOptions{Addr: "tcp!127.0.0.1!0"})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Listen(); err == nil {
		t.Error("Listen succeeded without a backend")
	}
}

// startTestServer creates, configures, and starts a server for the
// given backend, returning it with Stop registered as cleanup.
func startTestServer(t *testing.T, options ServerOptions, backend Backend) *Server {
	t.Helper()

	server, err := NewServer(options)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.SetBackend(backend)
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// dialTestServer connects to a running test server.
func dialTestServer(t *testing.T, server *Server) *testClient {
	t.Helper()

	conn, err := net.Dial(server.Addr().Network(), server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func TestServerEndToEnd(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	server := startTestServer(t, ServerOptions{
		Addr:         "tcp!127.0.0.1!0",
		MaxWorkers:   2,
		TCPNoDelay:   true,
		TCPKeepAlive: true,
	}, backend)

	c := dialTestServer(t, server)
	negotiate(t, c, 0)

	c.call(2, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir", "file.txt"}})
	c.call(3, &Tlopen{Fid: 1, Flags: OpenReadOnly})
	rr, ok := c.call(4, &Tread{Fid: 1, Offset: 0, Count: 64}).(*Rread)
	if !ok || string(rr.Data) != "hello world" {
		t.Fatalf("read over TCP = %#v", rr)
	}
	c.call(5, &Tclunk{Fid: 1})

	snap := server.GetMetrics()
	if snap.TotalConnections != 1 {
		t.Errorf("TotalConnections = %d, want 1", snap.TotalConnections)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", snap.ActiveConnections)
	}
	if snap.ReadRequests != 1 {
		t.Errorf("ReadRequests = %d, want 1", snap.ReadRequests)
	}
	if snap.WalkRequests != 1 {
		t.Errorf("WalkRequests = %d, want 1", snap.WalkRequests)
	}
	if snap.BytesRead != uint64(len("hello world")) {
		t.Errorf("BytesRead = %d, want %d", snap.BytesRead, len("hello world"))
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	snap = server.GetMetrics()
	if snap.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d after Stop, want 0", snap.ActiveConnections)
	}
}

func TestServerUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "export.sock")
	backend := newTestBackend(t, ExportOptions{})
	server := startTestServer(t, ServerOptions{Addr: "unix!" + sock}, backend)

	c := dialTestServer(t, server)
	qid := negotiate(t, c, 0)
	if qid.Type != QTDIR {
		t.Errorf("root qid type = %#x, want QTDIR", qid.Type)
	}
}

func TestServerMaxConnections(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	server := startTestServer(t, ServerOptions{
		Addr:           "tcp!127.0.0.1!0",
		MaxConnections: 1,
	}, backend)

	c := dialTestServer(t, server)
	negotiate(t, c, 0)

	// The second connection is accepted by the kernel and immediately
	// closed by the server.
	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ReadFcall(conn, DefaultMSize); err == nil {
		t.Error("rejected connection produced a reply")
	}

	snap := server.GetMetrics()
	if snap.RejectedConnections != 1 {
		t.Errorf("RejectedConnections = %d, want 1", snap.RejectedConnections)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", snap.ActiveConnections)
	}
}

func TestServerServeListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen failed: %v", err)
	}

	server, err := NewServer(ServerOptions{})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.SetBackend(newTestBackend(t, ExportOptions{}))
	if err := server.ServeListener(listener); err != nil {
		t.Fatalf("ServeListener failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	if server.Addr().String() != listener.Addr().String() {
		t.Errorf("Addr = %v, want %v", server.Addr(), listener.Addr())
	}

	c := dialTestServer(t, server)
	negotiate(t, c, 0)
}

func TestServerStopClosesConnections(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	server := startTestServer(t, ServerOptions{Addr: "tcp!127.0.0.1!0"}, backend)

	c := dialTestServer(t, server)
	negotiate(t, c, 0)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ReadFcall(c.conn, DefaultMSize); err == nil {
		t.Error("connection still alive after Stop")
	}
}

func TestServerIdleTimeout(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	server := startTestServer(t, ServerOptions{
		Addr:        "tcp!127.0.0.1!0",
		IdleTimeout: 50 * time.Millisecond,
	}, backend)

	c := dialTestServer(t, server)
	negotiate(t, c, 0)

	// Go quiet and wait for the reaper.
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, _, err := ReadFcall(c.conn, DefaultMSize); err == nil {
		t.Error("idle connection was not closed")
	}
}
