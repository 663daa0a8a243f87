package acceptor

import (
	"net"
	"sync"
	"testing"
	"time"
)

type countingHandler struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func (h *countingHandler) HandleConnection(conn net.Conn) {
	defer conn.Close()
	h.mu.Lock()
	h.count++
	n := h.count
	h.mu.Unlock()
	if n == 1 {
		close(h.done)
	}
}

func TestListenAndServeDispatchesConnections(t *testing.T) {
	handler := &countingHandler{done: make(chan struct{})}
	a := &Acceptor{Handler: handler}

	port, err := a.Listen(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port == 0 {
		t.Fatal("expected a bound port")
	}
	defer a.Close()

	go a.Serve()

	conn, err := net.Dial("tcp", a.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial acceptor: %v", err)
	}
	defer conn.Close()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection to be handled")
	}
}

func TestListenRetriesOnPortInUse(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	defer blocker.Close()

	busyPort := blocker.Addr().(*net.TCPAddr).Port

	a := &Acceptor{Handler: &countingHandler{done: make(chan struct{})}}
	port, err := a.Listen(busyPort)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if port == busyPort {
		t.Fatal("expected Listen to bind a different port than the busy one")
	}
	if port <= busyPort || port > busyPort+maxPortRetries {
		t.Fatalf("expected bound port within retry range, got %d", port)
	}
}
