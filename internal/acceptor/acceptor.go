// Package acceptor implements component C9: binding a TCP listener and
// running one Router pipeline per accepted connection.
package acceptor

import (
	"fmt"
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// maxPortRetries is how many successively higher ports Acceptor tries before
// giving up, per spec.md §4.7 ("if the configured port is in use, retry on
// port+1 up to 9 times").
const maxPortRetries = 9

// ConnectionHandler is the per-connection pipeline; *router.Router satisfies
// it.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

// Acceptor owns the listening socket and the accept loop.
type Acceptor struct {
	Handler ConnectionHandler

	listener net.Listener
	port     int
}

// Listen binds to the first available port starting at requestedPort, retrying
// on higher ports when the address is already in use, per spec.md §4.7.
func (a *Acceptor) Listen(requestedPort int) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= maxPortRetries; attempt++ {
		port := requestedPort + attempt
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err == nil {
			a.listener = ln
			a.port = ln.Addr().(*net.TCPAddr).Port
			if attempt > 0 {
				log.WithFields(log.Fields{"requested_port": requestedPort, "bound_port": a.port}).
					Warn("acceptor: requested port in use, bound to a higher port")
			}
			return a.port, nil
		}
		lastErr = err
		log.WithError(err).WithField("port", port).Debug("acceptor: bind failed, retrying next port")
	}
	return 0, fmt.Errorf("acceptor: failed to bind after %d attempts starting at port %d: %w", maxPortRetries+1, requestedPort, lastErr)
}

// Port returns the port Listen bound to.
func (a *Acceptor) Port() int {
	return a.port
}

// Serve runs the accept loop, spawning an independent goroutine per accepted
// connection, per spec.md §4.7. It blocks until the listener is closed.
func (a *Acceptor) Serve() error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return err
		}
		go a.Handler.HandleConnection(conn)
	}
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	if a.listener == nil {
		return nil
	}
	return a.listener.Close()
}
