package messenger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

const senderHeader = "X-Burrow-From"

// HTTPMessenger exchanges JSON-encoded messages over plain HTTP. A message
// to pid "name@host:port" is POSTed to http://host:port/name/<MessageName>
// with the sender pid in the X-Burrow-From header. Links are watched with a
// persistent TCP connection to the peer; the connection closing or failing
// to dial reports the pid as exited.
type HTTPMessenger struct {
	name     string
	addr     string // advertised host:port
	server   *http.Server
	listener net.Listener
	client   *http.Client
	handler  Handler
	logger   zerolog.Logger

	mu    sync.Mutex
	links map[types.PID]net.Conn
	done  bool
}

// NewHTTP creates an HTTP messenger serving on listenAddr. advertiseHost is
// the host other processes reach us at; the port is taken from the bound
// listener so listenAddr may use port 0.
func NewHTTP(name, listenAddr, advertiseHost string) (*HTTPMessenger, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to resolve bound port: %w", err)
	}

	return &HTTPMessenger{
		name:     name,
		addr:     net.JoinHostPort(advertiseHost, port),
		listener: listener,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   log.WithComponent("messenger"),
		links:    make(map[types.PID]net.Conn),
	}, nil
}

// Self returns the pid remote processes use to reach this endpoint.
func (m *HTTPMessenger) Self() types.PID {
	return types.NewPID(m.name, m.addr)
}

// Start begins serving inbound messages for the handler.
func (m *HTTPMessenger) Start(h Handler) error {
	m.handler = h

	router := mux.NewRouter()
	router.HandleFunc("/{process}/{message}", m.receive).Methods(http.MethodPost)

	m.server = &http.Server{Handler: router}

	go func() {
		if err := m.server.Serve(m.listener); err != nil && err != http.ErrServerClosed {
			m.logger.Error().Err(err).Msg("messenger endpoint failed")
		}
	}()

	m.logger.Info().Str("pid", string(m.Self())).Msg("messenger listening")
	return nil
}

// Stop tears down the endpoint and closes all link watchers.
func (m *HTTPMessenger) Stop() error {
	m.mu.Lock()
	m.done = true
	for pid, conn := range m.links {
		conn.Close()
		delete(m.links, pid)
	}
	m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return m.listener.Close()
}

// Send delivers one message to the pid's endpoint.
func (m *HTTPMessenger) Send(to types.PID, msg Message) error {
	addr := to.Addr()
	if addr == "" {
		return fmt.Errorf("cannot send %s: malformed pid %q", msg.Name(), to)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Name(), err)
	}

	url := fmt.Sprintf("http://%s/%s/%s", addr, to.Name(), msg.Name())
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", msg.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(senderHeader, string(m.Self()))

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", msg.Name(), to, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s rejected %s: %s", to, msg.Name(), resp.Status)
	}
	return nil
}

// Link watches the pid's host with a persistent TCP connection. The
// connection closing, or failing to establish, reports Exited(pid).
func (m *HTTPMessenger) Link(pid types.PID) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	if conn, ok := m.links[pid]; ok {
		// Relink: drop the old watcher first.
		conn.Close()
		delete(m.links, pid)
	}
	m.mu.Unlock()

	go m.watch(pid)
}

func (m *HTTPMessenger) watch(pid types.PID) {
	conn, err := net.DialTimeout("tcp", pid.Addr(), 10*time.Second)
	if err != nil {
		m.logger.Warn().Str("pid", string(pid)).Err(err).Msg("link failed to establish")
		m.notifyExited(pid)
		return
	}

	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.links[pid] = conn
	m.mu.Unlock()

	// Block until the peer closes or the link is torn down locally.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	m.mu.Lock()
	// A relink may have replaced this watcher; only the current one may
	// retire the link and report it.
	watching := m.links[pid] == conn
	if watching {
		delete(m.links, pid)
	}
	stopped := m.done
	m.mu.Unlock()

	conn.Close()
	if watching && !stopped {
		m.notifyExited(pid)
	}
}

func (m *HTTPMessenger) notifyExited(pid types.PID) {
	if m.handler != nil {
		m.handler.Exited(pid)
	}
}

func (m *HTTPMessenger) receive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if vars["process"] != m.name {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	msg, err := Decode(vars["message"], body)
	if err != nil {
		m.logger.Warn().Str("message", vars["message"]).Err(err).Msg("dropping undecodable message")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	from := types.PID(r.Header.Get(senderHeader))
	w.WriteHeader(http.StatusAccepted)

	if m.handler != nil {
		m.handler.Deliver(from, msg)
	}
}
