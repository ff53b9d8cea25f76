// Package fakegraph provides a fake graph database server for testing the
// transport drivers. It speaks the binary RPC protocol over WebSocket on
// /rpc and the HTTP transaction API on /tx, sharing one version counter so
// bookmarks issued over either transport describe the same causal history.
package fakegraph

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"
)

type rpcRequest struct {
	ID     string `cbor:"id"`
	Method string `cbor:"method"`
	Params []any  `cbor:"params,omitempty"`
}

type rpcResponse struct {
	ID     string    `cbor:"id"`
	Error  *rpcError `cbor:"error,omitempty"`
	Result any       `cbor:"result,omitempty"`
}

type rpcError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

type Option func(*Server)

// WithCredentials makes the server reject any hello or HTTP request that
// does not carry exactly these credentials.
func WithCredentials(user, pass string) Option {
	return func(s *Server) {
		s.user = user
		s.pass = pass
	}
}

type Server struct {
	httpSrv  *httptest.Server
	upgrader gorilla.Upgrader

	user, pass string

	mut         sync.Mutex
	version     uint64
	nextTxID    int
	txModes     map[string]string
	unavailable bool

	sessionsOpened int
	openSockets    int
	beginCount     int
}

func New(opts ...Option) *Server {
	s, mux := build(opts)
	s.httpSrv = httptest.NewServer(mux)
	return s
}

// NewTLS starts the server over TLS with a self-signed certificate,
// retrievable through CertificatePEM.
func NewTLS(opts ...Option) *Server {
	s, mux := build(opts)
	s.httpSrv = httptest.NewTLSServer(mux)
	return s
}

func build(opts []Option) (*Server, *http.ServeMux) {
	s := &Server{
		upgrader: gorilla.Upgrader{Subprotocols: []string{"cbor"}},
		txModes:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tx", s.handleBegin)
	mux.HandleFunc("/tx/", s.handleFinish)
	return s, mux
}

func (s *Server) Close() {
	s.httpSrv.Close()
}

// URL is the HTTP endpoint of the server.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// BoltURL is the same endpoint expressed as a socket-protocol URI.
func (s *Server) BoltURL() string {
	host := strings.TrimPrefix(s.httpSrv.URL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return "bolt://" + host
}

// CertificatePEM is the TLS server's certificate in PEM form, suitable as a
// trust.certificate.file.
func (s *Server) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: s.httpSrv.Certificate().Raw,
	})
}

// SetUnavailable toggles 503 answers on /health, simulating a cluster
// member that is up but cannot serve.
func (s *Server) SetUnavailable(down bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.unavailable = down
}

// Version is the number of committed write transactions.
func (s *Server) Version() uint64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.version
}

// SessionsOpened counts websocket upgrades since the server started.
func (s *Server) SessionsOpened() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.sessionsOpened
}

// OpenSockets counts websocket connections currently open.
func (s *Server) OpenSockets() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.openSockets
}

// BeginCount counts transactions begun over either transport.
func (s *Server) BeginCount() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.beginCount
}

func (s *Server) bookmark() string {
	return "og:" + strconv.FormatUint(s.version, 10)
}

// checkBookmark validates a causal token against the current history.
func (s *Server) checkBookmark(bookmark string) error {
	if bookmark == "" {
		return nil
	}
	rest, ok := strings.CutPrefix(bookmark, "og:")
	if !ok {
		return fmt.Errorf("malformed bookmark %q", bookmark)
	}
	version, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed bookmark %q", bookmark)
	}
	if version > s.version {
		return fmt.Errorf("bookmark %q is ahead of server state", bookmark)
	}
	return nil
}

func (s *Server) beginTx(mode, bookmark string) (string, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if err := s.checkBookmark(bookmark); err != nil {
		return "", err
	}
	s.nextTxID++
	s.beginCount++
	id := strconv.Itoa(s.nextTxID)
	s.txModes[id] = mode
	return id, nil
}

func (s *Server) commitTx(id string) (string, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	mode, ok := s.txModes[id]
	if !ok {
		return "", fmt.Errorf("unknown transaction %q", id)
	}
	delete(s.txModes, id)
	if mode == "WRITE" {
		s.version++
	}
	return s.bookmark(), nil
}

func (s *Server) rollbackTx(id string) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.txModes[id]; !ok {
		return fmt.Errorf("unknown transaction %q", id)
	}
	delete(s.txModes, id)
	return nil
}

// --- socket protocol ---

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	s.mut.Lock()
	s.sessionsOpened++
	s.openSockets++
	s.mut.Unlock()
	defer func() {
		s.mut.Lock()
		s.openSockets--
		s.mut.Unlock()
	}()

	authenticated := s.user == ""
	var currentTx string

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := cbor.Unmarshal(data, &req); err != nil {
			continue
		}

		res := rpcResponse{ID: req.ID}
		switch req.Method {
		case "hello":
			if s.helloOK(req.Params) {
				authenticated = true
				res.Result = map[string]string{"server": "fakegraph/1.0"}
			} else {
				res.Error = &rpcError{Code: 401, Message: "authentication failed"}
			}
		case "begin":
			if !authenticated {
				res.Error = &rpcError{Code: 401, Message: "not authenticated"}
				break
			}
			mode, bookmark := beginParams(req.Params)
			id, err := s.beginTx(mode, bookmark)
			if err != nil {
				res.Error = &rpcError{Code: 409, Message: err.Error()}
			} else {
				currentTx = id
				res.Result = map[string]string{"id": id}
			}
		case "commit":
			bookmark, err := s.commitTx(currentTx)
			if err != nil {
				res.Error = &rpcError{Code: 500, Message: err.Error()}
			} else {
				currentTx = ""
				res.Result = map[string]string{"bookmark": bookmark}
			}
		case "rollback":
			if err := s.rollbackTx(currentTx); err != nil {
				res.Error = &rpcError{Code: 500, Message: err.Error()}
			}
			currentTx = ""
		case "ping":
			res.Result = "pong"
		default:
			res.Error = &rpcError{Code: 400, Message: "unknown method " + req.Method}
		}

		out, err := cbor.Marshal(&res)
		if err != nil {
			return
		}
		if err := ws.WriteMessage(gorilla.BinaryMessage, out); err != nil {
			return
		}
	}
}

func (s *Server) helloOK(params []any) bool {
	if s.user == "" {
		return true
	}
	if len(params) == 0 {
		return false
	}
	m, ok := params[0].(map[any]any)
	if !ok {
		return false
	}
	return m["principal"] == s.user && m["credentials"] == s.pass
}

func beginParams(params []any) (mode, bookmark string) {
	mode = "WRITE"
	if len(params) == 0 {
		return mode, ""
	}
	m, ok := params[0].(map[any]any)
	if !ok {
		return mode, ""
	}
	if v, ok := m["mode"].(string); ok {
		mode = v
	}
	if v, ok := m["bookmark"].(string); ok {
		bookmark = v
	}
	return mode, bookmark
}

// --- HTTP transport ---

func (s *Server) authorized(r *http.Request) bool {
	if s.user == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == s.user && pass == s.pass
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mut.Lock()
	down := s.unavailable
	s.mut.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	mode := r.Header.Get("X-Txn-Mode")
	if mode == "" {
		mode = "WRITE"
	}
	id, err := s.beginTx(mode, r.Header.Get("X-Bookmark"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/tx/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]

	switch action {
	case "commit":
		bookmark, err := s.commitTx(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"bookmark": bookmark})
	case "rollback":
		if err := s.rollbackTx(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
