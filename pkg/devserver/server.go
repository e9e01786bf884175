// Package devserver is a mock backend speaking the console's streaming
// and request/response protocols. It backs integration tests and the
// binary's demo mode; nothing in it is production process management.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/odvcencio/periscope/pkg/inventory"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/protocol"
)

// ResultsFunc synthesizes the streamed results for a query.
type ResultsFunc func(query string, opts protocol.SearchOptions) []protocol.ResultPayload

// Options configure the mock backend.
type Options struct {
	// Processes seeds the inventory. Kill commands mutate it.
	Processes []inventory.Entity
	// ResultsFor overrides the default result synthesizer.
	ResultsFor ResultsFunc
	// StreamDelay spaces out streamed result frames. Zero streams
	// without pauses.
	StreamDelay time.Duration
	// Logger defaults to a stderr logger.
	Logger *logging.Logger
}

// Server is the mock backend.
type Server struct {
	mu        sync.Mutex
	processes []inventory.Entity

	resultsFor  ResultsFunc
	streamDelay time.Duration
	logger      *logging.Logger
	upgrader    websocket.Upgrader
}

// New creates a mock backend.
func New(opts Options) *Server {
	if opts.ResultsFor == nil {
		opts.ResultsFor = defaultResults
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil)
	}
	processes := make([]inventory.Entity, len(opts.Processes))
	copy(processes, opts.Processes)
	return &Server{
		processes:   processes,
		resultsFor:  opts.ResultsFor,
		streamDelay: opts.StreamDelay,
		logger:      opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP surface: /ws plus the inventory API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/api/processes", s.handleList)
	r.Get("/api/processes/{pid}", s.handleDetail)
	return r
}

// Processes returns a copy of the current inventory.
func (s *Server) Processes() []inventory.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Entity, len(s.processes))
	copy(out, s.processes)
	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resp := inventory.ListResponse{
		Processes: s.Processes(),
		SystemInfo: inventory.SystemInfo{
			LoadAverage: "0.58",
			MemoryUsage: 42.0,
			CPUUsage:    7.5,
			Uptime:      "2d13h",
		},
	}
	writeJSON(w, resp)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.processes {
		if e.PID == pid {
			writeJSON(w, inventory.EntityDetail{
				Entity:      e,
				Environment: map[string]string{"PATH": "/usr/bin", "USER": e.User},
				OpenFiles:   []string{fmt.Sprintf("/proc/%d/cwd", e.PID)},
				Connections: connectionsFor(e),
			})
			return
		}
	}
	http.Error(w, "process not found", http.StatusNotFound)
}

func connectionsFor(e inventory.Entity) []inventory.Connection {
	conns := make([]inventory.Connection, 0, len(e.Ports))
	for _, port := range e.Ports {
		conns = append(conns, inventory.Connection{
			Protocol:  "tcp",
			LocalAddr: fmt.Sprintf("0.0.0.0:%d", port),
			State:     "LISTEN",
		})
	}
	return conns
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(logging.CategoryServer, "upgrade_failed", err.Error(), nil)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg protocol.Message) {
		data, err := protocol.Encode(msg)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn(logging.CategoryServer, "bad_frame", err.Error(), nil)
			continue
		}
		switch m := msg.(type) {
		case protocol.GrepSearch:
			go s.streamSearch(send, m)
		case protocol.KillShell:
			s.handleKill(send, m)
		}
	}
}

// streamSearch plays one query: ack, results, terminal summary.
func (s *Server) streamSearch(send func(protocol.Message), start protocol.GrepSearch) {
	began := time.Now()
	send(protocol.NewGrepStarted())

	results := s.resultsFor(start.Query, start.Options)
	for _, payload := range results {
		if s.streamDelay > 0 {
			time.Sleep(s.streamDelay)
		}
		send(protocol.NewGrepResult(payload))
	}

	send(protocol.NewGrepCompleted(time.Since(began).Milliseconds(), 100+len(results)))
}

func (s *Server) handleKill(send func(protocol.Message), kill protocol.KillShell) {
	removed := s.removeProcesses(kill)
	if removed == 0 {
		send(protocol.NewShellResult(false, "", "process not found"))
		return
	}
	send(protocol.NewShellResult(true, fmt.Sprintf("killed %d process(es)", removed), ""))
}

func (s *Server) removeProcesses(kill protocol.KillShell) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := func(e inventory.Entity) bool {
		switch {
		case kill.Name != "":
			return e.Name == kill.Name
		case kill.Port > 0:
			for _, p := range e.Ports {
				if p == kill.Port {
					return true
				}
			}
			return false
		default:
			return e.PID == kill.PID
		}
	}

	kept := s.processes[:0]
	removed := 0
	for _, e := range s.processes {
		if matches(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.processes = kept
	return removed
}

// defaultResults synthesizes a small stream mentioning the query.
func defaultResults(query string, opts protocol.SearchOptions) []protocol.ResultPayload {
	files := []string{"cmd/server/main.go", "pkg/runtime/loop.go", "docs/notes.txt"}
	out := make([]protocol.ResultPayload, 0, len(files))
	for i, file := range files {
		if opts.Include == "code" && file == "docs/notes.txt" {
			continue
		}
		if opts.Include == "text" && file != "docs/notes.txt" {
			continue
		}
		content := fmt.Sprintf("// %s used here", query)
		out = append(out, protocol.ResultPayload{
			File:       file,
			LineNumber: 10 + i*7,
			Content:    content,
			ContextLines: []string{
				"func before() {}",
				content,
				"func after() {}",
			},
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
