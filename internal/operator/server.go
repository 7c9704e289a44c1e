// Package operator — server.go
//
// Unix domain socket server for adaptive-control operator overrides.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: configurable, default /var/run/adaptive-control/operator.sock.
// Permissions: 0600.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"killswitch_on","subsystem_id":"guard"}
//	  -> Activates the killswitch override for a subsystem (highest
//	     priority). Adaptive control produces no signals
//	     for that subsystem until killswitch_off.
//	  -> Response: {"ok":true,"subsystem_id":"guard"}
//
//	{"cmd":"killswitch_off","subsystem_id":"guard"}
//	  -> Response: {"ok":true,"subsystem_id":"guard"}
//
//	{"cmd":"manual_override_on","subsystem_id":"pdf"}
//	  -> Activates the manual-override predicate for a subsystem.
//	  -> Response: {"ok":true,"subsystem_id":"pdf"}
//
//	{"cmd":"manual_override_off","subsystem_id":"pdf"}
//	  -> Response: {"ok":true,"subsystem_id":"pdf"}
//
//	{"cmd":"status"}
//	  -> Returns the current guard/pdf modes and controller lifecycle
//	     state.
//	  -> Response: {"ok":true,"guard_mode":"enforce","pdf_mode":"accepting","controller_state":"running"}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
//   - Killswitch and manual-override toggles are logged; status and
//     unknown commands are not, and toggles are not written to the
//     audit trail.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// OverrideRegistry is the interface the operator server uses to read and
// mutate killswitch/manual-override state and introspect current modes.
// Implemented by the daemon's OverrideStore.
type OverrideRegistry interface {
	SetKillswitch(subsystemID string, active bool)
	SetManualOverride(subsystemID string, active bool)
	GuardMode() string
	PDFMode() string
	ControllerState() string
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd         string `json:"cmd"`
	SubsystemID string `json:"subsystem_id,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	SubsystemID     string `json:"subsystem_id,omitempty"`
	GuardMode       string `json:"guard_mode,omitempty"`
	PDFMode         string `json:"pdf_mode,omitempty"`
	ControllerState string `json:"controller_state,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	registry   OverrideRegistry
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server.
func NewServer(socketPath string, registry OverrideRegistry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		registry:   registry,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}

	if dir := filepath.Dir(s.socketPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("operator: mkdir %q: %w", dir, err)
		}
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "killswitch_on":
		return s.cmdKillswitch(req, true)
	case "killswitch_off":
		return s.cmdKillswitch(req, false)
	case "manual_override_on":
		return s.cmdManualOverride(req, true)
	case "manual_override_off":
		return s.cmdManualOverride(req, false)
	case "status":
		return s.cmdStatus()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdKillswitch(req Request, active bool) Response {
	if req.SubsystemID == "" {
		return Response{OK: false, Error: "subsystem_id required"}
	}
	s.registry.SetKillswitch(req.SubsystemID, active)
	s.log.Warn("operator: killswitch toggled",
		zap.String("subsystem_id", req.SubsystemID), zap.Bool("active", active))
	return Response{OK: true, SubsystemID: req.SubsystemID}
}

func (s *Server) cmdManualOverride(req Request, active bool) Response {
	if req.SubsystemID == "" {
		return Response{OK: false, Error: "subsystem_id required"}
	}
	s.registry.SetManualOverride(req.SubsystemID, active)
	s.log.Info("operator: manual override toggled",
		zap.String("subsystem_id", req.SubsystemID), zap.Bool("active", active))
	return Response{OK: true, SubsystemID: req.SubsystemID}
}

func (s *Server) cmdStatus() Response {
	return Response{
		OK:              true,
		GuardMode:       s.registry.GuardMode(),
		PDFMode:         s.registry.PDFMode(),
		ControllerState: s.registry.ControllerState(),
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// OverrideStore is a thread-safe in-memory OverrideRegistry implementation
// and the OverrideFn source the decision engine reads from: a mutex-guarded
// map keyed by subsystem id, tracking two independent boolean override
// flags per subsystem.
type OverrideStore struct {
	mu            sync.RWMutex
	killswitch    map[string]bool
	manualOverride map[string]bool

	guardMode       func() string
	pdfMode         func() string
	controllerState func() string
}

// NewOverrideStore creates an empty OverrideStore. The three accessor
// funcs let the store report live controller state without importing the
// controller package (avoids a cyclic reference).
func NewOverrideStore(guardMode, pdfMode, controllerState func() string) *OverrideStore {
	return &OverrideStore{
		killswitch:      make(map[string]bool),
		manualOverride:  make(map[string]bool),
		guardMode:       guardMode,
		pdfMode:         pdfMode,
		controllerState: controllerState,
	}
}

func (o *OverrideStore) SetKillswitch(subsystemID string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.killswitch[subsystemID] = active
}

func (o *OverrideStore) SetManualOverride(subsystemID string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.manualOverride[subsystemID] = active
}

// KillswitchActive is an OverrideFn suitable for decision.New.
func (o *OverrideStore) KillswitchActive(subsystemID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.killswitch[subsystemID]
}

// ManualOverrideActive is an OverrideFn suitable for decision.New.
func (o *OverrideStore) ManualOverrideActive(subsystemID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.manualOverride[subsystemID]
}

// SetAccessors wires the live mode/state accessors after the decision
// engine and controller are constructed, avoiding a construction-order
// cycle (the engine needs the store's override predicates before the
// store can report the engine's modes).
func (o *OverrideStore) SetAccessors(guardMode, pdfMode, controllerState func() string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.guardMode = guardMode
	o.pdfMode = pdfMode
	o.controllerState = controllerState
}

func (o *OverrideStore) GuardMode() string {
	o.mu.RLock()
	fn := o.guardMode
	o.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

func (o *OverrideStore) PDFMode() string {
	o.mu.RLock()
	fn := o.pdfMode
	o.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

func (o *OverrideStore) ControllerState() string {
	o.mu.RLock()
	fn := o.controllerState
	o.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}
