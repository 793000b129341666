package server

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/naylor-b/aserver/errors"
	"github.com/naylor-b/aserver/protocol"
	"github.com/naylor-b/aserver/wrapper"
	"github.com/naylor-b/aserver/wrkpool"
)

// welcome is the banner sent to every new client.
const welcome = "Welcome to the OpenMDAO Analysis Server.\nversion: " + Version

// instance is one started component with its serializing worker.
type instance struct {
	comp   *wrapper.Component
	worker *wrkpool.Worker
}

// Handler serves one client session. Each session has its own namespace
// of started instances. Replies may be produced concurrently by workers
// and monitors; sendMu serializes them on the wire.
type Handler struct {
	server *Server
	conn   net.Conn
	stream *protocol.Stream
	logger *slog.Logger

	sendMu sync.Mutex

	// Current request state, written only by the Serve goroutine.
	req        string
	reqID      int64
	background bool

	hb *heartbeat

	mu        sync.Mutex
	instances map[string]*instance
	monitors  map[string]string // monitor id -> instance name

	cleanupOnce sync.Once
}

func newHandler(s *Server, conn net.Conn, sessionID string) *Handler {
	return &Handler{
		server: s,
		conn:   conn,
		stream: protocol.NewStream(conn),
		logger: s.logger.With(
			"session", sessionID,
			"remote", conn.RemoteAddr().String()),
		instances: make(map[string]*instance),
		monitors:  make(map[string]string),
	}
}

// Serve runs the session loop until the client quits or disconnects.
func (h *Handler) Serve(ctx context.Context) {
	defer h.cleanup()

	h.sendReply(welcome, 0)
	h.logger.Info("serving client")

	for {
		req, err := h.stream.RecvRequest()
		if err != nil {
			if err != errors.ErrConnClosed {
				h.logger.Error("receive failed", "error", err)
			}
			return
		}
		h.req = string(req.Data)
		h.reqID = req.ID
		h.background = req.Background
		if h.req == "" {
			continue
		}
		h.logger.Debug("request", "req", truncate(h.req), "id", req.ID, "bg", req.Background)

		h.dispatch(h.req)

		if strings.TrimSpace(h.req) == "quit" {
			h.logger.Info("client quit")
			return
		}
	}
}

func (h *Handler) dispatch(req string) {
	fields := strings.Fields(req)
	if len(fields) == 0 {
		return
	}
	verb := fields[0]
	cmd, ok := commands[verb]
	if !ok {
		h.sendError("command <"+strings.TrimSpace(req)+"> not recognized", h.reqID)
		return
	}

	if m := h.server.metrics; m != nil {
		m.RequestsTotal.WithLabelValues(verb).Inc()
		start := time.Now()
		defer func() {
			m.RequestDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
		}()
	}
	cmd(h, fields[1:])
}

// cleanup ends every instance and stops the heartbeat. Runs once, on
// clean quit or abrupt disconnect.
func (h *Handler) cleanup() {
	h.cleanupOnce.Do(func() {
		h.logger.Info("session shutdown")
		if h.hb != nil {
			h.hb.stop()
			h.hb = nil
		}
		h.mu.Lock()
		names := make([]string, 0, len(h.instances))
		for name := range h.instances {
			names = append(names, name)
		}
		h.mu.Unlock()
		for _, name := range names {
			h.endInstance(name)
		}
		h.conn.Close()
	})
}

func (h *Handler) closeConn() {
	h.conn.Close()
}

// sendReply sends a normal reply, serialized with concurrent senders.
func (h *Handler) sendReply(reply string, reqID int64) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.stream.SendReply([]byte(reply), reqID, protocol.FormatString); err != nil {
		if err != errors.ErrConnClosed {
			h.logger.Error("send reply failed", "error", err)
		}
	}
}

// sendError sends an error reply with the protocol prefix.
func (h *Handler) sendError(msg string, reqID int64) {
	h.logger.Error("error reply", "msg", msg)
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if err := h.stream.SendReply([]byte("ERROR: "+msg), reqID, protocol.FormatError); err != nil {
		if err != errors.ErrConnClosed {
			h.logger.Error("send error reply failed", "error", err)
		}
	}
}

// sendErr renders an error's wire message and records its kind.
func (h *Handler) sendErr(err error, reqID int64) {
	if m := h.server.metrics; m != nil {
		m.ErrorsTotal.WithLabelValues(errors.KindOf(err).String()).Inc()
	}
	h.sendError(errors.WireMessage(err), reqID)
}

// getInstance looks up a started instance, reporting the protocol error
// for unknown names.
func (h *Handler) getInstance(name string, reqID int64) *instance {
	h.mu.Lock()
	inst, ok := h.instances[name]
	h.mu.Unlock()
	if !ok {
		h.sendErr(errors.NoSuchObject(name), reqID)
		return nil
	}
	return inst
}

// submit schedules task for an instance. Foreground requests run on the
// instance's worker in submission order. Raw-mode backgrounded requests
// run on a one-shot. A cooked "execute comp&" waits for the worker to
// drain, then runs on a one-shot.
func (h *Handler) submit(inst *instance, background bool, task wrkpool.Task) {
	if h.background {
		h.server.pool.OneShot(task)
		return
	}
	if background {
		_ = inst.worker.Join()
		h.server.pool.OneShot(task)
		return
	}
	if err := inst.worker.Submit(task); err != nil {
		h.sendErr(errors.Internal(err), h.reqID)
	}
}

// dispatchComp resolves an instance and schedules op on it; op's reply or
// error is sent with the request id captured at dispatch time.
func (h *Handler) dispatchComp(name string, background bool, op func(*wrapper.Component) (string, error)) {
	reqID := h.reqID
	inst := h.getInstance(name, reqID)
	if inst == nil {
		return
	}
	h.submit(inst, background, func() {
		reply, err := op(inst.comp)
		if err != nil {
			h.sendErr(err, reqID)
			return
		}
		h.sendReply(reply, reqID)
	})
}

// endInstance removes and tears down one instance. Safe to call for
// names that are already gone.
func (h *Handler) endInstance(name string) bool {
	h.mu.Lock()
	inst, ok := h.instances[name]
	delete(h.instances, name)
	h.mu.Unlock()
	if !ok {
		return false
	}
	inst.comp.PreDelete()
	h.server.pool.Release(inst.worker)
	if m := h.server.metrics; m != nil {
		m.InstancesActive.Dec()
	}
	h.server.events.InstanceEnded(h.conn.RemoteAddr().String(), name)
	return true
}

// instanceNames returns started instance names, sorted.
func (h *Handler) instanceNames() []string {
	h.mu.Lock()
	names := make([]string, 0, len(h.instances))
	for name := range h.instances {
		names = append(names, name)
	}
	h.mu.Unlock()
	sort.Strings(names)
	return names
}

// monitorID renders the identifier for monitors started by this request.
func (h *Handler) monitorID() string {
	return strconv.FormatInt(h.reqID, 10)
}

const heartbeatPeriod = 10 * time.Second

// heartbeat periodically sends a reply to keep idle connections alive
// through firewalls with timeouts.
type heartbeat struct {
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (h *Handler) startHeartbeat(reqID int64) *heartbeat {
	hb := &heartbeat{stopCh: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-hb.stopCh:
				return
			case <-ticker.C:
				h.sendReply("HB", reqID)
			}
		}
	}()
	return hb
}

func (hb *heartbeat) stop() {
	hb.stopOnce.Do(func() { close(hb.stopCh) })
}

const dbgLen = 10000

func truncate(s string) string {
	if len(s) > dbgLen {
		return s[:dbgLen]
	}
	// Binary payloads are cut at the first NUL for logging.
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i] + "<+binary...>"
	}
	return s
}
