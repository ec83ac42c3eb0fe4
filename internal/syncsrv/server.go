// Package syncsrv implements the sync orchestrator: the full-sync state
// machine over a single TCP connection (spec §4.9). One worker goroutine
// runs per accepted connection, mirroring the one-goroutine-per-peer model
// the teacher's websocket hub uses for its client connections.
package syncsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/errs"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/rowstore"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/share"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/wire"
)

// connIdleTimeout bounds every blocking read on an established connection
// (spec §4.9: "every read has a bounded wait").
const connIdleTimeout = 2 * time.Minute

// Registries resolves the schema registry for a context. main wires one
// concrete implementation that loads/compiles SchemaVersion blobs on demand
// and caches them; tests can use a trivial in-memory map.
type Registries interface {
	Registry(ctx context.Context, contextID uuid.UUID) (*schema.Registry, error)
}

// Server is the sync orchestrator: it accepts TCP connections and drives the
// per-connection FSM of spec §4.9.
type Server struct {
	contexts   repository.ContextRepository
	sessions   *auth.Session
	nodes      repository.NodeRepository
	datasets   repository.DatasetRepository
	members    repository.MemberRepository
	pushes     repository.PushRepository
	users      repository.UserRepository
	headers    repository.HeaderRepository
	changes    repository.ChangeRepository
	downloaded repository.DownloadedRepository
	rows       *rowstore.Store
	engine     *store.Engine
	shares     *share.Service
	authzr     *authz.Resolver
	registries Registries
	scripts    store.Scripts // may be nil: "absence of a hook means accept"
	logger     *zap.Logger
}

// Config bundles every collaborator the orchestrator needs.
type Config struct {
	Contexts   repository.ContextRepository
	Sessions   *auth.Session
	Nodes      repository.NodeRepository
	Datasets   repository.DatasetRepository
	Members    repository.MemberRepository
	Pushes     repository.PushRepository
	Users      repository.UserRepository
	Headers    repository.HeaderRepository
	Changes    repository.ChangeRepository
	Downloaded repository.DownloadedRepository
	Rows       *rowstore.Store
	Engine     *store.Engine
	Shares     *share.Service
	Authz      *authz.Resolver
	Registries Registries
	Scripts    store.Scripts
	Logger     *zap.Logger
}

// NewServer constructs a Server from its dependencies.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		contexts:   cfg.Contexts,
		sessions:   cfg.Sessions,
		nodes:      cfg.Nodes,
		datasets:   cfg.Datasets,
		members:    cfg.Members,
		pushes:     cfg.Pushes,
		users:      cfg.Users,
		headers:    cfg.Headers,
		changes:    cfg.Changes,
		downloaded: cfg.Downloaded,
		rows:       cfg.Rows,
		engine:     cfg.Engine,
		shares:     cfg.Shares,
		authzr:     cfg.Authz,
		registries: cfg.Registries,
		scripts:    cfg.Scripts,
		logger:     logger,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails
// permanently. Each connection runs on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("syncsrv: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With(zap.String("remote_addr", conn.RemoteAddr().String()))

	h := &connHandler{s: s, conn: conn, logger: logger}
	if err := h.authenticate(ctx); err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("syncsrv: authentication failed", zap.Error(err))
		}
		return
	}
	logger = logger.With(zap.String("user_id", h.identity.User.ID.String()))
	h.logger = logger

	metrics.SyncConnectionsActive.Inc()
	defer metrics.SyncConnectionsActive.Dec()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(connIdleTimeout)); err != nil {
			return
		}
		tagBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, tagBuf); err != nil {
			return
		}
		if err := h.dispatch(ctx, tagBuf[0]); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("syncsrv: operation failed", zap.Uint8("tag", tagBuf[0]), zap.Error(err))
			}
			return
		}
	}
}

// connHandler carries per-connection state across the auth frame and every
// subsequent operation tag.
type connHandler struct {
	s      *Server
	conn   net.Conn
	logger *zap.Logger

	identity  *auth.Identity
	contextID uuid.UUID
	registry  *schema.Registry
}

// authenticate reads exactly one opener frame (spec §6.1 auth table) and,
// on success, writes the success reply and leaves h.identity/h.contextID/
// h.registry populated for the authenticated operation loop.
func (h *connHandler) authenticate(ctx context.Context) error {
	if err := h.conn.SetReadDeadline(time.Now().Add(connIdleTimeout)); err != nil {
		return err
	}
	tagBuf := make([]byte, 1)
	if _, err := io.ReadFull(h.conn, tagBuf); err != nil {
		return err
	}

	r := wire.NewReader(h.conn)
	var (
		identity *auth.Identity
		ctxRow   uuid.UUID
		module   string
		version  uint32
		err      error
		terminal bool // F/G: sign-off tags end the session without entering the op loop
	)

	switch tagBuf[0] {
	case 'I':
		identity, ctxRow, module, version, err = h.authJWT(ctx, r)
	case 'S':
		identity, ctxRow, module, version, err = h.authLocal(ctx, r, false)
	case 'U':
		identity, ctxRow, module, version, err = h.authLocal(ctx, r, true)
	case 'C':
		identity, ctxRow, err = h.authReconnect(ctx, r)
	case 'F':
		terminal = true
		err = h.signOffJWT(ctx, r)
	case 'G':
		terminal = true
		err = h.signOffLocal(ctx, r)
	default:
		_ = writeReplyCode(h.conn, codeTransmissionError)
		return fmt.Errorf("syncsrv: unknown auth tag %q", tagBuf[0])
	}

	if err != nil {
		if errors.Is(err, wire.ErrTransmission) {
			_ = writeReplyCode(h.conn, codeTransmissionError)
		} else {
			_ = writeReplyCode(h.conn, errs.AuthenticationFailed.WireCode())
		}
		return err
	}

	if terminal {
		_ = writeReplyCode(h.conn, codeSuccess)
		return io.EOF
	}

	if module != "" || version != 0 {
		node := identity.Node
		node.Module = module
		node.Version = int(version)
		if err := h.s.nodes.Update(ctx, node); err != nil {
			return fmt.Errorf("syncsrv: persisting node module/version: %w", err)
		}
	}

	registry, err := h.s.registries.Registry(ctx, ctxRow)
	if err != nil {
		_ = writeReplyCode(h.conn, codeInternalError)
		return fmt.Errorf("syncsrv: loading registry: %w", err)
	}

	h.identity = identity
	h.contextID = ctxRow
	h.registry = registry

	w := wire.NewWriter(h.conn)
	if err := w.U8(codeSuccess); err != nil {
		return err
	}
	if err := w.UUIDBinary(identity.User.ID); err != nil {
		return err
	}
	if err := w.LongPayload([]byte(identity.Token)); err != nil {
		return err
	}
	return w.Finish()
}
