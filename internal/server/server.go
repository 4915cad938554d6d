package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cruciblehq/cruxbuild/internal"
	"github.com/cruciblehq/cruxbuild/internal/build"
	"github.com/cruciblehq/cruxbuild/internal/cache"
	"github.com/cruciblehq/cruxbuild/internal/env"
	"github.com/cruciblehq/cruxbuild/internal/paths"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = internal.Name

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660
)

// Holds server configuration.
type Config struct {
	SocketPath  string       // Override for the Unix socket path. Empty uses the default.
	PIDFile     string       // Override for the PID file path. Empty uses the default.
	Provider    env.Provider // Source of stage environments. Required.
	Cache       *cache.Cache // Fingerprint cache shared by every build. Nil disables caching.
	WorkerLimit int          // Default worker limit for builds.
	Platform    string       // Platform recorded in emitted images.
}

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	cfg       Config        // Effective configuration.
	listener  net.Listener  // Listener for incoming connections.
	startedAt time.Time     // Timestamp when the server started.
	builds    int           // Total number of build commands processed.
	done      chan struct{} // Closed when the server stops.
	stopOnce  sync.Once     // Guards shutdown.
	mu        sync.Mutex    // Protects builds.
}

// Creates a new server instance.
//
// The socket is not opened until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: no environment provider", ErrServer)
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = paths.Socket()
	}
	if cfg.PIDFile == "" {
		cfg.PIDFile = paths.PIDFile()
	}

	return &Server{
		cfg:  cfg,
		done: make(chan struct{}),
	}, nil
}

// Opens the Unix socket and begins accepting connections.
func (s *Server) Start() error {
	listener, err := listen(s.cfg.SocketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if err := writePID(s.cfg.PIDFile); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	slog.Info("server listening on socket", "path", s.cfg.SocketPath)

	go s.accept()
	return nil
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: failed to chmod socket %s: %w", ErrServer, socketPath, err)
	}

	g, err := user.LookupGroup(socketGroup)
	if err != nil {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
		return nil
	}
	if gid, err := strconv.Atoi(g.Gid); err == nil {
		if err := os.Chown(socketPath, -1, gid); err != nil {
			slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
		}
	}

	return nil
}

// Shuts down the server and cleans up its files. Safe to call more than
// once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}

		os.Remove(s.cfg.SocketPath)
		os.Remove(s.cfg.PIDFile)
	})
	return nil
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Returns a channel closed when the server stops.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, err := Decode(line)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, env.Payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd Command, payload json.RawMessage) {
	switch cmd {
	case CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case CmdStatus:
		s.handleStatus(conn)
	case CmdInvalidate:
		s.handleInvalidate(conn)
	case CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, CmdError, &ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn net.Conn, cmd Command, payload any) {
	data, err := Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}

// Creates an engine configured with the daemon defaults.
func (s *Server) engine(scope string, workers int, labels map[string]string) *build.Engine {
	if workers < 1 {
		workers = s.cfg.WorkerLimit
	}
	return build.New(build.Options{
		WorkerLimit: workers,
		Provider:    s.cfg.Provider,
		Cache:       s.cfg.Cache,
		Scope:       scope,
		Platform:    s.cfg.Platform,
		Labels:      labels,
	})
}

// Writes the daemon PID so clients can detect whether the daemon is
// already running and send it signals.
func writePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read blocks
// until the peer closes the connection, at which point it returns an error and
// the derived context is cancelled. The caller must ensure that no further data
// is expected on r for the lifetime of the returned context. The returned
// [context.CancelFunc] must always be called to release resources.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
