// Package emulator runs the SSH deception surface. It accepts any
// login, presents a convincing root shell, and feeds every command to
// the recorder without ever executing anything.
package emulator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"lurecage/internal/schema"
)

// Recorder is the emulator's only link to the capture pipeline.
type Recorder interface {
	Open(sourceAddr string) (uuid.UUID, error)
	Record(sessionID uuid.UUID, command string, truncated bool) (schema.Exchange, error)
	Close(sessionID uuid.UUID) error
}

// Config holds configuration for the SSH server.
type Config struct {
	Address string `yaml:"address"`

	// ServerVersion is the banner string presented during the SSH
	// handshake. Scanners fingerprint this, so it imitates a stock
	// Ubuntu sshd.
	ServerVersion string `yaml:"server_version"`

	// HostKeyFile is a PEM private key path. Empty generates an
	// ephemeral ed25519 key at startup.
	HostKeyFile string `yaml:"host_key_file"`

	// AcceptAttempt is the password attempt that "succeeds". 1 lets
	// everyone straight in; higher values make the target look harder.
	AcceptAttempt int `yaml:"accept_attempt"`

	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
}

// DefaultConfig returns the default SSH server configuration.
func DefaultConfig() Config {
	return Config{
		Address:        ":2222",
		ServerVersion:  "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5",
		AcceptAttempt:  1,
		MaxConnections: 1000,
		IdleTimeout:    5 * time.Minute,
		MaxLineLength:  4096,
	}
}

// Metrics holds server counters.
type Metrics struct {
	Connections uint64 `json:"connections"`
	Rejected    uint64 `json:"rejected"`
	Active      int32  `json:"active"`
}

// Server is the SSH honeypot listener.
type Server struct {
	cfg      Config
	rec      Recorder
	signer   ssh.Signer
	listener net.Listener

	connCount int32
	wg        sync.WaitGroup
	done      chan struct{}

	connections uint64
	rejected    uint64
}

// NewServer prepares the host key and the server. Start must be called
// to begin accepting.
func NewServer(cfg Config, rec Recorder) (*Server, error) {
	signer, err := loadHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		rec:    rec,
		signer: signer,
		done:   make(chan struct{}),
	}, nil
}

func loadHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("emulator: read host key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("emulator: parse host key: %w", err)
		}
		return signer, nil
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("emulator: generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("emulator: host key signer: %w", err)
	}
	slog.Info("generated ephemeral host key", "type", signer.PublicKey().Type())
	return signer, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("emulator: listen: %w", err)
	}
	s.listener = listener

	slog.Info("ssh honeypot started",
		"address", s.cfg.Address,
		"server_version", s.cfg.ServerVersion,
	)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", "error", err)
				continue
			}
		}

		if atomic.LoadInt32(&s.connCount) >= int32(s.cfg.MaxConnections) {
			atomic.AddUint64(&s.rejected, 1)
			slog.Warn("max connections reached, rejecting",
				"remote", conn.RemoteAddr(),
			)
			conn.Close()
			continue
		}

		atomic.AddInt32(&s.connCount, 1)
		atomic.AddUint64(&s.connections, 1)

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// sshConfig builds a per-connection server config so password attempt
// counting is isolated to that connection.
func (s *Server) sshConfig() *ssh.ServerConfig {
	attempts := 0
	cfg := &ssh.ServerConfig{
		ServerVersion: s.cfg.ServerVersion,
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			attempts++
			slog.Debug("auth attempt",
				"remote", meta.RemoteAddr(),
				"user", meta.User(),
				"attempt", attempts,
			)
			if attempts >= s.cfg.AcceptAttempt {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		},
	}
	cfg.AddHostKey(s.signer)
	return cfg
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer atomic.AddInt32(&s.connCount, -1)
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig())
	if err != nil {
		// Port scanners and protocol errors land here. One line of
		// debug, nothing else.
		slog.Debug("handshake failed",
			"remote", conn.RemoteAddr(),
			"error", err,
		)
		return
	}
	defer sshConn.Close()

	sourceAddr := sshConn.RemoteAddr().String()
	sessionID, err := s.rec.Open(sourceAddr)
	if err != nil {
		slog.Error("failed to open session",
			"source_addr", sourceAddr,
			"error", err,
		)
		return
	}
	defer func() {
		if err := s.rec.Close(sessionID); err != nil {
			slog.Error("failed to close session",
				"session_id", sessionID,
				"error", err,
			)
		}
	}()

	slog.Info("session opened",
		"session_id", sessionID,
		"source_addr", sourceAddr,
		"user", sshConn.User(),
		"client_version", string(sshConn.ClientVersion()),
	)

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			slog.Debug("channel accept failed", "error", err)
			continue
		}
		s.handleSession(channel, requests, sessionID, sourceAddr)

		// The session channel is done, so the connection is done. A
		// client that lingers after its shell idled out must not pin
		// an open session or a connection slot.
		sshConn.Close()
		break
	}

	slog.Info("session ended",
		"session_id", sessionID,
		"source_addr", sourceAddr,
	)
}

// handleSession serves one SSH session channel until it closes.
func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, sessionID uuid.UUID, sourceAddr string) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			sh := newShell(channel, sessionID, sourceAddr, s.rec, s.cfg)
			sh.run()
			sendExitStatus(channel, 0)
			return

		case "exec":
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.handleExec(channel, req.Payload, sessionID, sourceAddr)
			sendExitStatus(channel, 0)
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// handleExec answers a one-shot `ssh host <command>` invocation. The
// command is recorded exactly like an interactive one.
func (s *Server) handleExec(channel ssh.Channel, payload []byte, sessionID uuid.UUID, sourceAddr string) {
	command, ok := parseExecPayload(payload)
	if !ok {
		return
	}

	truncated := false
	if len(command) > s.cfg.MaxLineLength {
		command = command[:s.cfg.MaxLineLength]
		truncated = true
	}
	command, sanitized := sanitizeLine(command)
	truncated = truncated || sanitized

	ex, err := s.rec.Record(sessionID, command, truncated)
	if err != nil {
		slog.Error("failed to record exec command",
			"session_id", sessionID,
			"error", err,
		)
		channel.Write([]byte(crlf(Respond(command)) + "\r\n"))
		return
	}

	response := Decorate(Respond(command), ex.Level)
	channel.Write([]byte(crlf(response) + "\r\n"))
}

// parseExecPayload decodes the exec request's length-prefixed command.
func parseExecPayload(payload []byte) (string, bool) {
	if len(payload) < 4 {
		return "", false
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) < n {
		return "", false
	}
	return string(payload[4 : 4+n]), true
}

func sendExitStatus(channel ssh.Channel, status uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], status)
	channel.SendRequest("exit-status", false, b[:]) //nolint:errcheck
}

// Stop stops accepting and waits for active sessions to finish.
func (s *Server) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	slog.Info("ssh honeypot stopped",
		"connections", atomic.LoadUint64(&s.connections),
		"rejected", atomic.LoadUint64(&s.rejected),
	)
}

// Addr returns the bound listener address, useful when Address used
// port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Metrics returns current server counters.
func (s *Server) Metrics() Metrics {
	return Metrics{
		Connections: atomic.LoadUint64(&s.connections),
		Rejected:    atomic.LoadUint64(&s.rejected),
		Active:      atomic.LoadInt32(&s.connCount),
	}
}
