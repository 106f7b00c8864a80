package emulator

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

const prompt = "[root@server ~]# "

// shell drives one interactive fake session over an SSH channel. It
// echoes input, assembles lines, records every command, and renders
// canned responses. Attacker input is never executed.
type shell struct {
	ch         ssh.Channel
	sessionID  uuid.UUID
	sourceAddr string
	rec        Recorder
	cfg        Config

	rawIn    chan byte
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
}

func newShell(ch ssh.Channel, sessionID uuid.UUID, sourceAddr string, rec Recorder, cfg Config) *shell {
	s := &shell{
		ch:         ch,
		sessionID:  sessionID,
		sourceAddr: sourceAddr,
		rec:        rec,
		cfg:        cfg,
		rawIn:      make(chan byte, 256),
		done:       make(chan struct{}),
	}
	go s.inputReader()
	return s
}

func (s *shell) inputReader() {
	buf := make([]byte, 1)
	for {
		n, err := s.ch.Read(buf)
		if n > 0 {
			select {
			case s.rawIn <- buf[0]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.closeDone()
			return
		}
	}
}

// readRaw blocks for the next input byte or the idle timeout.
func (s *shell) readRaw() (byte, bool) {
	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	select {
	case b := <-s.rawIn:
		return b, true
	case <-s.done:
		return 0, false
	case <-idle.C:
		slog.Debug("session idle timeout",
			"session_id", s.sessionID,
			"source_addr", s.sourceAddr,
		)
		s.closeDone()
		return 0, false
	}
}

func (s *shell) write(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch.Write([]byte(data)) //nolint:errcheck
}

func (s *shell) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// run is the interactive loop. It returns when the attacker
// disconnects, idles out, or types exit.
func (s *shell) run() {
	s.write(prompt)

	var buf []byte
	var escBuf []byte
	overflowed := false

	for {
		b, ok := s.readRaw()
		if !ok {
			return
		}

		// Swallow CSI escape sequences (arrow keys and friends).
		if len(escBuf) > 0 {
			escBuf = append(escBuf, b)
			if len(escBuf) == 3 && escBuf[1] == '[' {
				escBuf = escBuf[:0]
			} else if len(escBuf) >= 3 || (len(escBuf) == 2 && b != '[') {
				escBuf = escBuf[:0]
			}
			continue
		}
		if b == 0x1b {
			escBuf = append(escBuf[:0], b)
			continue
		}

		switch {
		case b == '\r' || b == '\n':
			s.write("\r\n")
			line := string(buf)
			truncated := overflowed
			buf = buf[:0]
			overflowed = false

			if !s.handleLine(line, truncated) {
				return
			}
			s.write(prompt)

		case b == 0x7f || b == 0x08:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				s.write("\b \b")
			}

		case b == 0x03: // Ctrl+C
			buf = buf[:0]
			overflowed = false
			s.write("^C\r\n" + prompt)

		case b == 0x04: // Ctrl+D
			if len(buf) == 0 {
				s.write("logout\r\n")
				s.closeDone()
				return
			}

		case b >= 0x20:
			if len(buf) >= s.cfg.MaxLineLength {
				// Keep reading so the terminal stays usable, but the
				// recorded command is capped.
				overflowed = true
				continue
			}
			buf = append(buf, b)
			s.write(string([]byte{b}))
		}
	}
}

// handleLine records and answers one command. Returns false when the
// session should end.
func (s *shell) handleLine(line string, truncated bool) bool {
	command, sanitized := sanitizeLine(line)
	truncated = truncated || sanitized
	if strings.TrimSpace(command) == "" {
		return true
	}

	switch strings.TrimSpace(command) {
	case "exit", "logout", "quit":
		s.write("logout\r\n")
		s.closeDone()
		return false
	}

	ex, err := s.rec.Record(s.sessionID, command, truncated)
	if err != nil {
		// Recording failed for this one command; the session goes on.
		slog.Error("failed to record command",
			"session_id", s.sessionID,
			"source_addr", s.sourceAddr,
			"error", err,
		)
		s.write(crlf(Respond(command)) + "\r\n")
		return true
	}

	response := Decorate(Respond(command), ex.Level)
	s.write(crlf(response) + "\r\n")
	return true
}

// sanitizeLine strips invalid UTF-8 so downstream JSON and display
// surfaces never see raw bytes. Reports whether anything was replaced.
func sanitizeLine(line string) (string, bool) {
	if utf8.ValidString(line) {
		return line, false
	}
	return strings.ToValidUTF8(line, "�"), true
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}
