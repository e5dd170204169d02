package sink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/multimail/internal/metrics"
	"github.com/shineum/multimail/internal/parser"
)

type state int

const (
	stateConnected state = iota
	stateGreeted
	stateAuthenticated
	stateMail
	stateRcpt
)

// idleTimeout closes sessions that stop talking.
const idleTimeout = 60 * time.Second

var errTooLarge = errors.New("message exceeds maximum size")

// session drives one client connection through the SMTP state machine.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	srv    *Server

	state     state
	tlsActive bool
	user      string

	mailFrom string
	rcptTo   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	return &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		srv:    srv,
	}
}

// serve processes commands until QUIT, a read error or ctx is done.
func (s *session) serve(ctx context.Context) {
	defer s.conn.Close()

	s.reply("220 %s ESMTP multimail-sink", s.srv.cfg.Hostname)

	for {
		if ctx.Err() != nil {
			s.reply("421 Service shutting down")
			return
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "remote", s.conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		if quit := s.dispatch(ctx, verb, arg); quit {
			return
		}
	}
}

func (s *session) dispatch(ctx context.Context, verb, arg string) bool {
	switch verb {
	case "EHLO", "HELO":
		s.hello(verb, arg)
	case "STARTTLS":
		s.startTLS()
	case "AUTH":
		s.authenticate(arg)
	case "MAIL":
		s.mail(arg)
	case "RCPT":
		s.rcpt(arg)
	case "DATA":
		s.data(ctx)
	case "RSET":
		s.resetTransaction()
		s.reply("250 OK")
	case "NOOP":
		s.reply("250 OK")
	case "QUIT":
		s.reply("221 Bye")
		return true
	default:
		s.reply("500 Unrecognized command")
	}
	return false
}

func (s *session) hello(verb, arg string) {
	if arg == "" {
		s.reply("501 Syntax: %s hostname", verb)
		return
	}

	s.state = stateGreeted
	s.resetTransaction()
	if verb == "HELO" {
		s.reply("250 %s Hello %s", s.srv.cfg.Hostname, arg)
		return
	}

	lines := []string{fmt.Sprintf("%s Hello %s", s.srv.cfg.Hostname, arg)}
	if s.srv.cfg.TLSConfig != nil && !s.tlsActive {
		lines = append(lines, "STARTTLS")
	}
	if s.srv.auth.Enabled() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.srv.cfg.MaxMessageSize), "OK")

	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		s.reply("250%s%s", sep, l)
	}
}

func (s *session) startTLS() {
	switch {
	case s.srv.cfg.TLSConfig == nil:
		s.reply("454 TLS not available")
		return
	case s.tlsActive:
		s.reply("454 TLS already active")
		return
	}

	s.reply("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	// RFC 3207: the client must greet again after the upgrade.
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.user = ""
}

func (s *session) authenticate(arg string) {
	switch {
	case s.state < stateGreeted:
		s.reply("503 Send EHLO/HELO first")
		return
	case !s.srv.auth.Enabled():
		s.reply("503 AUTH not available")
		return
	case s.state >= stateAuthenticated && s.user != "":
		s.reply("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var (
		user string
		err  error
	)
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		if initial == "" {
			s.reply("334 ")
			if initial, err = s.readLine(); err != nil {
				return
			}
		}
		if initial == "*" {
			s.reply("501 Authentication cancelled")
			return
		}
		user, err = s.srv.auth.VerifyPlain(initial)
	case "LOGIN":
		var encUser, encPass string
		s.reply("334 VXNlcm5hbWU6")
		if encUser, err = s.readLine(); err != nil {
			return
		}
		if encUser == "*" {
			s.reply("501 Authentication cancelled")
			return
		}
		s.reply("334 UGFzc3dvcmQ6")
		if encPass, err = s.readLine(); err != nil {
			return
		}
		if encPass == "*" {
			s.reply("501 Authentication cancelled")
			return
		}
		user, err = s.srv.auth.VerifyLogin(encUser, encPass)
	default:
		s.reply("504 Unrecognized authentication type")
		return
	}

	if err != nil {
		slog.Info("sink authentication failed", "remote", s.conn.RemoteAddr().String(), "error", err)
		s.reply("535 Authentication failed")
		return
	}

	s.user = user
	s.state = stateAuthenticated
	s.reply("235 Authentication successful")
}

func (s *session) mail(arg string) {
	switch {
	case s.state < stateGreeted:
		s.reply("503 Send EHLO/HELO first")
		return
	case s.srv.auth.Enabled() && s.user == "":
		s.reply("530 Authentication required")
		return
	case s.state >= stateMail:
		s.reply("503 Sender already specified")
		return
	}

	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		s.reply("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMail
	s.reply("250 OK")
}

func (s *session) rcpt(arg string) {
	if s.state < stateMail {
		s.reply("503 Send MAIL FROM first")
		return
	}

	addr, ok := pathArg(arg, "TO:")
	if !ok || addr == "" {
		s.reply("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcpt
	s.reply("250 OK")
}

func (s *session) data(ctx context.Context) {
	if s.state < stateRcpt {
		s.reply("503 Send RCPT TO first")
		return
	}

	s.reply("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, err := s.readData()
	if errors.Is(err, errTooLarge) {
		metrics.SinkMessages.WithLabelValues("rejected").Inc()
		s.reply("552 Message exceeds maximum size")
		s.resetTransaction()
		return
	}
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Error("failed to parse message", "error", err)
		metrics.SinkMessages.WithLabelValues("rejected").Inc()
		s.reply("550 Failed to process message")
		s.resetTransaction()
		return
	}

	// Envelope wins over headers: Bcc recipients only exist in RCPT TO.
	if msg.From == "" {
		msg.From = s.mailFrom
	}
	msg.To = s.rcptTo

	if err := s.srv.cfg.Deliverer.Deliver(ctx, msg); err != nil {
		slog.Error("sink delivery failed", "from", s.mailFrom, "error", err)
		metrics.SinkMessages.WithLabelValues("failed").Inc()
		s.reply("451 Temporary failure, please try again later")
		s.resetTransaction()
		return
	}

	slog.Info("sink accepted message",
		"from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"user", s.user,
	)
	metrics.SinkMessages.WithLabelValues("accepted").Inc()
	s.reply("250 OK message accepted")
	s.resetTransaction()
}

// readData reads a dot-terminated DATA payload, undoing dot-stuffing. An
// oversized payload is drained to the terminator so the session stays in sync.
func (s *session) readData() ([]byte, error) {
	var (
		buf      strings.Builder
		tooLarge bool
	)
	limit := s.srv.cfg.MaxMessageSize

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		if tooLarge {
			continue
		}
		if limit > 0 && int64(buf.Len()+len(line)) > limit {
			tooLarge = true
			continue
		}
		buf.WriteString(line)
	}

	if tooLarge {
		return nil, errTooLarge
	}
	return []byte(buf.String()), nil
}

// resetTransaction drops envelope state but keeps greeting and auth.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateGreeted {
		if s.user != "" {
			s.state = stateAuthenticated
		} else {
			s.state = stateGreeted
		}
	}
}

func (s *session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) reply(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// parseCommand splits a command line into its upper-cased verb and argument.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

// pathArg extracts the address from "FROM:<addr> PARAMS" style arguments.
// The reverse-path may be empty (null sender).
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])

	if strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return "", false
		}
		return rest[1:end], true
	}

	addr, _, _ := strings.Cut(rest, " ")
	if addr == "" {
		return "", false
	}
	return addr, true
}
