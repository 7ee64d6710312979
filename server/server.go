package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skillswap/logger"
	"skillswap/protocol"
	"skillswap/session"
)

type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	core   *session.Core
	config *Config

	mu       sync.RWMutex
	clients  map[string]*client
	online   map[string]map[string]*client
	listener net.Listener
	closing  bool

	shutdownOnce sync.Once
	stopped      chan struct{}
}

// client is one TCP connection. Writes may come from its own handler
// goroutine and from deliveries triggered by other clients.
type client struct {
	id      string
	conn    net.Conn
	session *session.Session
	log     *logrus.Entry
	wmu     sync.Mutex
}

func New(core *session.Core, config *Config) *Server {
	return &Server{
		core:    core,
		config:  config,
		clients: make(map[string]*client),
		online:  make(map[string]map[string]*client),
		stopped: make(chan struct{}),
	}
}

// Start accepts clients until Shutdown is called, then returns once the
// shutdown has flushed.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.config.Port)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		<-s.stopped
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	logger.L.WithField("port", s.config.Port).Info("skillswap server started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing {
				<-s.stopped
				return nil
			}
			logger.L.WithError(err).Warn("error accepting connection")
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		session: session.New(s.core),
	}
	c.log = logger.L.WithField("conn_id", c.id)
	c.log.WithField("remote", remoteAddr(conn)).Info("client connected")

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	defer func() {
		s.setOnline(c, "")
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		c.log.Info("client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				s.sendPacket(c, "bye", "timeout")
			case err == io.EOF, errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			default:
				c.log.WithError(err).Warn("error reading from client")
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		pkt, err := protocol.ParsePacket(line)
		if err != nil {
			s.sendPacket(c, "fail", "", "bad_request", err.Error())
			continue
		}
		if pkt.Type != "auth" && pkt.Type != "reg" {
			c.log.WithField("packet", pkt.Type).Debug("received packet")
		}

		entry := c.log
		if user := c.session.CurrentUser(); user != "" {
			entry = entry.WithField("user", user)
		}
		ctx := logger.WithLogger(context.Background(), entry)
		if !s.handlePacket(ctx, c, pkt) {
			return
		}
	}
}

// handlePacket dispatches pkt and reports whether the connection stays open.
func (s *Server) handlePacket(ctx context.Context, c *client, pkt *protocol.Packet) bool {
	switch pkt.Type {
	case "ping":
		s.sendPacket(c, "pong")
	case "help":
		s.handleHelp(c)
	case "reg":
		s.handleRegister(ctx, c, pkt)
	case "auth":
		s.handleAuth(ctx, c, pkt)
	case "out":
		s.handleLogout(c)
	case "bye":
		s.sendPacket(c, "bye")
		return false
	case "offer", "need":
		s.handleAddSkill(ctx, c, pkt)
	case "prof":
		s.handleProfile(ctx, c)
	case "contact":
		s.handleContact(ctx, c, pkt)
	case "match":
		s.handleMatch(ctx, c)
	case "req":
		s.handleRequest(ctx, c, pkt)
	case "notif":
		s.handleNotifications(ctx, c)
	case "resp":
		s.handleRespond(ctx, c, pkt)
	case "dismiss":
		s.handleDismiss(ctx, c, pkt)
	case "conns":
		s.handleConnections(ctx, c)
	case "msg":
		s.handleMessage(ctx, c, pkt)
	case "hist":
		s.handleHistory(ctx, c, pkt)
	case "save":
		s.handleSave(ctx, c)
	default:
		s.sendPacket(c, "fail", pkt.Type, "unknown_packet", "unknown packet type")
	}
	return true
}

func (s *Server) sendPacket(c *client, pktType string, fields ...string) {
	packet := protocol.FormatPacket(pktType, fields...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if s.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := io.WriteString(c.conn, packet); err != nil {
		c.log.WithError(err).Debug("error writing to client")
	}
}

// deliver pushes a packet to every connection logged in as login.
func (s *Server) deliver(login, pktType string, fields ...string) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.online[login]))
	for _, c := range s.online[login] {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.sendPacket(c, pktType, fields...)
	}
}

// setOnline moves c to the online set of login, or removes it for "".
func (s *Server) setOnline(c *client, login string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for user, conns := range s.online {
		if _, ok := conns[c.id]; ok {
			delete(conns, c.id)
			if len(conns) == 0 {
				delete(s.online, user)
			}
		}
	}
	if login == "" {
		return
	}
	if s.online[login] == nil {
		s.online[login] = make(map[string]*client)
	}
	s.online[login][c.id] = c
}

// GetStats summarizes active connections and logged-in users.
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.online))
	for login := range s.online {
		users = append(users, login)
	}
	sort.Strings(users)

	return "connections=" + strconv.Itoa(len(s.clients)) + ",users=" + strings.Join(users, ";")
}

// Announce stores a text notification for every registered user and pushes
// it to those online.
func (s *Server) Announce(ctx context.Context, text string) (int, error) {
	sent, err := s.core.Announce(ctx, text)
	for _, n := range sent {
		s.deliver(n.Recipient, "alert", notificationItem(n))
	}
	return len(sent), err
}

// Shutdown stops accepting, says goodbye to every client and flushes all
// collections. Only the first call has any effect.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown(ctx, reason)
		close(s.stopped)
	})
	return err
}

func (s *Server) shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.sendPacket(c, "bye", "shutdown", reason)
		c.conn.Close()
	}

	logger.G(ctx).WithField("reason", reason).Info("server shutting down")
	return s.core.Flush(ctx)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
