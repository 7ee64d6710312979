package server

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"skillswap/logger"
	"skillswap/models"
	"skillswap/protocol"
)

var usage = []string{
	"ping",
	"help",
	"reg|username|password|email|phone",
	"auth|username|password",
	"out",
	"bye",
	"offer|skill",
	"need|skill",
	"prof",
	"contact|email|phone",
	"match",
	"req|username|skill",
	"notif",
	"resp|id|yes or no",
	"dismiss|id",
	"conns",
	"msg|username|text",
	"hist|username",
	"save",
}

func (s *Server) sendOK(c *client, op string, fields ...string) {
	s.sendPacket(c, "ok", append([]string{op}, fields...)...)
}

// sendError replies fail|op|code|description followed by any extra fields.
// Errors without a wire code are logged and hidden from the client.
func (s *Server) sendError(ctx context.Context, c *client, op string, err error, extra ...string) {
	code := models.Code(err)
	description := err.Error()

	switch code {
	case "internal":
		logger.G(ctx).WithError(err).WithField("op", op).Error("request failed")
		description = "internal error"
	case "persistence":
		logger.G(ctx).WithError(err).WithField("op", op).Warn("failed to persist change")
	}
	s.sendPacket(c, "fail", append([]string{op, code, description}, extra...)...)
}

func (s *Server) sendUsage(c *client, op, form string) {
	s.sendPacket(c, "fail", op, "bad_request", "usage: "+form)
}

// notificationItem packs id, kind, from, skill, email, phone, text,
// created_at and a display line.
func notificationItem(n models.Notification) string {
	return protocol.JoinFields(
		strconv.FormatInt(n.ID, 10),
		string(n.Kind),
		n.From,
		n.Skill,
		n.Email,
		n.Phone,
		n.Text,
		formatTime(n.CreatedAt),
		n.Describe(),
	)
}

func messageItem(m models.Message) string {
	return protocol.JoinFields(strconv.Itoa(m.Position), m.Sender, m.Text, formatTime(m.Timestamp))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Server) handleHelp(c *client) {
	s.sendPacket(c, "help", usage...)
}

func (s *Server) handleRegister(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 4 {
		s.sendUsage(c, "reg", "reg|username|password|email|phone")
		return
	}
	if err := c.session.Register(ctx, pkt.Field(0), pkt.Field(1), pkt.Field(2), pkt.Field(3)); err != nil {
		s.sendError(ctx, c, "reg", err)
		return
	}
	logger.G(ctx).WithField("login", pkt.Field(0)).Info("user registered")
	s.sendOK(c, "reg")
}

func (s *Server) handleAuth(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 2 {
		s.sendUsage(c, "auth", "auth|username|password")
		return
	}
	if err := c.session.Login(ctx, pkt.Field(0), pkt.Field(1)); err != nil {
		s.sendError(ctx, c, "auth", err)
		return
	}
	s.setOnline(c, c.session.CurrentUser())
	logger.G(ctx).WithField("user", c.session.CurrentUser()).Info("user logged in")
	s.sendOK(c, "auth")
}

func (s *Server) handleLogout(c *client) {
	c.session.Logout()
	s.setOnline(c, "")
	s.sendOK(c, "out")
}

func (s *Server) handleAddSkill(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 1 {
		s.sendUsage(c, pkt.Type, pkt.Type+"|skill")
		return
	}

	add := c.session.AddOffered
	if pkt.Type == "need" {
		add = c.session.AddNeeded
	}
	skill, err := add(ctx, pkt.Field(0))
	if err != nil {
		s.sendError(ctx, c, pkt.Type, err)
		return
	}
	s.sendOK(c, pkt.Type, skill)
}

func (s *Server) handleProfile(ctx context.Context, c *client) {
	p, err := c.session.Profile()
	if err != nil {
		s.sendError(ctx, c, "prof", err)
		return
	}
	s.sendPacket(c, "prof",
		p.Login,
		protocol.JoinFields(p.Offered...),
		protocol.JoinFields(p.Needed...),
		p.Contact.Email,
		p.Contact.Phone,
	)
}

// handleContact treats an empty field as "keep the current value". Fields
// are applied independently, so a failure still reports the stored contact
// as fail|contact|code|description|email|phone.
func (s *Server) handleContact(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 2 {
		s.sendUsage(c, "contact", "contact|email|phone")
		return
	}
	email, phone := pkt.Field(0), pkt.Field(1)
	contact, err := c.session.UpdateContact(ctx, &email, &phone)
	if err != nil {
		if errors.Is(err, models.ErrNotAuthenticated) {
			s.sendError(ctx, c, "contact", err)
			return
		}
		s.sendError(ctx, c, "contact", err, contact.Email, contact.Phone)
		return
	}
	s.sendPacket(c, "contact", contact.Email, contact.Phone)
}

func (s *Server) handleMatch(ctx context.Context, c *client) {
	matches, err := c.session.FindMatches()
	if err != nil {
		s.sendError(ctx, c, "match", err)
		return
	}
	items := make([]string, len(matches))
	for i, m := range matches {
		items[i] = protocol.JoinFields(m.Teacher, m.Skill)
	}
	s.sendPacket(c, "match", items...)
}

func (s *Server) handleRequest(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 2 {
		s.sendUsage(c, "req", "req|username|skill")
		return
	}
	n, err := c.session.RequestConnection(ctx, pkt.Field(0), pkt.Field(1))
	if err != nil {
		s.sendError(ctx, c, "req", err)
	} else {
		s.sendOK(c, "req", strconv.FormatInt(n.ID, 10))
	}
	if n.ID != 0 {
		s.deliver(n.Recipient, "alert", notificationItem(n))
	}
}

func (s *Server) handleNotifications(ctx context.Context, c *client) {
	list, err := c.session.Notifications()
	if err != nil {
		s.sendError(ctx, c, "notif", err)
		return
	}
	items := make([]string, len(list))
	for i, n := range list {
		items[i] = notificationItem(n)
	}
	s.sendPacket(c, "notif", items...)
}

func (s *Server) handleRespond(ctx context.Context, c *client, pkt *protocol.Packet) {
	id, err := strconv.ParseInt(pkt.Field(0), 10, 64)
	answer := pkt.Field(1)
	if err != nil || (answer != "yes" && answer != "no") {
		s.sendUsage(c, "resp", "resp|id|yes or no")
		return
	}

	resp, err := c.session.Respond(ctx, id, answer == "yes")
	if err != nil {
		s.sendError(ctx, c, "resp", err)
	} else {
		outcome := "declined"
		if resp.Approved {
			outcome = "approved"
		}
		s.sendOK(c, "resp", strconv.FormatInt(id, 10), outcome)
	}
	if resp.Shared != nil {
		s.deliver(resp.Shared.Recipient, "alert", notificationItem(*resp.Shared))
	}
}

func (s *Server) handleDismiss(ctx context.Context, c *client, pkt *protocol.Packet) {
	id, err := strconv.ParseInt(pkt.Field(0), 10, 64)
	if err != nil {
		s.sendUsage(c, "dismiss", "dismiss|id")
		return
	}
	if err := c.session.Dismiss(ctx, id); err != nil {
		s.sendError(ctx, c, "dismiss", err)
		return
	}
	s.sendOK(c, "dismiss")
}

func (s *Server) handleConnections(ctx context.Context, c *client) {
	partners, err := c.session.Connections()
	if err != nil {
		s.sendError(ctx, c, "conns", err)
		return
	}
	s.sendPacket(c, "conns", partners...)
}

// handleMessage acknowledges to the sender before pushing recv to the
// recipient's live connections.
func (s *Server) handleMessage(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 2 {
		s.sendUsage(c, "msg", "msg|username|text")
		return
	}
	to := pkt.Field(0)
	m, err := c.session.Send(ctx, to, pkt.Field(1))
	if err != nil {
		s.sendError(ctx, c, "msg", err)
	} else {
		s.sendOK(c, "msg", strconv.Itoa(m.Position))
	}
	if m.Sender != "" {
		s.deliver(to, "recv", m.Sender, m.Text, strconv.Itoa(m.Position), formatTime(m.Timestamp))
	}
}

func (s *Server) handleHistory(ctx context.Context, c *client, pkt *protocol.Packet) {
	if len(pkt.Fields) < 1 {
		s.sendUsage(c, "hist", "hist|username")
		return
	}
	with := pkt.Field(0)
	history, err := c.session.History(with)
	if err != nil {
		s.sendError(ctx, c, "hist", err)
		return
	}
	fields := make([]string, 0, len(history)+1)
	fields = append(fields, with)
	for _, m := range history {
		fields = append(fields, messageItem(m))
	}
	s.sendPacket(c, "hist", fields...)
}

func (s *Server) handleSave(ctx context.Context, c *client) {
	if err := c.session.Save(ctx); err != nil {
		s.sendError(ctx, c, "save", err)
		return
	}
	s.sendOK(c, "save")
}
