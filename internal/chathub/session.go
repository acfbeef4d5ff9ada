package chathub

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/protocol"
)

var (
	ErrRoomNotRegistered = errors.New("room not registered")
	ErrSessionClosed     = errors.New("session closed")
)

// Store is the persistence a session needs. storage.Service implements it.
type Store interface {
	LoadMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	UpsertMessage(ctx context.Context, roomID string, msg models.ChatMessage) error
	DeleteMessage(ctx context.Context, roomID, id string) error
	DeleteAllMessages(ctx context.Context, roomID string) error
	DeleteUserMessages(ctx context.Context, roomID, user string) (int64, error)
	RecordVisit(ctx context.Context, roomID, address string, at time.Time) (bool, error)
	CountVisitors(ctx context.Context, roomID string) (int64, error)
}

// Options tune presence and lifetime of sessions.
type Options struct {
	SweepInterval   time.Duration
	PresenceTimeout time.Duration
	// IdleTimeout stops a session that has had no connections for this
	// long. Zero keeps sessions forever.
	IdleTimeout    time.Duration
	StorageTimeout time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = 60 * time.Second
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is the single writer for one room. Every read and write of its
// state runs on the session goroutine; other goroutines submit closures.
type Session struct {
	roomID string
	store  Store
	opts   Options
	log    zerolog.Logger
	onStop func(*Session)

	actions  chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by run.
	messages      []models.ChatMessage
	clients       map[string]Client
	online        map[string]*models.OnlineUser
	connUser      map[string]string
	totalVisitors int64
	emptySince    time.Time
}

func newSession(ctx context.Context, roomID string, store Store, opts Options, onStop func(*Session)) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		roomID:   roomID,
		store:    store,
		opts:     opts,
		log:      log.Room(roomID),
		onStop:   onStop,
		actions:  make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		clients:  make(map[string]Client),
		online:   make(map[string]*models.OnlineUser),
		connUser: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(ctx, opts.StorageTimeout)
	defer cancel()

	messages, err := store.LoadMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	visitors, err := store.CountVisitors(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.messages = messages
	s.totalVisitors = visitors
	s.emptySince = opts.Now()

	s.log.Info().Int("messages", len(messages)).Int64("visitors", visitors).Msg("room session started")
	go s.run()
	return s, nil
}

func (s *Session) run() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.actions:
			fn()
		case <-ticker.C:
			s.sweep()
			if s.idle() {
				s.log.Info().Msg("room session idle, stopping")
				s.shutdown()
				return
			}
		case <-s.stop:
			s.shutdown()
			return
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	for id, c := range s.clients {
		delete(s.clients, id)
		c.Close()
	}
	if s.onStop != nil {
		s.onStop(s)
	}
}

// do runs fn on the session goroutine and waits for it to finish.
// fn must not call back into the session's exported methods.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.actions <- func() { defer close(finished); fn() }:
	case <-s.done:
		return ErrSessionClosed
	}
	<-finished
	return nil
}

// Close stops the session and disconnects its clients.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attach adds a connection and sends it the full message snapshot.
func (s *Session) Attach(c Client) error {
	return s.do(func() {
		s.clients[c.GetConnID()] = c
		s.emptySince = time.Time{}
		s.log.Debug().Str(log.FieldConnID, c.GetConnID()).Bool("admin", c.IsAdmin()).Msg("connection attached")
		s.unicast(c, protocol.Snapshot(s.messages))
	})
}

// Detach removes a connection, as on a transport-level close.
func (s *Session) Detach(c Client) {
	_ = s.do(func() { s.detach(c) })
}

// Deliver processes one raw inbound frame from c.
func (s *Session) Deliver(c Client, data []byte) error {
	return s.do(func() { s.handleFrame(c, data) })
}

// Messages returns a copy of the message list, oldest first.
func (s *Session) Messages() ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := s.do(func() { out = slices.Clone(s.messages) })
	return out, err
}

// Stats returns the current room statistics.
func (s *Session) Stats() (models.RoomStats, error) {
	var out models.RoomStats
	err := s.do(func() { out = s.roomStats() })
	return out, err
}

// DeleteUser removes every message written by user and resyncs all clients.
// It returns the number of messages removed.
func (s *Session) DeleteUser(user string) (int, error) {
	var (
		n    int
		derr error
	)
	if err := s.do(func() { n, derr = s.deleteUser(user) }); err != nil {
		return 0, err
	}
	return n, derr
}

func (s *Session) handleFrame(c Client, data []byte) {
	connID := c.GetConnID()
	if _, ok := s.clients[connID]; !ok {
		return
	}
	logger := s.log.With().Str(log.FieldConnID, connID).Logger()

	frame, err := protocol.Decode(data)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping frame")
		return
	}

	switch f := frame.(type) {
	case *protocol.MessageFrame:
		s.saveMessage(c, f)
	case *protocol.AdminFrame:
		if !c.IsAdmin() {
			logger.Warn().Str(log.FieldAction, string(f.Action)).Msg("dropping admin frame from non-admin connection")
			return
		}
		s.handleAdmin(c, f)
	case *protocol.PresenceFrame:
		// A heartbeat from an identity that is not online re-joins it.
		s.markActive(c, f.User)
	}
}

func (s *Session) storageContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StorageTimeout)
}

// saveMessage persists an add or update, then applies and broadcasts it.
// Nothing changes in memory when the write fails.
func (s *Session) saveMessage(c Client, f *protocol.MessageFrame) {
	msg := f.ChatMessage
	idx := s.indexOf(msg.ID)
	if idx >= 0 {
		msg.Timestamp = s.messages[idx].Timestamp
	} else if ts, ok := models.ParseTimestamp(msg.Timestamp); ok {
		msg.Timestamp = models.FormatTimestamp(ts)
	} else {
		msg.Timestamp = models.FormatTimestamp(s.opts.Now())
	}

	ctx, cancel := s.storageContext()
	defer cancel()
	if err := s.store.UpsertMessage(ctx, s.roomID, msg); err != nil {
		s.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to persist message, dropping it")
		return
	}

	if idx >= 0 {
		s.messages[idx] = msg
	} else {
		s.insert(msg)
	}
	s.broadcast(protocol.Message(f.Type, msg), "")
	s.markActive(c, msg.User)
}

func (s *Session) handleAdmin(c Client, f *protocol.AdminFrame) {
	logger := s.log.With().
		Str(log.FieldConnID, c.GetConnID()).
		Str(log.FieldAction, string(f.Action)).
		Logger()

	switch f.Action {
	case protocol.ActionDelete:
		ctx, cancel := s.storageContext()
		defer cancel()
		if err := s.store.DeleteMessage(ctx, s.roomID, f.MessageID); err != nil {
			logger.Error().Err(err).Msg("admin delete failed")
			return
		}
		s.messages = slices.DeleteFunc(s.messages, func(m models.ChatMessage) bool { return m.ID == f.MessageID })
		s.broadcast(protocol.Deleted(f.MessageID), "")
		logger.Info().Str("message_id", f.MessageID).Msg("message deleted")

	case protocol.ActionClear:
		ctx, cancel := s.storageContext()
		defer cancel()
		if err := s.store.DeleteAllMessages(ctx, s.roomID); err != nil {
			logger.Error().Err(err).Msg("admin clear failed")
			return
		}
		s.messages = nil
		s.broadcast(protocol.Cleared(), "")
		logger.Info().Msg("room cleared")

	case protocol.ActionDeleteUser:
		if _, err := s.deleteUser(f.User); err != nil {
			logger.Error().Err(err).Str(log.FieldUser, f.User).Msg("admin deleteUser failed")
		}

	case protocol.ActionGetStats:
		s.unicast(c, protocol.Stats(s.adminStats()))
	}
}

func (s *Session) deleteUser(user string) (int, error) {
	ctx, cancel := s.storageContext()
	defer cancel()
	stored, err := s.store.DeleteUserMessages(ctx, s.roomID, user)
	if err != nil {
		return 0, err
	}

	removed := 0
	s.messages = slices.DeleteFunc(s.messages, func(m models.ChatMessage) bool {
		if m.User == user {
			removed++
			return true
		}
		return false
	})

	s.broadcast(protocol.Snapshot(s.messages), "")
	s.broadcast(protocol.RoomStats(s.roomStats()), "")
	s.log.Info().Str(log.FieldUser, user).Int("removed", removed).Int64("stored_removed", stored).Msg("user messages deleted")
	return removed, nil
}

// markActive refreshes user's presence and binds it to c. A user that was
// not online joins: the join is announced to everyone else and stats go to all.
func (s *Session) markActive(c Client, user string) {
	now := s.opts.Now()

	if c != nil {
		connID := c.GetConnID()
		prev, had := s.connUser[connID]
		s.connUser[connID] = user
		if had && prev != user && !s.hasConnection(prev) {
			s.leave(prev)
		}
	}

	if u, ok := s.online[user]; ok {
		u.LastActivity = now.UnixMilli()
		return
	}

	s.online[user] = &models.OnlineUser{Address: user, JoinTime: now.UnixMilli(), LastActivity: now.UnixMilli()}
	s.recordVisit(user, now)
	s.broadcast(protocol.Joined(user), user)
	s.broadcast(protocol.RoomStats(s.roomStats()), "")
}

func (s *Session) recordVisit(user string, at time.Time) {
	ctx, cancel := s.storageContext()
	defer cancel()
	first, err := s.store.RecordVisit(ctx, s.roomID, user, at)
	if err != nil {
		s.log.Warn().Err(err).Str(log.FieldUser, user).Msg("failed to record visit")
		return
	}
	if first {
		s.totalVisitors++
	}
}

func (s *Session) leave(user string) {
	if _, ok := s.online[user]; !ok {
		return
	}
	delete(s.online, user)
	s.broadcast(protocol.Left(user), "")
	s.broadcast(protocol.RoomStats(s.roomStats()), "")
}

// sweep expires users whose last activity is older than the presence timeout.
func (s *Session) sweep() {
	cutoff := s.opts.Now().Add(-s.opts.PresenceTimeout).UnixMilli()
	var expired []string
	for addr, u := range s.online {
		if u.LastActivity < cutoff {
			expired = append(expired, addr)
		}
	}
	sort.Strings(expired)
	for _, addr := range expired {
		s.log.Debug().Str(log.FieldUser, addr).Msg("presence expired")
		s.leave(addr)
	}
}

func (s *Session) idle() bool {
	if s.opts.IdleTimeout <= 0 || len(s.clients) > 0 || s.emptySince.IsZero() {
		return false
	}
	return s.opts.Now().Sub(s.emptySince) >= s.opts.IdleTimeout
}

func (s *Session) detach(c Client) {
	connID := c.GetConnID()
	if _, ok := s.clients[connID]; !ok {
		return
	}
	delete(s.clients, connID)
	c.Close()
	if len(s.clients) == 0 {
		s.emptySince = s.opts.Now()
	}

	user, mapped := s.connUser[connID]
	delete(s.connUser, connID)
	if mapped && !s.hasConnection(user) {
		s.leave(user)
	}
	s.log.Debug().Str(log.FieldConnID, connID).Str(log.FieldUser, user).Msg("connection detached")
}

func (s *Session) hasConnection(user string) bool {
	for _, u := range s.connUser {
		if u == user {
			return true
		}
	}
	return false
}

// broadcast sends frame to every connection except those bound to
// exceptUser. Connections whose buffers are full are dropped afterwards.
func (s *Session) broadcast(frame any, exceptUser string) {
	data, err := protocol.Encode(frame)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode frame")
		return
	}

	var slow []Client
	for connID, c := range s.clients {
		if exceptUser != "" && s.connUser[connID] == exceptUser {
			continue
		}
		if !c.Send(data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		s.log.Warn().Str(log.FieldConnID, c.GetConnID()).Msg("send buffer full, dropping connection")
		s.detach(c)
	}
}

func (s *Session) unicast(c Client, frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode frame")
		return
	}
	if !c.Send(data) {
		s.log.Warn().Str(log.FieldConnID, c.GetConnID()).Msg("send buffer full, dropping connection")
		s.detach(c)
	}
}

func (s *Session) indexOf(id string) int {
	return slices.IndexFunc(s.messages, func(m models.ChatMessage) bool { return m.ID == id })
}

// insert keeps messages ordered by (timestamp, id), the order they reload in.
func (s *Session) insert(msg models.ChatMessage) {
	i := len(s.messages)
	for i > 0 && messageLess(msg, s.messages[i-1]) {
		i--
	}
	s.messages = slices.Insert(s.messages, i, msg)
}

func messageLess(a, b models.ChatMessage) bool {
	ta, _ := models.ParseTimestamp(a.Timestamp)
	tb, _ := models.ParseTimestamp(b.Timestamp)
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

func (s *Session) userCounts() map[string]int {
	counts := make(map[string]int)
	for _, m := range s.messages {
		counts[m.User]++
	}
	return counts
}

func (s *Session) roomStats() models.RoomStats {
	counts := s.userCounts()
	list := make([]models.OnlineUser, 0, len(s.online))
	for _, u := range s.online {
		list = append(list, *u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinTime != list[j].JoinTime {
			return list[i].JoinTime < list[j].JoinTime
		}
		return list[i].Address < list[j].Address
	})
	return models.RoomStats{
		TotalMessages:     len(s.messages),
		UniqueUsers:       len(counts),
		OnlineUsers:       len(s.online),
		TotalVisitors:     s.totalVisitors,
		UserMessageCounts: counts,
		OnlineUsersList:   list,
	}
}

func (s *Session) adminStats() models.AdminStats {
	counts := s.userCounts()
	return models.AdminStats{
		TotalMessages:     len(s.messages),
		UniqueUsers:       len(counts),
		UserMessageCounts: counts,
		Messages:          s.messages,
	}
}
