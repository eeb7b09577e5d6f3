package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrComposeDisabled = errors.New("composing is disabled for this room")
	ErrNotRetryable    = errors.New("message is not in error state")
	ErrSessionClosed   = errors.New("session closed")
)

// Phrases in broker error events that mean the user may read but not write.
var denialPhrases = []string{
	"not authorized",
	"unauthorized",
	"access denied",
	"forbidden",
	"permission",
	"don't have access",
	"not a member",
}

func isAuthorizationDenial(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range denialPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// SessionConfig identifies the room a Session follows and the user it sends as.
type SessionConfig struct {
	EntityType string
	EntityID   string
	UserID     string
	UserName   string

	// BaseURL of the REST fallback; empty disables it.
	BaseURL   string
	Token     string
	RESTPaths []string
}

// Room returns the broker room key.
func (c SessionConfig) Room() string {
	return c.EntityType + "-" + c.EntityID
}

// outgoing tracks one optimistic message through its delivery attempts.
type outgoing struct {
	clientID   string
	attempt    int
	dispatched bool
	failed     bool
	expired    bool
	resolved   bool
	timers     []*time.Timer
	cancel     context.CancelFunc
}

func (o *outgoing) stop() {
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = nil
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Session is the reconciled view of one room. All methods are safe for
// concurrent use; transport callbacks and timers run on their own goroutines.
type Session struct {
	cfg        SessionConfig
	room       string
	transport  Transport
	cache      Cache
	opts       Options
	strategies []Strategy
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	messages []Message
	pending  map[string]*outgoing
	state    ConnState
	denied   bool
	banner   string
	closed   bool
	updates  chan struct{}
}

// NewSession wires a session to transport. Outgoing messages try the socket
// first and then each REST path in order. cache may be nil.
func NewSession(cfg SessionConfig, transport Transport, cache Cache, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:       cfg,
		room:      cfg.Room(),
		transport: transport,
		cache:     cache,
		opts:      opts,
		logger:    opts.Logger.With(slog.String("component", "session"), slog.String("room", cfg.Room())),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*outgoing),
		state:     transport.State(),
		updates:   make(chan struct{}, 1),
	}

	s.strategies = []Strategy{SocketStrategy(transport)}
	if cfg.BaseURL != "" {
		s.strategies = append(s.strategies, RESTStrategies(opts.HTTPClient, cfg.BaseURL, cfg.Token, cfg.RESTPaths...)...)
	}

	transport.SetHandlers(s.HandleEvent, s.HandleState)
	return s
}

// Open shows the cached snapshot, if still fresh, joins the room and asks for history.
func (s *Session) Open(ctx context.Context) error {
	if s.cache != nil {
		snap, ok, err := s.cache.Load(ctx, s.room)
		switch {
		case err != nil:
			s.logger.Warn("Failed to load cache", slog.Any("error", err))
		case ok && snap.Fresh(s.opts.Now(), s.opts.CacheMaxAge):
			s.restore(snap)
		}
	}

	if err := s.transport.Join(s.room); err != nil {
		return err
	}
	s.requestHistory()
	return nil
}

// restore installs a cached list. Temporaries that were still in flight when the
// snapshot was taken have nobody dispatching them any more; they become retryable.
func (s *Session) restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Message, len(snap.Messages))
	copy(list, snap.Messages)
	for i := range list {
		if list[i].Temporary && list[i].Status == StatusSending {
			list[i].Status = StatusError
		}
	}
	sortByTimestamp(list)
	s.messages = list
	s.notifyLocked()
}

func (s *Session) requestHistory() {
	if err := s.transport.Emit(EventGetMessages, s.room); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Warn("Failed to request history", slog.Any("error", err))
	}
}

// Send shows content immediately and dispatches it in the background. It is
// refused only after the broker denied this user access to the room.
func (s *Session) Send(content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Message{}, ErrSessionClosed
	}
	if s.denied {
		return Message{}, ErrComposeDisabled
	}

	tmp := NewTemporary(content, s.cfg.UserID, s.cfg.UserName, s.opts.Now())
	tmp.Room = s.room
	tmp.Type = s.cfg.EntityType
	tmp.PersistLocally = !s.opts.EphemeralSends
	switch s.cfg.EntityType {
	case "task":
		tmp.TaskID = s.cfg.EntityID
	default:
		tmp.ProjectID = s.cfg.EntityID
	}

	list, confirmed := AddTemporary(s.messages, tmp, s.opts.MatchWindow)
	s.messages = list
	if confirmed {
		tmp.Status = StatusSent
		s.notifyLocked()
		return tmp, nil
	}

	o := &outgoing{clientID: tmp.ClientID}
	s.pending[tmp.ClientID] = o
	s.dispatchLocked(o, tmp.Outgoing())
	s.saveLocked()
	s.notifyLocked()
	return tmp, nil
}

// Retry dispatches a failed message again. id is the temporary id shown in the list.
func (s *Session) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	i := s.indexLocked(id)
	if i < 0 || !s.messages[i].Temporary || s.messages[i].Status != StatusError {
		return ErrNotRetryable
	}
	msg := s.messages[i]

	o, ok := s.pending[msg.ClientID]
	if !ok {
		o = &outgoing{clientID: msg.ClientID}
		s.pending[msg.ClientID] = o
	}
	s.messages[i].Status = StatusSending
	s.dispatchLocked(o, msg.Outgoing())
	s.notifyLocked()
	return nil
}

// dispatchLocked starts a new attempt for o. Callbacks of earlier attempts are ignored.
func (s *Session) dispatchLocked(o *outgoing, out OutgoingMessage) {
	o.stop()
	o.attempt++
	o.dispatched, o.failed, o.expired, o.resolved = false, false, false, false
	attempt := o.attempt

	o.timers = []*time.Timer{
		time.AfterFunc(s.opts.SentLocallyAfter, func() { s.onSentLocallyTimer(o, attempt) }),
		time.AfterFunc(s.opts.ErrorAfter, func() { s.onErrorTimer(o, attempt) }),
	}

	ctx, cancel := context.WithCancel(s.ctx)
	o.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := Dispatch(ctx, out, s.strategies...)
		s.onDispatched(o, attempt, res, err)
	}()
}

func (s *Session) current(o *outgoing, attempt int) bool {
	return !s.closed && o.attempt == attempt && !o.resolved
}

// No echo yet, but nothing has failed either.
func (s *Session) onSentLocallyTimer(o *outgoing, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(o, attempt) || o.failed {
		return
	}
	if s.setStatusLocked(o.clientID, StatusSending, StatusSentLocally) {
		s.notifyLocked()
	}
}

func (s *Session) onErrorTimer(o *outgoing, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(o, attempt) {
		return
	}
	o.expired = true
	if o.dispatched {
		return
	}
	if s.setStatusLocked(o.clientID, "", StatusError) {
		s.notifyLocked()
	}
}

func (s *Session) onDispatched(o *outgoing, attempt int, res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(o, attempt) {
		return
	}

	if err != nil {
		o.failed = true
		s.logger.Warn("Dispatch failed", slog.String("clientId", o.clientID), slog.Any("error", err))
		if o.expired && s.setStatusLocked(o.clientID, "", StatusError) {
			s.notifyLocked()
		}
		return
	}

	o.dispatched = true
	s.logger.Debug("Dispatched", slog.String("clientId", o.clientID), slog.String("channel", res.Channel))

	if res.Message != nil {
		s.mergeLocked([]Message{s.completeLocked(o, *res.Message)}, false)
		return
	}
	// A late success still counts, even after the message was marked failed.
	if s.setStatusLocked(o.clientID, "", StatusSentLocally) {
		s.notifyLocked()
	}
}

// completeLocked fills the fields a terse channel reply leaves out from the
// temporary it answers, so the reply supersedes that temporary in place.
func (s *Session) completeLocked(o *outgoing, reply Message) Message {
	if reply.ClientID == "" {
		reply.ClientID = o.clientID
	}
	for _, m := range s.messages {
		if !m.Temporary || m.ClientID != o.clientID {
			continue
		}
		if reply.Content == "" {
			reply.Content = m.Content
		}
		if reply.Sender == "" {
			reply.Sender = m.Sender
		}
		if reply.SenderName == "" {
			reply.SenderName = m.SenderName
		}
		if reply.ProjectID == "" {
			reply.ProjectID = m.ProjectID
		}
		if reply.TaskID == "" {
			reply.TaskID = m.TaskID
		}
		if reply.Room == "" {
			reply.Room = m.Room
		}
		if reply.Type == "" {
			reply.Type = m.Type
		}
		if reply.Timestamp.IsZero() {
			reply.Timestamp = m.Timestamp
		}
		break
	}
	return reply
}

// setStatusLocked moves the temporary with clientID to status. When from is set
// the move only happens from that status.
func (s *Session) setStatusLocked(clientID string, from, to Status) bool {
	for i := range s.messages {
		m := &s.messages[i]
		if !m.Temporary || m.ClientID != clientID {
			continue
		}
		if (from != "" && m.Status != from) || m.Status == to {
			return false
		}
		m.Status = to
		return true
	}
	return false
}

func (s *Session) indexLocked(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// mergeLocked reconciles authoritative messages into the list and settles every
// outgoing message that got its authoritative copy.
func (s *Session) mergeLocked(incoming []Message, refetch bool) {
	if refetch {
		s.messages = ReconcileRefetch(s.messages, incoming, s.opts.Now(), s.opts.MatchWindow, s.opts.TemporaryTTL)
	} else {
		s.messages = Reconcile(s.messages, incoming, s.opts.MatchWindow)
	}

	confirmed := make(map[string]bool)
	present := make(map[string]bool)
	for _, m := range s.messages {
		if m.ClientID == "" {
			continue
		}
		present[m.ClientID] = true
		if !m.Temporary {
			confirmed[m.ClientID] = true
		}
	}
	for id, o := range s.pending {
		if confirmed[id] || !present[id] {
			o.resolved = true
			o.stop()
			delete(s.pending, id)
		}
	}

	s.saveLocked()
	s.notifyLocked()
}

func (s *Session) saveLocked() {
	if s.cache == nil {
		return
	}
	snap := NewSnapshot(s.messages, s.opts.CacheLimit, s.opts.Now())
	if err := s.cache.Save(s.ctx, s.room, snap); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to write cache", slog.Any("error", err))
	}
}

// HandleEvent applies one broker event to the session.
func (s *Session) HandleEvent(event string, payload []byte) {
	switch event {
	case EventMessages, EventProjectMessages:
		list, err := ParseAuthoritativeList(payload)
		if err != nil {
			s.logger.Warn("Malformed history", slog.String("event", event), slog.Any("error", err))
			return
		}
		list = s.forRoom(list)

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.mergeLocked(list, true)
		}

	case EventMessage, EventCommentAdded, EventActivityUpdated:
		msg, err := ParseAuthoritative(payload)
		if err != nil {
			s.logger.Debug("Ignoring event without message", slog.String("event", event), slog.Any("error", err))
			return
		}
		list := s.forRoom([]Message{msg})
		if len(list) == 0 {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.mergeLocked(list, false)
		}

	case EventError:
		text := gjson.GetBytes(payload, "message").String()
		if text == "" {
			text = "Unknown error"
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.banner = text
		if isAuthorizationDenial(text) {
			s.denied = true
		}
		s.notifyLocked()
	}
}

func (s *Session) forRoom(list []Message) []Message {
	out := list[:0]
	for _, m := range list {
		if m.Room == "" || m.Room == s.room {
			out = append(out, m)
		}
	}
	return out
}

// HandleState records the connection state. Every (re)connect refreshes history.
func (s *Session) HandleState(state ConnState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	closed := s.closed
	if changed && !closed {
		s.notifyLocked()
	}
	s.mu.Unlock()

	if changed && !closed && state == StateConnected {
		s.requestHistory()
	}
}

// Messages returns a copy of the visible list, oldest first.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Status returns the connection state last reported by the transport.
func (s *Session) Status() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanCompose reports whether a UI should accept input.
func (s *Session) CanCompose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.denied && s.state == StateConnected
}

func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Session) DismissBanner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner != "" {
		s.banner = ""
		s.notifyLocked()
	}
}

// Updates signals after every visible change. Signals coalesce; the channel is
// closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close cancels every timer and in-flight dispatch and leaves the room. No
// callback changes the session afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.saveLocked()
	s.closed = true
	for id, o := range s.pending {
		o.stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.cancel()
	err := s.transport.Leave(s.room)
	s.wg.Wait()
	close(s.updates)
	return err
}
