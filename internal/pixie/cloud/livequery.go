package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Classes the live query subscribes to.
const (
	ClassLiveGroup = "LiveGroup"
	ClassHome      = "Home"
	ClassPresence  = "HP"
)

// errSessionRejected is returned by a connection whose handshake was refused
// because the session token expired.
var errSessionRejected = errors.New("live query rejected session token")

// Object is the class object carried by an update message.
type Object map[string]any

// ClassName returns the object's class name.
func (o Object) ClassName() string {
	name, _ := o["className"].(string)
	return name
}

// ObjectID returns the object's id.
func (o Object) ObjectID() string {
	id, _ := o["objectId"].(string)
	return id
}

// UpdateFunc handles an update for a subscribed class.
type UpdateFunc func(Object)

// ConnectionFunc is notified when the live channel connects or drops.
type ConnectionFunc func(connected bool)

type subscription struct {
	requestID int
	className string
	where     map[string]any
}

type outbound struct {
	Op            string         `json:"op"`
	ApplicationID string         `json:"applicationId,omitempty"`
	ClientKey     string         `json:"clientKey,omitempty"`
	SessionToken  string         `json:"sessionToken,omitempty"`
	RequestID     int            `json:"requestId,omitempty"`
	Query         *outboundQuery `json:"query,omitempty"`
}

type outboundQuery struct {
	ClassName string         `json:"className"`
	Where     map[string]any `json:"where"`
}

// message is one inbound live query message.
type message struct {
	Op        string `json:"op"`
	ClientID  string `json:"clientId"`
	RequestID int    `json:"requestId"`
	Object    Object `json:"object"`
	Code      int    `json:"code"`
	Error     string `json:"error"`
}

// LiveQuery maintains the push-update channel with automatic reconnection.
type LiveQuery struct {
	client *Client
	config LiveQueryConfig
	dialer *websocket.Dialer

	mu          sync.RWMutex
	listeners   map[string][]UpdateFunc
	connFuncs   []ConnectionFunc
	clientID    string
	unhealthy   bool
	failures    int
	closing     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}
	startOnce   sync.Once
	closeOnce   sync.Once
	connections atomic.Int64
}

// NewLiveQuery creates a live query bound to the client's session.
func NewLiveQuery(client *Client, config LiveQueryConfig) *LiveQuery {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = config.MinBackoff
	}
	return &LiveQuery{
		client:    client,
		config:    config,
		dialer:    &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		listeners: make(map[string][]UpdateFunc),
	}
}

// OnUpdate appends a listener for updates of className. Listeners run in
// registration order on the dispatch goroutine.
func (l *LiveQuery) OnUpdate(className string, fn UpdateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners[className] = append(l.listeners[className], fn)
}

// OnConnection registers a connection state listener.
func (l *LiveQuery) OnConnection(fn ConnectionFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connFuncs = append(l.connFuncs, fn)
}

// ClientID returns the id assigned by the server on the current connection.
func (l *LiveQuery) ClientID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clientID
}

// Healthy reports false once reconnection has failed UnhealthyAfter times in
// a row, until the next successful connection.
func (l *LiveQuery) Healthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.unhealthy
}

// Connections returns the number of successful handshakes so far.
func (l *LiveQuery) Connections() int64 {
	return l.connections.Load()
}

// Start runs the live query in the background until Close or ctx is done.
func (l *LiveQuery) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		l.cancel = cancel
		l.done = make(chan struct{})
		l.mu.Unlock()

		go func() {
			defer close(l.done)
			l.Run(ctx)
		}()
	})
}

// Close stops the live query and waits for it to exit. No listener fires
// after Close returns. Safe to call multiple times.
func (l *LiveQuery) Close() {
	l.closeOnce.Do(func() {
		l.closing.Store(true)

		l.mu.RLock()
		cancel, done := l.cancel, l.done
		l.mu.RUnlock()

		if cancel != nil {
			cancel()
			<-done
		}
		l.client.setState(StateClosed)
		log.Info().Msg("Live query closed")
	})
}

// Run connects and keeps the channel alive until ctx is cancelled.
func (l *LiveQuery) Run(ctx context.Context) {
	currentBackoff := l.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		established, err := l.connect(ctx)
		if ctx.Err() != nil || l.closing.Load() {
			return
		}

		if established {
			l.resetFailures()
			currentBackoff = l.config.MinBackoff
		} else {
			l.recordFailure()
		}

		if errors.Is(err, errSessionRejected) {
			if lerr := l.client.Login(ctx); lerr != nil {
				log.Warn().Err(lerr).Msg("Live query: re-login failed")
			}
		}

		l.client.setState(StateReconnecting)
		backoff := currentBackoff
		if !l.Healthy() {
			backoff = l.config.MaxBackoff
		}

		l.mu.RLock()
		retry := l.failures
		l.mu.RUnlock()

		log.Warn().
			Err(err).
			Dur("backoff", backoff).
			Int("retry", retry).
			Msg("Live query disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		nextBackoff := time.Duration(float64(currentBackoff) * l.config.Multiplier)
		if nextBackoff > l.config.MaxBackoff {
			nextBackoff = l.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

func (l *LiveQuery) resetFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unhealthy {
		log.Info().Msg("Live query healthy again")
	}
	l.failures = 0
	l.unhealthy = false
}

func (l *LiveQuery) recordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.config.UnhealthyAfter > 0 && l.failures >= l.config.UnhealthyAfter && !l.unhealthy {
		l.unhealthy = true
		log.Error().
			Int("failures", l.failures).
			Msg("Live query unhealthy: cannot reconnect, retrying at max backoff")
	}
}

// subscriptions resolves the ids used by the three class subscriptions.
func (l *LiveQuery) subscriptions(ctx context.Context) ([]subscription, error) {
	liveGroupID, err := l.client.LiveGroupID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve live group: %w", err)
	}
	homeID, err := l.client.CurrentHomeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	userID, err := l.client.UserObjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	return []subscription{
		{requestID: 1, className: ClassLiveGroup, where: map[string]any{"objectId": liveGroupID}},
		{requestID: 2, className: ClassHome, where: map[string]any{"objectId": homeID}},
		{requestID: 3, className: ClassPresence, where: map[string]any{"homeId": homeID, "userId": userID}},
	}, nil
}

// connect runs a single connection. It reports whether the handshake
// completed before the connection ended.
func (l *LiveQuery) connect(ctx context.Context) (bool, error) {
	if l.client.State() != StateReconnecting {
		l.client.setState(StateConnecting)
	}

	subs, err := l.subscriptions(ctx)
	if err != nil {
		return false, err
	}

	conn, _, err := l.dialer.DialContext(ctx, l.client.config.LiveURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Debug().Str("url", l.client.config.LiveURL).Msg("Live query socket opened")

	if err := conn.WriteJSON(outbound{
		Op:            "connect",
		ApplicationID: l.client.config.AppID,
		SessionToken:  l.client.sessionToken(),
		ClientKey:     l.client.config.ClientKey,
	}); err != nil {
		return false, fmt.Errorf("send connect: %w", err)
	}

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	inbound := make(chan message, 64)
	readErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(inbound)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Str("data", string(data)).Msg("Failed to parse live query message")
				continue
			}
			select {
			case inbound <- msg:
			case <-connCtx.Done():
				return
			}
		}
	}()

	s := &session{lq: l, conn: conn, subs: subs}
	err = s.loop(ctx, inbound, readErr)

	// Unblock the reader and wait for it before returning.
	connCancel()
	conn.Close()
	wg.Wait()

	if s.established {
		l.notifyConnection(false)
	}
	return s.established, err
}

func (l *LiveQuery) notifyConnection(connected bool) {
	l.mu.RLock()
	fns := append([]ConnectionFunc(nil), l.connFuncs...)
	l.mu.RUnlock()
	for _, fn := range fns {
		if l.closing.Load() {
			return
		}
		fn(connected)
	}
}

// session is the dispatch side of one connection. Only the dispatch
// goroutine writes to conn.
type session struct {
	lq          *LiveQuery
	conn        *websocket.Conn
	subs        []subscription
	clientID    string
	established bool
}

func (s *session) loop(ctx context.Context, inbound <-chan message, readErr <-chan error) error {
	var ping <-chan time.Time
	if s.lq.config.PingInterval > 0 {
		ticker := time.NewTicker(s.lq.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case msg, ok := <-inbound:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return errors.New("live query connection closed")
				}
			}
			if err := s.handle(msg); err != nil {
				return err
			}
		}
	}
}

func (s *session) handle(msg message) error {
	switch msg.Op {
	case "connected":
		if msg.ClientID == "" {
			log.Warn().Msg("Live query: connected without client id")
			return nil
		}
		s.clientID = msg.ClientID
		s.lq.mu.Lock()
		s.lq.clientID = msg.ClientID
		s.lq.mu.Unlock()

		for _, sub := range s.subs {
			if err := s.conn.WriteJSON(outbound{
				Op:           "subscribe",
				RequestID:    sub.requestID,
				SessionToken: s.lq.client.sessionToken(),
				Query:        &outboundQuery{ClassName: sub.className, Where: sub.where},
			}); err != nil {
				return fmt.Errorf("subscribe %s: %w", sub.className, err)
			}
		}

		s.established = true
		s.lq.connections.Add(1)
		s.lq.client.setState(StateConnected)
		log.Info().Str("client_id", msg.ClientID).Msg("Connected to Pixie live query")
		s.lq.notifyConnection(true)

	case "subscribed":
		if msg.ClientID == s.clientID {
			log.Debug().Int("request_id", msg.RequestID).Msg("Live query subscribed")
		}

	case "update":
		if msg.Object == nil || s.clientID == "" || msg.ClientID != s.clientID {
			return nil
		}
		className := msg.Object.ClassName()
		if className == "" {
			return nil
		}
		s.dispatch(className, msg.Object)

	case "error":
		log.Warn().Int("code", msg.Code).Str("error", msg.Error).Msg("Live query error")
		if msg.Code == errCodeInvalidSession {
			return errSessionRejected
		}

	default:
		log.Debug().Str("op", msg.Op).Msg("Live query: dropping unknown message")
	}
	return nil
}

func (s *session) dispatch(className string, obj Object) {
	s.lq.mu.RLock()
	fns := append([]UpdateFunc(nil), s.lq.listeners[className]...)
	s.lq.mu.RUnlock()

	log.Trace().Str("class", className).Int("listeners", len(fns)).Msg("Live query update")

	for _, fn := range fns {
		if s.lq.closing.Load() {
			return
		}
		fn(obj)
	}
}
