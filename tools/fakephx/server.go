package main

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/AceFire6/phx-events/phx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventHeartbeat = "heartbeat"
	topicPhoenix   = "phoenix"
)

// server is a fake Phoenix socket endpoint. It acknowledges joins, broadcasts pushes to every
// session joined to the topic and exposes admin endpoints that inject server-side events.
type server struct {
	upgrader websocket.Upgrader
	codec    phx.JSONCodec
	logger   *zap.Logger
	token    string
	rejected map[phx.Topic]bool
	echo     bool

	lock     sync.Mutex
	sessions map[*session]struct{}
}

type session struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	lock      sync.Mutex
	joined    map[phx.Topic]string
}

func newServer(logger *zap.Logger, token string, rejected []string, echo bool) *server {
	rejectedTopics := make(map[phx.Topic]bool, len(rejected))
	for _, topic := range rejected {
		rejectedTopics[phx.Topic(topic)] = true
	}
	return &server{
		logger:   logger,
		token:    token,
		rejected: rejectedTopics,
		echo:     echo,
		sessions: make(map[*session]struct{}),
	}
}

func (srv *server) routes(socketPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(socketPath, srv.serveSocket)
	mux.HandleFunc("POST /admin/push", srv.servePush)
	mux.HandleFunc("POST /admin/close", srv.serveClose)
	return mux
}

func (srv *server) serveSocket(writer http.ResponseWriter, request *http.Request) {
	if srv.token != "" && request.URL.Query().Get("token") != srv.token {
		srv.logger.Warn("rejecting socket with invalid token", zap.String("remote", request.RemoteAddr))
		http.Error(writer, "invalid token", http.StatusForbidden)
		return
	}

	conn, err := srv.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		srv.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	current := &session{conn: conn, joined: make(map[phx.Topic]string)}
	srv.lock.Lock()
	srv.sessions[current] = struct{}{}
	srv.lock.Unlock()
	srv.logger.Info("socket connected", zap.String("remote", request.RemoteAddr))

	defer func() {
		srv.lock.Lock()
		delete(srv.sessions, current)
		srv.lock.Unlock()
		_ = conn.Close()
		srv.logger.Info("socket disconnected", zap.String("remote", request.RemoteAddr))
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		message, err := srv.codec.Decode(frame)
		if err != nil {
			srv.logger.Warn("dropping malformed frame", zap.ByteString("frame", frame), zap.Error(err))
			continue
		}
		srv.handleMessage(current, message)
	}
}

func (srv *server) handleMessage(current *session, message phx.ChannelMessage) {
	ref, _ := message.Ref()
	topic := message.Topic()
	logger := srv.logger.With(zap.String("topic", string(topic)), zap.String("event", string(message.Event())), zap.String("ref", ref))

	switch {
	case message.Event() == phx.EventJoin:
		if srv.rejected[topic] {
			logger.Info("rejecting join")
			srv.reply(current, message, phx.StatusError, phx.Payload{"reason": "unmatched topic"})
			return
		}
		current.lock.Lock()
		current.joined[topic] = ref
		current.lock.Unlock()
		logger.Info("join accepted")
		srv.reply(current, message, phx.StatusOK, phx.Payload{})

	case message.Event() == phx.EventLeave:
		current.lock.Lock()
		delete(current.joined, topic)
		current.lock.Unlock()
		srv.reply(current, message, phx.StatusOK, phx.Payload{})

	case topic == topicPhoenix && message.Event() == eventHeartbeat:
		srv.reply(current, message, phx.StatusOK, phx.Payload{})

	default:
		if !current.isJoined(topic) {
			logger.Info("push on unjoined topic")
			srv.reply(current, message, phx.StatusError, phx.Payload{"reason": "unmatched topic"})
			return
		}
		srv.reply(current, message, phx.StatusOK, phx.Payload{})
		srv.broadcast(phx.NewMessage(message.Event(), topic, message.Payload()), current)
	}
}

func (current *session) isJoined(topic phx.Topic) bool {
	current.lock.Lock()
	defer current.lock.Unlock()
	_, joined := current.joined[topic]
	return joined
}

func (current *session) send(frame []byte) error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()
	return current.conn.WriteMessage(websocket.TextMessage, frame)
}

func (srv *server) reply(current *session, request phx.ChannelMessage, status string, response phx.Payload) {
	reply := phx.NewMessage(phx.EventReply, request.Topic(), phx.Payload{"status": status, "response": response})
	if ref, ok := request.Ref(); ok {
		reply = reply.WithRef(ref)
	}
	srv.write(current, reply)
}

func (srv *server) write(current *session, message phx.ChannelMessage) {
	frame, err := srv.codec.Encode(message)
	if err != nil {
		srv.logger.Error("encode failed", zap.Stringer("message", message), zap.Error(err))
		return
	}
	if err := current.send(frame); err != nil {
		srv.logger.Debug("write failed", zap.Error(err))
	}
}

// broadcast writes message to every session joined to its topic. sender is skipped unless
// echo is enabled.
func (srv *server) broadcast(message phx.ChannelMessage, sender *session) int {
	srv.lock.Lock()
	targets := make([]*session, 0, len(srv.sessions))
	for candidate := range srv.sessions {
		if candidate == sender && !srv.echo {
			continue
		}
		if candidate.isJoined(message.Topic()) {
			targets = append(targets, candidate)
		}
	}
	srv.lock.Unlock()

	for _, target := range targets {
		srv.write(target, message)
	}
	return len(targets)
}

func (srv *server) servePush(writer http.ResponseWriter, request *http.Request) {
	topic := phx.Topic(request.URL.Query().Get("topic"))
	event := phx.Event(request.URL.Query().Get("event"))
	if topic == "" || event == "" {
		http.Error(writer, "topic and event are required", http.StatusBadRequest)
		return
	}

	payload := phx.Payload{}
	body, err := io.ReadAll(io.LimitReader(request.Body, 1<<20))
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		decoded, err := srv.codec.Decode([]byte(`{"topic":"","event":"","payload":` + string(body) + `}`))
		if err != nil {
			http.Error(writer, "payload must be a JSON object", http.StatusBadRequest)
			return
		}
		payload = decoded.Payload()
	}

	delivered := srv.broadcast(phx.NewMessage(event, topic, payload), nil)
	srv.logger.Info("admin push", zap.String("topic", string(topic)), zap.String("event", string(event)), zap.Int("delivered", delivered))
	writer.WriteHeader(http.StatusAccepted)
}

// serveClose sends phx_close (or phx_error with ?error=1) on a topic.
func (srv *server) serveClose(writer http.ResponseWriter, request *http.Request) {
	topic := phx.Topic(request.URL.Query().Get("topic"))
	if topic == "" {
		http.Error(writer, "topic is required", http.StatusBadRequest)
		return
	}
	event := phx.EventClose
	if request.URL.Query().Get("error") != "" {
		event = phx.EventError
	}

	delivered := srv.broadcast(phx.NewMessage(event, topic, nil), nil)
	srv.logger.Info("admin close", zap.String("topic", string(topic)), zap.String("event", string(event)), zap.Int("delivered", delivered))
	writer.WriteHeader(http.StatusAccepted)
}

// closeAll sends a close frame to every session.
func (srv *server) closeAll(ctx context.Context) {
	srv.lock.Lock()
	sessions := make([]*session, 0, len(srv.sessions))
	for current := range srv.sessions {
		sessions = append(sessions, current)
	}
	srv.lock.Unlock()

	deadline, ok := ctx.Deadline()
	for _, current := range sessions {
		if !ok {
			_ = current.conn.Close()
			continue
		}
		_ = current.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), deadline)
	}
}
