package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/world"
	"worldsim.ai/schemas"
)

// World is the part of the simulation a session talks to.
type World interface {
	Inbox() chan<- world.OpEnvelope
	Join() chan<- world.JoinRequest
	Leave() chan<- string
}

const (
	defaultQueue = 64
	maxQueue     = 256
)

type Server struct {
	world World
	log   logrus.FieldLogger

	upgrader websocket.Upgrader
	hello    *jsonschema.Schema
	op       *jsonschema.Schema
}

func NewServer(w World, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		world: w,
		log:   logger.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		hello: schemas.MustCompile("hello.schema.json"),
		op:    schemas.MustCompile("op.schema.json"),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, entityID, out := s.handshake(conn)
		if entityID == "" {
			return
		}
		log := s.log.WithFields(logrus.Fields{"session": sessionID, "entity": entityID})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeOp {
				s.reject(out, protocol.ErrProtoBadRequest, "expected OP message")
				continue
			}
			if err := validate(s.op, msg); err != nil {
				s.reject(out, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			var m protocol.OpMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				s.reject(out, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			if m.ProtocolVersion != protocol.Version {
				s.reject(out, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			select {
			case s.world.Inbox() <- world.OpEnvelope{EntityID: entityID, Op: m.Op}:
			default:
				s.reject(out, protocol.ErrWorldBusy, "world inbox full")
			}
		}

		// Cleanup.
		s.world.Leave() <- entityID
		log.Debug("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, entityID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", "", nil
	}
	if err := validate(s.hello, msg); err != nil {
		closePolicy(conn, "invalid HELLO")
		return "", "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = defaultQueue
	}
	if maxQ > maxQueue {
		maxQ = maxQueue
	}
	out = make(chan []byte, maxQ)

	sessionID = uuid.NewString()
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		SessionID:  sessionID,
		Name:       hello.ClientName,
		TileEvents: hello.Capabilities.TileEvents,
		Out:        out,
		Resp:       respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.EntityID
		return "", "", nil
	}
	return sessionID, resp.Welcome.EntityID, out
}

// validate checks a raw message against a compiled schema.
func validate(s *jsonschema.Schema, msg []byte) error {
	doc, err := schemas.Decode(msg)
	if err != nil {
		return err
	}
	return s.Validate(doc)
}

func (s *Server) reject(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
