// Package ws is the session transport: one websocket per actor, HELLO/ACT
// in, ACK/EVENT out. Authentication is external; a presented token is
// trusted as the actor identity.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"monworld.ai/internal/protocol"
	"monworld.ai/internal/sim/engine"
	"monworld.ai/internal/sim/presence"
	"monworld.ai/internal/sim/shapes"
)

type Server struct {
	engine   *engine.Engine
	presence *presence.Registry
	log      *log.Logger

	welcome func(actorID string) protocol.WelcomeMsg

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]chan []byte
}

func NewServer(eng *engine.Engine, reg *presence.Registry, welcome func(actorID string) protocol.WelcomeMsg, logger *log.Logger) *Server {
	return &Server{
		engine:   eng,
		presence: reg,
		log:      logger,
		welcome:  welcome,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]chan []byte{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actorID, out := s.handshake(conn)
		if actorID == "" {
			return
		}
		defer s.detach(actorID)

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				s.send(out, s.ack(act.ID, false, protocol.ErrProtoBadRequest, "unsupported protocol_version", nil))
				continue
			}
			s.send(out, s.handleAct(actorID, act))
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	actorID := ""
	if hello.Auth != nil {
		actorID = strings.TrimSpace(hello.Auth.Token)
	}
	if actorID == "" {
		actorID = "actor_" + uuid.NewString()
	}

	out := make(chan []byte, 32)
	s.mu.Lock()
	s.sessions[actorID] = out
	s.mu.Unlock()

	w := s.welcome(actorID)
	b, err := json.Marshal(w)
	if err != nil {
		return "", nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.detach(actorID)
		return "", nil
	}
	return actorID, out
}

func (s *Server) detach(actorID string) {
	s.mu.Lock()
	delete(s.sessions, actorID)
	s.mu.Unlock()
	s.presence.Remove(actorID)
}

func (s *Server) send(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// Slow consumer; drop rather than stall the reader loop.
	}
}

func (s *Server) handleAct(actorID string, act protocol.ActMsg) protocol.AckMsg {
	switch act.Action {
	case protocol.ActMove:
		s.presence.Set(actorID, shapes.Vec3{X: act.X, Z: act.Z})
		return s.ack(act.ID, true, "", "", nil)

	case protocol.ActBuildStart:
		res, err := s.engine.Start(actorID, act.Blueprint, act.Anchor[0], act.Anchor[1], act.Orientation)
		if err != nil {
			return s.errAck(act.ID, err)
		}
		return s.ack(act.ID, true, "", "", protocol.StartPayload{
			PlanID:           res.PlanID,
			TotalPieces:      res.TotalPieces,
			Phases:           res.Phases,
			EstimatedBatches: res.EstimatedBatches,
		})

	case protocol.ActBuildContinue:
		out, err := s.engine.Continue(actorID)
		if err != nil {
			return s.errAck(act.ID, err)
		}
		return s.ack(act.ID, true, "", "", progressPayload(out.Progress, !out.Done))

	case protocol.ActBuildCancel:
		if err := s.engine.Cancel(actorID); err != nil {
			return s.errAck(act.ID, err)
		}
		return s.ack(act.ID, true, "", "", nil)

	case protocol.ActBuildStatus:
		p := s.engine.Status(actorID)
		return s.ack(act.ID, true, "", "", progressPayload(p, p.Active))

	default:
		return s.ack(act.ID, false, protocol.ErrProtoBadRequest, "unknown action", nil)
	}
}

func progressPayload(p engine.Progress, active bool) protocol.ProgressPayload {
	return protocol.ProgressPayload{
		Active:    active,
		Blueprint: p.Blueprint,
		Placed:    p.Placed,
		Total:     p.Total,
		Phase:     p.Phase,
		NextBatch: p.NextBatch,
		Failed:    p.Failed,
		Status:    p.Status,
	}
}

func (s *Server) ack(ackFor string, accepted bool, code, message string, result any) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Accepted:        accepted,
		Code:            code,
		Message:         message,
		Result:          result,
	}
}

func (s *Server) errAck(ackFor string, err error) protocol.AckMsg {
	if de, ok := engine.AsDomain(err); ok {
		a := s.ack(ackFor, false, de.Code, de.Message, nil)
		if len(de.Detail) > 0 {
			a.Result = de.Detail
		}
		return a
	}
	if s.log != nil {
		s.log.Printf("storage failure: %v", err)
	}
	return s.ack(ackFor, false, protocol.ErrStorage, "transient storage failure, retry", nil)
}

// BuildProgress implements engine.EventSink: progress records are broadcast
// to every connected session as EVENT messages.
func (s *Server) BuildProgress(rec engine.ProgressRecord) {
	ev := protocol.Event{
		"type":             protocol.TypeEvent,
		"protocol_version": protocol.Version,
		"event":            "BUILD_PROGRESS",
		"actor_id":         rec.ActorID,
		"plan_id":          rec.PlanID,
		"blueprint":        rec.Blueprint,
		"status":           rec.Status,
		"placed":           rec.Placed,
		"total":            rec.Total,
		"failed":           rec.Failed,
	}
	if rec.Phase != "" {
		ev["phase"] = rec.Phase
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.sessions {
		select {
		case out <- b:
		default:
		}
	}
}

func (s *Server) PiecePlaced(engine.PlacementRecord) {}
