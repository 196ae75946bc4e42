package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/agleyzer/vidtrim/internal/navigation"
	"github.com/agleyzer/vidtrim/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// playerMessage is sent by the player as playback progresses.
type playerMessage struct {
	Type   string  `json:"type"`
	Time   float64 `json:"time"`
	Coarse bool    `json:"coarse,omitempty"`
}

// playheadMessage is the reply to every player message.
type playheadMessage struct {
	Type    string        `json:"type"`
	Time    float64       `json:"time"`
	Playing bool          `json:"playing"`
	Stop    bool          `json:"stop,omitempty"`
	Error   string        `json:"error,omitempty"`
	Session *session.View `json:"session,omitempty"`
}

// handleWS streams playhead corrections to a player. Each player message is
// answered with the position the player should be at.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", sess.ID(), "error", err)
		return
	}
	defer conn.Close()

	view := sess.View()
	if err := conn.WriteJSON(playheadMessage{Type: "session", Time: view.Position, Playing: view.Playing, Session: &view}); err != nil {
		return
	}

	for {
		var msg playerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "session", sess.ID(), "error", err)
			}
			return
		}

		reply, err := s.playerEvent(sess, msg)
		if err != nil {
			reply = playheadMessage{Type: "error", Error: err.Error()}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *Server) playerEvent(sess *session.Session, msg playerMessage) (playheadMessage, error) {
	reply := playheadMessage{Type: "position"}

	switch msg.Type {
	case "position":
		reply.Time, reply.Stop = sess.PositionChanged(msg.Time)
	case "play":
		reply.Time, _ = sess.Play()
	case "pause":
		sess.Pause()
		reply.Time = sess.Position()
	case "seek":
		reply.Time = sess.Seek(msg.Time)
	case "forward", "backward":
		amount := navigation.FineStep
		if msg.Coarse {
			amount = navigation.CoarseStep
		}
		if msg.Type == "forward" {
			reply.Time = sess.StepForward(amount)
		} else {
			reply.Time = sess.StepBackward(amount)
		}
	case "":
		return reply, errors.New("message type is required")
	default:
		return reply, fmt.Errorf("unknown message type %q", msg.Type)
	}

	reply.Playing = sess.Playing()
	return reply, nil
}
