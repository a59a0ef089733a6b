package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/auth"
	"trivia-room-service/internal/domain"
)

type WSHandler struct {
	service  *app.RoomService
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.RoomService, verifier auth.Verifier) *WSHandler {
	return &WSHandler{
		service:  service,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type choicePayload struct {
	OptionIndex int `json:"optionIndex"`
}

type textPayload struct {
	Text string `json:"text"`
}

type joinedPayload struct {
	You  string           `json:"you"`
	Room domain.RoomState `json:"room"`
}

type answerAccepted struct {
	TimeRemaining float64 `json:"timeRemaining"` // seconds
}

type answerRejected struct {
	Reason string `json:"reason"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS verifies the caller's credential, upgrades to a websocket, joins
// the room, and wires the connection into the room use cases. Verification
// failure refuses the connection before any session state is touched.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "missing roomId", http.StatusBadRequest)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("identity verification failed")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	displayName := r.URL.Query().Get("name")
	if displayName == "" {
		displayName = identity.Username
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	joined, err := h.service.Join(r.Context(), roomID, identity.ID, displayName)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.service.Disconnect(r.Context(), roomID, identity.ID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(update.Type), Payload: update.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{You: identity.ID, Room: joined}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "startRound":
			if err := h.service.StartRound(r.Context(), roomID, identity.ID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "submitChoice":
			var payload choicePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submitChoice payload"}}
				continue
			}
			record, err := h.service.SubmitChoice(r.Context(), roomID, identity.ID, payload.OptionIndex)
			h.ackSubmission(send, record, err)
		case "submitText":
			var payload textPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submitText payload"}}
				continue
			}
			record, err := h.service.SubmitText(r.Context(), roomID, identity.ID, payload.Text)
			h.ackSubmission(send, record, err)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ackSubmission reports acceptance or the rejection reason to the submitting
// participant only; other participants' views are never disrupted.
func (h *WSHandler) ackSubmission(send chan<- outboundMessage[any], record domain.AnswerRecord, err error) {
	if err == nil {
		send <- outboundMessage[any]{Type: "answerAccepted", Payload: answerAccepted{TimeRemaining: record.TimeRemaining.Seconds()}}
		return
	}
	switch {
	case errors.Is(err, domain.ErrNoActiveRound),
		errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrRoundResolving):
		send <- outboundMessage[any]{Type: "answerRejected", Payload: answerRejected{Reason: err.Error()}}
	default:
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	// Browser websocket clients cannot set headers; allow a query fallback.
	return r.URL.Query().Get("token")
}
