package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pairchat/models"
)

// Client -> server events.
const (
	EventUserConnected = "userConnected"
	EventNewMessage    = "newMessage"
	EventStartTyping   = "startTyping"
	EventStopTyping    = "stopTyping"
	EventPing          = "ping"
	EventBye           = "bye"
)

// Server -> client events.
const (
	EventMessageReceived   = "messageReceived"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
)

// ValidationError reports a malformed or incomplete inbound event.
type ValidationError struct {
	Event  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	name := e.Event
	if name == "" {
		name = "event"
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s %s", name, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", name, e.Reason)
}

// Inbound events, as produced by DecodeEnvelope and Packet.Decode.
type (
	UserConnected struct {
		UserID int64
	}
	NewMessage struct {
		Draft models.Draft
	}
	StartTyping struct {
		UserID     int64
		ReceiverID int64
	}
	StopTyping struct {
		UserID     int64
		ReceiverID int64
	}
	Ping struct{}
	Bye  struct{}
)

// Envelope is the frame format of the WebSocket transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// flexID accepts both 7 and "7"; browser clients send either.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer id: %s", string(b))
	}
	*f = flexID(v)
	return nil
}

// DecodeEnvelope parses one WebSocket frame into an inbound event.
func DecodeEnvelope(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Reason: "malformed frame"}
	}

	switch env.Event {
	case EventUserConnected:
		var id flexID
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &id); err != nil {
				return nil, &ValidationError{Event: env.Event, Field: "userId", Reason: "must be an integer"}
			}
		}
		if err := requireID(env.Event, "userId", int64(id)); err != nil {
			return nil, err
		}
		return UserConnected{UserID: int64(id)}, nil

	case EventNewMessage:
		var p struct {
			SenderID   flexID `json:"senderId"`
			ReceiverID flexID `json:"receiverId"`
			Content    string `json:"content"`
			Attachment string `json:"attachment"`
		}
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		d := models.Draft{
			SenderID:   int64(p.SenderID),
			ReceiverID: int64(p.ReceiverID),
			Content:    p.Content,
			Attachment: p.Attachment,
		}
		if err := ValidateDraft(d); err != nil {
			return nil, err
		}
		return NewMessage{Draft: d}, nil

	case EventStartTyping, EventStopTyping:
		var p struct {
			UserID     flexID `json:"userId"`
			ReceiverID flexID `json:"receiverId"`
		}
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		return typingEvent(env.Event, int64(p.UserID), int64(p.ReceiverID))

	case EventPing:
		return Ping{}, nil

	case "":
		return nil, &ValidationError{Field: "event", Reason: "is required"}

	default:
		return nil, &ValidationError{Event: env.Event, Reason: "unknown event"}
	}
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &ValidationError{Event: env.Event, Field: "data", Reason: "is required"}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &ValidationError{Event: env.Event, Reason: "malformed payload: " + err.Error()}
	}
	return nil
}

func requireID(event, field string, id int64) error {
	if id <= 0 {
		return &ValidationError{Event: event, Field: field, Reason: "is required"}
	}
	return nil
}

// ValidateDraft checks the fields every newMessage must carry.
func ValidateDraft(d models.Draft) error {
	if err := requireID(EventNewMessage, "senderId", d.SenderID); err != nil {
		return err
	}
	if err := requireID(EventNewMessage, "receiverId", d.ReceiverID); err != nil {
		return err
	}
	if d.Content == "" && d.Attachment == "" {
		return &ValidationError{Event: EventNewMessage, Field: "content", Reason: "is required"}
	}
	return nil
}

func typingEvent(event string, userID, receiverID int64) (any, error) {
	if err := requireID(event, "userId", userID); err != nil {
		return nil, err
	}
	if err := requireID(event, "receiverId", receiverID); err != nil {
		return nil, err
	}
	if event == EventStartTyping {
		return StartTyping{UserID: userID, ReceiverID: receiverID}, nil
	}
	return StopTyping{UserID: userID, ReceiverID: receiverID}, nil
}

// Decode converts a line packet into an inbound event.
func (p *Packet) Decode() (any, error) {
	switch p.Type {
	case EventUserConnected:
		id, err := p.id(0, "userId")
		if err != nil {
			return nil, err
		}
		return UserConnected{UserID: id}, nil

	case EventNewMessage:
		sender, err := p.id(0, "senderId")
		if err != nil {
			return nil, err
		}
		receiver, err := p.id(1, "receiverId")
		if err != nil {
			return nil, err
		}
		d := models.Draft{SenderID: sender, ReceiverID: receiver}
		if len(p.Fields) > 2 {
			d.Content = p.Fields[2]
		}
		if len(p.Fields) > 3 {
			d.Attachment = p.Fields[3]
		}
		if err := ValidateDraft(d); err != nil {
			return nil, err
		}
		return NewMessage{Draft: d}, nil

	case EventStartTyping, EventStopTyping:
		user, err := p.id(0, "userId")
		if err != nil {
			return nil, err
		}
		receiver, err := p.id(1, "receiverId")
		if err != nil {
			return nil, err
		}
		return typingEvent(p.Type, user, receiver)

	case EventPing:
		return Ping{}, nil

	case EventBye:
		return Bye{}, nil

	default:
		return nil, &ValidationError{Event: p.Type, Reason: "unknown event"}
	}
}

func (p *Packet) id(i int, field string) (int64, error) {
	if i >= len(p.Fields) || p.Fields[i] == "" {
		return 0, &ValidationError{Event: p.Type, Field: field, Reason: "is required"}
	}
	v, err := strconv.ParseInt(p.Fields[i], 10, 64)
	if err != nil {
		return 0, &ValidationError{Event: p.Type, Field: field, Reason: "must be an integer"}
	}
	if err := requireID(p.Type, field, v); err != nil {
		return 0, err
	}
	return v, nil
}

// Outbound is a server -> client notification, encodable for either transport.
type Outbound struct {
	Event   string
	UserID  int64
	Message models.Message
}

func MessageReceived(m models.Message) Outbound {
	return Outbound{Event: EventMessageReceived, Message: m}
}

func UserTyping(userID int64) Outbound {
	return Outbound{Event: EventUserTyping, UserID: userID}
}

func UserStoppedTyping(userID int64) Outbound {
	return Outbound{Event: EventUserStoppedTyping, UserID: userID}
}

func (o Outbound) MarshalJSON() ([]byte, error) {
	var data any = o.UserID
	if o.Event == EventMessageReceived {
		data = o.Message
	}
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{o.Event, data})
}

// Line renders the notification as a line transport packet.
func (o Outbound) Line() string {
	if o.Event != EventMessageReceived {
		return FormatPacket(o.Event, strconv.FormatInt(o.UserID, 10))
	}

	m := o.Message
	fields := []string{
		strconv.FormatInt(m.ID, 10),
		strconv.FormatInt(m.SenderID, 10),
		strconv.FormatInt(m.ReceiverID, 10),
		m.Content,
		strconv.FormatInt(m.Timestamp, 10),
	}
	if m.Attachment != "" {
		fields = append(fields, m.Attachment)
	}
	return FormatPacket(o.Event, fields...)
}
