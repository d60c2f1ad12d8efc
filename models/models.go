package models

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Contact struct {
	UserID    int64 `json:"userId"`
	ContactID int64 `json:"contactId"`
}

// Message is immutable once stamped by the router.
type Message struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"` // epoch milliseconds
	Attachment string `json:"attachment,omitempty"`
}

// Draft is a message as submitted by a client, before id and timestamp are assigned.
type Draft struct {
	SenderID   int64
	ReceiverID int64
	Content    string
	Attachment string
}

// Stamp turns the draft into a persisted message.
func (d Draft) Stamp(id, timestamp int64) Message {
	return Message{
		ID:         id,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Timestamp:  timestamp,
		Attachment: d.Attachment,
	}
}

type TypingRecord struct {
	PeerID int64 `json:"peerId"`
	Since  int64 `json:"since"` // epoch milliseconds
}

// Snapshot is the whole persisted document.
type Snapshot struct {
	Users    []User    `json:"users"`
	Contacts []Contact `json:"contacts"`
	Messages []Message `json:"messages"`
}

// Normalize replaces nil collections with empty ones so the document
// always serialises arrays, never null.
func (s *Snapshot) Normalize() {
	if s.Users == nil {
		s.Users = []User{}
	}
	if s.Contacts == nil {
		s.Contacts = []Contact{}
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Users:    append([]User{}, s.Users...),
		Contacts: append([]Contact{}, s.Contacts...),
		Messages: append([]Message{}, s.Messages...),
	}
	return out
}

// Seed returns the document a fresh store starts with.
func Seed() *Snapshot {
	return &Snapshot{
		Users: []User{
			{ID: 1, Name: "test", Email: "test", Password: "test"},
			{ID: 2, Name: "testt", Email: "testt", Password: "testt"},
		},
		Contacts: []Contact{
			{UserID: 1, ContactID: 2},
			{UserID: 2, ContactID: 1},
		},
		Messages: []Message{},
	}
}
