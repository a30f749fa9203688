package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/users"
)

const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeFile   = "file"
	TypeSystem = "system"
)

var validTypes = map[string]bool{
	TypeText:   true,
	TypeImage:  true,
	TypeFile:   true,
	TypeSystem: true,
}

// Metadata tracks edits and soft deletes.
type Metadata struct {
	Edited    bool       `json:"edited,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type Message struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	SenderID      uuid.UUID  `db:"sender_id" json:"sender_id"`
	ReceiverID    uuid.UUID  `db:"receiver_id" json:"receiver_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Type          string     `db:"type" json:"type"`
	Content       string     `db:"content" json:"content"`
	FileURL       *string    `db:"file_url" json:"file_url,omitempty"`
	FileName      *string    `db:"file_name" json:"file_name,omitempty"`
	IsRead        bool       `db:"is_read" json:"is_read"`
	ReadAt        *time.Time `db:"read_at" json:"read_at,omitempty"`
	Metadata      Metadata   `db:"metadata" json:"metadata"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Sender   *users.Summary `db:"-" json:"sender,omitempty"`
	Receiver *users.Summary `db:"-" json:"receiver,omitempty"`
}

// Participant reports whether id sent or received the message.
func (m *Message) Participant(id uuid.UUID) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// Counterpart returns the other side of the message as seen by id.
func (m *Message) Counterpart(id uuid.UUID) uuid.UUID {
	if m.SenderID == id {
		return m.ReceiverID
	}
	return m.SenderID
}

type SendRequest struct {
	ReceiverID    uuid.UUID  `json:"receiver_id"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Type          string     `json:"type"`
	Content       string     `json:"content"`
	FileURL       *string    `json:"file_url"`
	FileName      *string    `json:"file_name"`
}

type EditRequest struct {
	Content string `json:"content"`
}

// Conversation is one entry of a user's inbox: the latest message
// exchanged with a partner and how many of the partner's messages are
// still unread.
type Conversation struct {
	PartnerID   uuid.UUID      `json:"partner_id"`
	Partner     *users.Summary `json:"partner,omitempty"`
	LastMessage *Message       `json:"last_message"`
	UnreadCount int            `json:"unread_count"`
}
