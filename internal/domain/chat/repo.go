package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	Update(ctx context.Context, m *Message) error
	ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error)
	Conversations(ctx context.Context, userID uuid.UUID) ([]*Conversation, error)
	MarkConversationRead(ctx context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}
