package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/appointments"
	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
	"github.com/telemed/telemed/internal/platform/websocket"
)

var (
	ErrNotFound            = errors.New("message not found")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrForbidden           = errors.New("access denied")
	ErrInvalid             = errors.New("invalid message")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// UserDirectory resolves message participants.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*users.User, error)
}

// AppointmentSource looks up the appointment a thread is attached to.
// appointments.Repository satisfies it.
type AppointmentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
}

// PayloadValidator checks raw socket payloads against a named schema.
type PayloadValidator interface {
	Validate(name string, body []byte) error
}

type Service struct {
	repo      Repository
	users     UserDirectory
	appts     AppointmentSource
	events    websocket.EventPublisher
	validator PayloadValidator
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the chat service. events may be nil, in which case
// nothing is pushed to connected clients.
func NewService(repo Repository, dir UserDirectory, appts AppointmentSource, events websocket.EventPublisher, v PayloadValidator, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		users:     dir,
		appts:     appts,
		events:    events,
		validator: v,
		logger:    logger.With().Str("component", "chat").Logger(),
		now:       time.Now,
	}
}

// Send stores a message from p and pushes it to both participants.
func (s *Service) Send(ctx context.Context, p *auth.Principal, req *SendRequest) (*Message, error) {
	typ := req.Type
	if typ == "" {
		typ = TypeText
	}
	if !validTypes[typ] {
		return nil, invalidf("invalid message type: %s", typ)
	}
	if typ == TypeSystem && !p.IsAdmin() {
		return nil, ErrForbidden
	}
	content := strings.TrimSpace(req.Content)
	switch typ {
	case TypeText:
		if content == "" {
			return nil, invalidf("content is required for text messages")
		}
	case TypeImage, TypeFile:
		if req.FileURL == nil || strings.TrimSpace(*req.FileURL) == "" {
			return nil, invalidf("file_url is required for %s messages", typ)
		}
	}
	if req.ReceiverID == uuid.Nil {
		return nil, invalidf("receiver_id is required")
	}
	if req.ReceiverID == p.UserID {
		return nil, invalidf("cannot send a message to yourself")
	}
	if _, err := s.users.Get(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, err
	}
	if req.AppointmentID != nil {
		if _, err := s.appointment(ctx, p, *req.AppointmentID); err != nil {
			return nil, err
		}
	}

	m := &Message{
		SenderID:      p.UserID,
		ReceiverID:    req.ReceiverID,
		AppointmentID: req.AppointmentID,
		Type:          typ,
		Content:       content,
		FileURL:       req.FileURL,
		FileName:      req.FileName,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.populate(ctx, m)
	s.publish(ctx, websocket.EventMessageNew, m.ID.String(), m, m.ReceiverID, m.SenderID)
	return m, nil
}

// SendFromSocket handles a "send" frame from a websocket client.
func (s *Service) SendFromSocket(ctx context.Context, p *auth.Principal, payload json.RawMessage) (interface{}, error) {
	if s.validator != nil {
		if err := s.validator.Validate(validate.Message, payload); err != nil {
			return nil, err
		}
	}
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidf("malformed message payload")
	}
	return s.Send(ctx, p, &req)
}

// Conversations lists one entry per chat partner, most recent first.
func (s *Service) Conversations(ctx context.Context, p *auth.Principal) ([]*Conversation, error) {
	convs, err := s.repo.Conversations(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []*Conversation{}, nil
	}
	ids := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.PartnerID)
	}
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load conversation partners")
		return convs, nil
	}
	for _, c := range convs {
		if u, ok := found[c.PartnerID]; ok {
			sum := u.Summary()
			c.Partner = &sum
		}
	}
	return convs, nil
}

// Conversation returns the messages exchanged between p and partnerID,
// newest first.
func (s *Service) Conversation(ctx context.Context, p *auth.Principal, partnerID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total, err := s.repo.ListBetween(ctx, p.UserID, partnerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populate(ctx, items...)
	return items, total, nil
}

// AppointmentMessages returns the thread attached to an appointment. Only
// its participants and admins may read it.
func (s *Service) AppointmentMessages(ctx context.Context, p *auth.Principal, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.appointment(ctx, p, appointmentID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.ListByAppointment(ctx, appointmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.populate(ctx, items...)
	return items, total, nil
}

func (s *Service) appointment(ctx context.Context, p *auth.Principal, id uuid.UUID) (*appointments.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if errors.Is(err, appointments.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !a.IsParticipant(p.UserID) {
		return nil, ErrForbidden
	}
	return a, nil
}

// MarkRead marks a single message read. Only its receiver may do so.
func (s *Service) MarkRead(ctx context.Context, p *auth.Principal, id uuid.UUID) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != p.UserID {
		return nil, ErrForbidden
	}
	if !m.IsRead {
		at := s.now().UTC()
		m.IsRead = true
		m.ReadAt = &at
		if err := s.repo.Update(ctx, m); err != nil {
			return nil, err
		}
		s.publish(ctx, websocket.EventMessagesRead, m.ID.String(), map[string]interface{}{
			"reader_id":   p.UserID,
			"message_ids": []uuid.UUID{m.ID},
			"read_at":     at,
		}, m.SenderID)
	}
	s.populate(ctx, m)
	return m, nil
}

// MarkConversationRead marks every unread message from partnerID to p as
// read and returns how many changed.
func (s *Service) MarkConversationRead(ctx context.Context, p *auth.Principal, partnerID uuid.UUID) (int64, error) {
	at := s.now().UTC()
	n, err := s.repo.MarkConversationRead(ctx, p.UserID, partnerID, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, websocket.EventMessagesRead, "", map[string]interface{}{
			"reader_id": p.UserID,
			"count":     n,
			"read_at":   at,
		}, partnerID)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, p *auth.Principal) (int, error) {
	return s.repo.UnreadCount(ctx, p.UserID)
}

// Edit replaces the content of a text message. Only the sender may edit,
// and deleted messages stay deleted.
func (s *Service) Edit(ctx context.Context, p *auth.Principal, id uuid.UUID, content string) (*Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != p.UserID {
		return nil, ErrForbidden
	}
	if m.Metadata.Deleted {
		return nil, invalidf("message has been deleted")
	}
	if m.Type != TypeText {
		return nil, invalidf("only text messages can be edited")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalidf("content is required")
	}

	at := s.now().UTC()
	m.Content = content
	m.Metadata.Edited = true
	m.Metadata.EditedAt = &at
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	s.populate(ctx, m)
	s.publish(ctx, websocket.EventMessageUpdated, m.ID.String(), m, m.ReceiverID, m.SenderID)
	return m, nil
}

// Delete soft-deletes a message: the row stays, its content and file are
// blanked. Only the sender may delete.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.SenderID != p.UserID {
		return ErrForbidden
	}
	if m.Metadata.Deleted {
		return nil
	}

	at := s.now().UTC()
	m.Content = ""
	m.FileURL = nil
	m.FileName = nil
	m.Metadata.Deleted = true
	m.Metadata.DeletedAt = &at
	if err := s.repo.Update(ctx, m); err != nil {
		return err
	}
	s.publish(ctx, websocket.EventMessageDeleted, m.ID.String(), map[string]interface{}{
		"id":         m.ID,
		"deleted_at": at,
	}, m.ReceiverID, m.SenderID)
	return nil
}

func (s *Service) populate(ctx context.Context, items ...*Message) {
	if len(items) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(items)*2)
	for _, m := range items {
		ids = append(ids, m.SenderID, m.ReceiverID)
	}
	found, err := s.users.GetMany(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load message participants")
		return
	}
	for _, m := range items {
		if u, ok := found[m.SenderID]; ok {
			sum := u.Summary()
			m.Sender = &sum
		}
		if u, ok := found[m.ReceiverID]; ok {
			sum := u.Summary()
			m.Receiver = &sum
		}
	}
}

// publish pushes an event to each recipient's topic. Delivery is best
// effort: the message is already stored.
func (s *Service) publish(ctx context.Context, eventType, resourceID string, data interface{}, recipients ...uuid.UUID) {
	if s.events == nil {
		return
	}
	for _, id := range recipients {
		evt, err := websocket.NewEvent(eventType, websocket.UserTopic(id), "message", resourceID, data)
		if err != nil {
			s.logger.Error().Err(err).Str("event", eventType).Msg("failed to encode chat event")
			return
		}
		if err := s.events.Publish(ctx, evt); err != nil {
			s.logger.Warn().Err(err).Str("event", eventType).Str("topic", evt.Topic).Msg("failed to publish chat event")
		}
	}
}
