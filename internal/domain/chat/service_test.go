package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/appointments"
	"github.com/telemed/telemed/internal/domain/users"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
	"github.com/telemed/telemed/internal/platform/websocket"
)

// -- Mock Repository --

type mockMessageRepo struct {
	store map[uuid.UUID]*Message
	clock time.Time
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{store: make(map[uuid.UUID]*Message), clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockMessageRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	msg.CreatedAt = m.clock
	msg.UpdatedAt = m.clock
	cp := *msg
	m.store[msg.ID] = &cp
	return nil
}

func (m *mockMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	msg, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockMessageRepo) Update(_ context.Context, msg *Message) error {
	if _, ok := m.store[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	m.store[msg.ID] = &cp
	return nil
}

func (m *mockMessageRepo) filter(keep func(*Message) bool, limit, offset int) ([]*Message, int) {
	var out []*Message
	for _, msg := range m.store {
		if keep(msg) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if limit > 0 {
		if offset >= len(out) {
			return nil, total
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, total
}

func (m *mockMessageRepo) ListBetween(_ context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total := m.filter(func(msg *Message) bool {
		return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
	}, limit, offset)
	return items, total, nil
}

func (m *mockMessageRepo) ListByAppointment(_ context.Context, id uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total := m.filter(func(msg *Message) bool {
		return msg.AppointmentID != nil && *msg.AppointmentID == id
	}, limit, offset)
	return items, total, nil
}

func (m *mockMessageRepo) Conversations(_ context.Context, userID uuid.UUID) ([]*Conversation, error) {
	all, _ := m.filter(func(msg *Message) bool { return msg.Participant(userID) }, 0, 0)
	byPartner := make(map[uuid.UUID]*Conversation)
	var out []*Conversation
	for _, msg := range all {
		partner := msg.Counterpart(userID)
		c, ok := byPartner[partner]
		if !ok {
			c = &Conversation{PartnerID: partner, LastMessage: msg}
			byPartner[partner] = c
			out = append(out, c)
		}
		if msg.ReceiverID == userID && !msg.IsRead {
			c.UnreadCount++
		}
	}
	return out, nil
}

func (m *mockMessageRepo) MarkConversationRead(_ context.Context, receiverID, senderID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	for _, msg := range m.store {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.IsRead {
			msg.IsRead = true
			t := at
			msg.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (m *mockMessageRepo) UnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, msg := range m.store {
		if msg.ReceiverID == userID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

// -- Fakes --

type fakeDirectory struct {
	users map[uuid.UUID]*users.User
}

func (f *fakeDirectory) Get(_ context.Context, id uuid.UUID) (*users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) GetMany(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*users.User, error) {
	out := make(map[uuid.UUID]*users.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeDirectory) add(role string) *auth.Principal {
	u := &users.User{ID: uuid.New(), FirstName: "Test", LastName: role, Email: uuid.NewString() + "@example.com", Role: role, IsActive: true}
	f.users[u.ID] = u
	return &auth.Principal{UserID: u.ID, Email: u.Email, Role: role}
}

type fakeAppointments map[uuid.UUID]*appointments.Appointment

func (f fakeAppointments) GetByID(_ context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	a, ok := f[id]
	if !ok {
		return nil, appointments.ErrNotFound
	}
	return a, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt websocket.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingPublisher) topics(eventType string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e.Topic)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *mockMessageRepo
	dir     *fakeDirectory
	appts   fakeAppointments
	events  *recordingPublisher
	patient *auth.Principal
	doctor  *auth.Principal
	admin   *auth.Principal
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMockMessageRepo(),
		dir:    &fakeDirectory{users: make(map[uuid.UUID]*users.User)},
		appts:  fakeAppointments{},
		events: &recordingPublisher{},
		now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.dir, f.appts, f.events, validate.MustNew(), zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	f.patient = f.dir.add(auth.RolePatient)
	f.doctor = f.dir.add(auth.RoleDoctor)
	f.admin = f.dir.add(auth.RoleAdmin)
	return f
}

func (f *fixture) send(t *testing.T, from, to *auth.Principal, content string) *Message {
	t.Helper()
	m, err := f.svc.Send(context.Background(), from, &SendRequest{ReceiverID: to.UserID, Content: content})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return m
}

func (f *fixture) appointment() *appointments.Appointment {
	a := &appointments.Appointment{ID: uuid.New(), PatientID: f.patient.UserID, DoctorID: f.doctor.UserID, Status: appointments.StatusApproved}
	f.appts[a.ID] = a
	return a
}

func strPtr(s string) *string { return &s }

// -- Tests --

func TestService_Send(t *testing.T) {
	f := newFixture()
	m := f.send(t, f.patient, f.doctor, "  Hello doctor  ")

	if m.SenderID != f.patient.UserID || m.ReceiverID != f.doctor.UserID {
		t.Error("unexpected participants")
	}
	if m.Type != TypeText || m.Content != "Hello doctor" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.IsRead {
		t.Error("new messages should be unread")
	}
	if m.Sender == nil || m.Receiver == nil {
		t.Error("expected participant summaries")
	}

	topics := f.events.topics(websocket.EventMessageNew)
	if len(topics) != 2 || topics[0] != websocket.UserTopic(f.doctor.UserID) || topics[1] != websocket.UserTopic(f.patient.UserID) {
		t.Errorf("expected delivery to receiver then sender, got %v", topics)
	}
}

func TestService_Send_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tests := []struct {
		name string
		p    *auth.Principal
		req  SendRequest
		want error
	}{
		{"blank text", f.patient, SendRequest{ReceiverID: f.doctor.UserID, Content: "   "}, ErrInvalid},
		{"image without url", f.patient, SendRequest{ReceiverID: f.doctor.UserID, Type: TypeImage}, ErrInvalid},
		{"unknown type", f.patient, SendRequest{ReceiverID: f.doctor.UserID, Type: "video", Content: "x"}, ErrInvalid},
		{"to self", f.patient, SendRequest{ReceiverID: f.patient.UserID, Content: "x"}, ErrInvalid},
		{"unknown receiver", f.patient, SendRequest{ReceiverID: uuid.New(), Content: "x"}, ErrReceiverNotFound},
		{"system by patient", f.patient, SendRequest{ReceiverID: f.doctor.UserID, Type: TypeSystem, Content: "x"}, ErrForbidden},
		{"unknown appointment", f.patient, SendRequest{ReceiverID: f.doctor.UserID, Content: "x", AppointmentID: ptrUUID(uuid.New())}, ErrAppointmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := f.svc.Send(ctx, tt.p, &req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(f.repo.store) != 0 {
		t.Errorf("expected nothing stored, got %d", len(f.repo.store))
	}
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }

func TestService_Send_FileMessage(t *testing.T) {
	f := newFixture()
	m, err := f.svc.Send(context.Background(), f.doctor, &SendRequest{
		ReceiverID: f.patient.UserID, Type: TypeFile, FileURL: strPtr("/uploads/documents/x.pdf"), FileName: strPtr("labs.pdf"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Content != "" || *m.FileName != "labs.pdf" {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestService_Send_AppointmentParticipants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.appointment()
	outsider := f.dir.add(auth.RoleDoctor)

	if _, err := f.svc.Send(ctx, outsider, &SendRequest{ReceiverID: f.patient.UserID, Content: "hi", AppointmentID: &a.ID}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := f.svc.Send(ctx, f.patient, &SendRequest{ReceiverID: f.doctor.UserID, Content: "hi", AppointmentID: &a.ID}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_SendFromSocket(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	payload := json.RawMessage(`{"receiver_id":"` + f.doctor.UserID.String() + `","content":"over the socket"}`)
	out, err := f.svc.SendFromSocket(ctx, f.patient, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := out.(*Message)
	if !ok || m.Content != "over the socket" {
		t.Errorf("unexpected result %#v", out)
	}

	if _, err := f.svc.SendFromSocket(ctx, f.patient, json.RawMessage(`{"content":"no receiver"}`)); err == nil {
		t.Error("expected schema error")
	}
	if _, err := f.svc.SendFromSocket(ctx, f.patient, json.RawMessage(`{"receiver_id":"`+f.doctor.UserID.String()+`","sender_id":"x"}`)); err == nil {
		t.Error("expected unknown properties to be rejected")
	}
}

func TestService_Conversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.send(t, f.patient, f.doctor, "one")
	f.send(t, f.doctor, f.patient, "two")
	f.send(t, f.patient, f.doctor, "three")
	f.send(t, f.patient, f.admin, "unrelated")

	items, total, err := f.svc.Conversation(ctx, f.doctor, f.patient.UserID, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(items), total)
	}
	if items[0].Content != "three" || items[1].Content != "two" {
		t.Errorf("expected newest first, got %q, %q", items[0].Content, items[1].Content)
	}
}

func TestService_Conversations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.send(t, f.doctor, f.patient, "from doctor 1")
	f.send(t, f.doctor, f.patient, "from doctor 2")
	f.send(t, f.patient, f.admin, "to admin")

	convs, err := f.svc.Conversations(ctx, f.patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].PartnerID != f.admin.UserID || convs[0].UnreadCount != 0 {
		t.Errorf("expected admin thread first with no unread, got %+v", convs[0])
	}
	if convs[1].PartnerID != f.doctor.UserID || convs[1].UnreadCount != 2 || convs[1].LastMessage.Content != "from doctor 2" {
		t.Errorf("unexpected doctor thread %+v", convs[1])
	}
	if convs[1].Partner == nil || convs[1].Partner.Role != auth.RoleDoctor {
		t.Error("expected partner summary")
	}

	empty, err := f.svc.Conversations(ctx, f.dir.add(auth.RolePatient))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty slice, got %v, %v", empty, err)
	}
}

func TestService_AppointmentMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.appointment()
	f.svc.Send(ctx, f.patient, &SendRequest{ReceiverID: f.doctor.UserID, Content: "about the visit", AppointmentID: &a.ID})
	f.send(t, f.patient, f.doctor, "not attached")

	for _, p := range []*auth.Principal{f.patient, f.doctor, f.admin} {
		_, total, err := f.svc.AppointmentMessages(ctx, p, a.ID, 10, 0)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", p.Role, err)
		}
		if total != 1 {
			t.Errorf("%s: expected 1 message, got %d", p.Role, total)
		}
	}

	outsider := f.dir.add(auth.RolePatient)
	if _, _, err := f.svc.AppointmentMessages(ctx, outsider, a.ID, 10, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.send(t, f.patient, f.doctor, "read me")

	if _, err := f.svc.MarkRead(ctx, f.patient, m.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected sender to be refused, got %v", err)
	}
	read, err := f.svc.MarkRead(ctx, f.doctor, m.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil || !read.ReadAt.Equal(f.now) {
		t.Errorf("unexpected read state %+v", read)
	}
	topics := f.events.topics(websocket.EventMessagesRead)
	if len(topics) != 1 || topics[0] != websocket.UserTopic(f.patient.UserID) {
		t.Errorf("expected read receipt to sender, got %v", topics)
	}

	f.now = f.now.Add(time.Hour)
	again, _ := f.svc.MarkRead(ctx, f.doctor, m.ID)
	if !again.ReadAt.Equal(read.ReadAt.UTC()) {
		t.Error("marking twice should keep the first read time")
	}
	if len(f.events.topics(websocket.EventMessagesRead)) != 1 {
		t.Error("expected no second receipt")
	}
}

func TestService_MarkConversationRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.send(t, f.patient, f.doctor, "a")
	f.send(t, f.patient, f.doctor, "b")
	f.send(t, f.doctor, f.patient, "c")

	n, _ := f.svc.UnreadCount(ctx, f.doctor)
	if n != 2 {
		t.Fatalf("expected 2 unread, got %d", n)
	}
	updated, err := f.svc.MarkConversationRead(ctx, f.doctor, f.patient.UserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected 2 updated, got %d", updated)
	}
	if n, _ := f.svc.UnreadCount(ctx, f.doctor); n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}
	if n, _ := f.svc.UnreadCount(ctx, f.patient); n != 1 {
		t.Errorf("patient's unread should be untouched, got %d", n)
	}
}

func TestService_Edit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.send(t, f.patient, f.doctor, "typo")

	if _, err := f.svc.Edit(ctx, f.doctor, m.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	edited, err := f.svc.Edit(ctx, f.patient, m.ID, "fixed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edited.Content != "fixed" || !edited.Metadata.Edited || edited.Metadata.EditedAt == nil {
		t.Errorf("unexpected message %+v", edited)
	}
	if len(f.events.topics(websocket.EventMessageUpdated)) != 2 {
		t.Error("expected update pushed to both participants")
	}

	file, _ := f.svc.Send(ctx, f.patient, &SendRequest{ReceiverID: f.doctor.UserID, Type: TypeFile, FileURL: strPtr("/uploads/documents/a.pdf")})
	if _, err := f.svc.Edit(ctx, f.patient, file.ID, "caption"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected file messages to be read-only, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := f.send(t, f.patient, f.doctor, "secret")

	if err := f.svc.Delete(ctx, f.doctor, m.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.patient, m.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := f.repo.store[m.ID]
	if stored.Content != "" || !stored.Metadata.Deleted || stored.Metadata.DeletedAt == nil {
		t.Errorf("expected soft delete, got %+v", stored)
	}
	if err := f.svc.Delete(ctx, f.patient, m.ID); err != nil {
		t.Errorf("expected repeat delete to be a no-op, got %v", err)
	}
	if _, err := f.svc.Edit(ctx, f.patient, m.ID, "resurrect"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected deleted message to reject edits, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.patient, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_NilPublisher(t *testing.T) {
	f := newFixture()
	f.svc.events = nil
	f.send(t, f.patient, f.doctor, "quiet")
}
