package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/atlasgate/portal/internal/logging"
	"github.com/atlasgate/portal/internal/repository"
	"github.com/atlasgate/portal/internal/repository/memory"
	"github.com/google/uuid"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *ConversationService
	msgs  *memory.MessageRepo
	users *memory.UserRepo
	apps  *memory.ApplicationRepo
	a, b  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepo()
	msgs := memory.NewMessageRepo(users)
	apps := memory.NewApplicationRepo()
	f := &fixture{
		svc:   NewConversationService(msgs, users, apps, logging.Discard()),
		msgs:  msgs,
		users: users,
		apps:  apps,
	}
	f.a = f.addUser(t, "Ana Client", domain.RoleClient)
	f.b = f.addUser(t, "Boris Admin", domain.RoleAdmin)
	return f
}

func (f *fixture) addUser(t *testing.T, name, role string) uuid.UUID {
	t.Helper()
	u := &domain.User{ID: uuid.New(), Name: name, Email: strings.ReplaceAll(strings.ToLower(name), " ", ".") + "@example.com", Role: role}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func (f *fixture) store(t *testing.T, from, to uuid.UUID, at time.Time, app *domain.ApplicationContext) domain.Message {
	t.Helper()
	content := "hello"
	msg := &domain.Message{SenderID: from, ReceiverID: to, Content: &content, Application: app, CreatedAt: at}
	if err := f.msgs.Create(context.Background(), msg); err != nil {
		t.Fatalf("store message: %v", err)
	}
	return *msg
}

func ids(msgs []domain.Message) []int64 {
	out := make([]int64, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ID
	}
	return out
}

func sameIDs(got []domain.Message, want ...int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].ID != want[i] {
			return false
		}
	}
	return true
}

func ins(id int64) *domain.ApplicationContext {
	return &domain.ApplicationContext{Type: domain.ApplicationInscription, ID: id}
}

func TestGetConversationExamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.store(t, f.a, f.b, t0.Add(10*time.Second), nil)
	m2 := f.store(t, f.a, f.b, t0.Add(11*time.Second), ins(5))
	m3 := f.store(t, f.a, f.b, t0.Add(12*time.Second), ins(7))

	got := f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b, Context: ins(5)})
	if !sameIDs(got, m1.ID, m2.ID) {
		t.Errorf("inscription#5: got %v, want [%d %d]", ids(got), m1.ID, m2.ID)
	}

	got = f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b, Context: ins(7)})
	if !sameIDs(got, m1.ID, m3.ID) {
		t.Errorf("inscription#7: got %v, want [%d %d]", ids(got), m1.ID, m3.ID)
	}

	got = f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b})
	if !sameIDs(got, m1.ID, m2.ID, m3.ID) {
		t.Errorf("unfiltered: got %v", ids(got))
	}

	since := m1.ID
	got = f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b, SinceID: &since})
	if !sameIDs(got, m2.ID, m3.ID) {
		t.Errorf("since m1: got %v", ids(got))
	}

	got = f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b, Limit: 1})
	if !sameIDs(got, m3.ID) {
		t.Errorf("limit 1: got %v, want [%d]", ids(got), m3.ID)
	}
}

func TestGetConversationSymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.addUser(t, "Carla Other", domain.RoleClient)
	f.store(t, f.a, f.b, t0, nil)
	f.store(t, f.b, f.a, t0.Add(time.Second), ins(5))
	f.store(t, f.a, c, t0.Add(2*time.Second), nil)
	f.store(t, f.b, f.a, t0.Add(3*time.Second), nil)

	for _, filter := range []domain.ConversationFilter{
		{},
		{Context: ins(5)},
		{Limit: 2},
	} {
		ab, ba := filter, filter
		ab.UserA, ab.UserB = f.a, f.b
		ba.UserA, ba.UserB = f.b, f.a

		got1 := f.svc.GetConversation(ctx, ab)
		got2 := f.svc.GetConversation(ctx, ba)
		if !sameIDs(got2, ids(got1)...) {
			t.Errorf("filter %+v: A,B gave %v but B,A gave %v", filter, ids(got1), ids(got2))
		}
		for _, m := range got1 {
			if m.SenderID == c || m.ReceiverID == c {
				t.Errorf("message %d from another conversation leaked in", m.ID)
			}
		}
	}
}

func TestGetConversationContextInclusion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := &domain.ApplicationContext{Type: domain.ApplicationWorkPermit, ID: 3}

	var want []int64
	for i, app := range []*domain.ApplicationContext{
		nil,
		target,
		{Type: domain.ApplicationWorkPermit, ID: 4},
		{Type: domain.ApplicationResidence, ID: 3},
		{Type: domain.ApplicationInscription, ID: 3},
		nil,
		{Type: domain.ApplicationWorkPermit, ID: 3},
	} {
		m := f.store(t, f.a, f.b, t0.Add(time.Duration(i)*time.Second), app)
		if app == nil || *app == *target {
			want = append(want, m.ID)
		}
	}

	got := f.svc.GetConversation(ctx, domain.ConversationFilter{UserA: f.a, UserB: f.b, Context: target})
	if !sameIDs(got, want...) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	for _, m := range got {
		if m.Application != nil && *m.Application != *target {
			t.Errorf("message %d belongs to %+v", m.ID, *m.Application)
		}
	}
}

func TestGetConversationUnknownContextFallsBack(t *testing.T) {
	f := newFixture(t)
	f.store(t, f.a, f.b, t0, nil)
	f.store(t, f.a, f.b, t0.Add(time.Second), ins(5))

	got := f.svc.GetConversation(context.Background(), domain.ConversationFilter{
		UserA: f.a, UserB: f.b,
		Context: &domain.ApplicationContext{Type: "student_visa", ID: 5},
	})
	if len(got) != 2 {
		t.Errorf("unknown application type must behave as no filter, got %v", ids(got))
	}
}

func TestGetConversationOrdering(t *testing.T) {
	f := newFixture(t)
	// Inserted out of chronological order, with a timestamp tie.
	f.store(t, f.a, f.b, t0.Add(5*time.Second), nil)
	f.store(t, f.b, f.a, t0, nil)
	f.store(t, f.a, f.b, t0.Add(5*time.Second), nil)
	f.store(t, f.b, f.a, t0.Add(time.Second), nil)

	got := f.svc.GetConversation(context.Background(), domain.ConversationFilter{UserA: f.a, UserB: f.b})
	for i := 0; i+1 < len(got); i++ {
		if !domain.MessageBefore(&got[i], &got[i+1]) {
			t.Fatalf("messages %d and %d out of order: %v", got[i].ID, got[i+1].ID, ids(got))
		}
	}
	if !sameIDs(got, 2, 4, 1, 3) {
		t.Errorf("got %v, want [2 4 1 3]", ids(got))
	}
}

func TestGetConversationLimitKeepsMostRecent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.store(t, f.a, f.b, t0.Add(time.Duration(i/2)*time.Second), nil)
	}

	got := f.svc.GetConversation(context.Background(), domain.ConversationFilter{UserA: f.a, UserB: f.b, Limit: 3})
	if !sameIDs(got, 4, 5, 6) {
		t.Errorf("got %v, want [4 5 6]", ids(got))
	}

	got = f.svc.GetConversation(context.Background(), domain.ConversationFilter{UserA: f.a, UserB: f.b, Limit: 50})
	if len(got) != 6 {
		t.Errorf("limit above size must return everything, got %d", len(got))
	}
}

func TestFetchIncrementalCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, f.a, f.b, t0, nil)
	f.store(t, f.b, f.a, t0.Add(time.Second), nil)

	first := f.svc.FetchIncremental(ctx, f.a, f.b, nil, 0)
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %v", ids(first))
	}
	last := first[len(first)-1].ID

	if again := f.svc.FetchIncremental(ctx, f.a, f.b, nil, last); len(again) != 0 {
		t.Errorf("expected nothing new, got %v", ids(again))
	}

	m3 := f.store(t, f.a, f.b, t0.Add(2*time.Second), nil)
	next := f.svc.FetchIncremental(ctx, f.a, f.b, nil, last)
	if !sameIDs(next, m3.ID) {
		t.Errorf("expected only [%d], got %v", m3.ID, ids(next))
	}

	// A retried poll with the same cursor returns the same page.
	retry := f.svc.FetchIncremental(ctx, f.a, f.b, nil, last)
	if !sameIDs(retry, ids(next)...) {
		t.Errorf("retry gave %v, first poll gave %v", ids(retry), ids(next))
	}
}

type failingMessageRepo struct {
	repository.MessageRepository
	err error
}

func (r *failingMessageRepo) ListConversation(ctx context.Context, filter domain.ConversationFilter) ([]domain.Message, error) {
	return nil, r.err
}

func (r *failingMessageRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, r.err
}

func TestReadsDegradeOnStoreError(t *testing.T) {
	var buf bytes.Buffer
	repo := &failingMessageRepo{err: errors.New("connection refused")}
	svc := NewConversationService(repo, memory.NewUserRepo(), memory.NewApplicationRepo(), logging.New(&buf, "debug"))
	a, b := uuid.New(), uuid.New()
	since := int64(12)

	got := svc.GetConversation(context.Background(), domain.ConversationFilter{UserA: a, UserB: b, Context: ins(5), SinceID: &since})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if n := svc.UnreadCount(context.Background(), a); n != 0 {
		t.Errorf("expected 0 unread on failure, got %d", n)
	}

	out := buf.String()
	for _, want := range []string{"conversation query failed", a.String(), b.String(), "application_type=inscription", "since_id=12", "connection refused", "unread count query failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

type stubCache struct {
	counts      map[uuid.UUID]int
	versions    map[uuid.UUID]int64
	getErr      error
	invalidated []uuid.UUID

	// beforeFill runs once, between the store read and the cache write.
	beforeFill func()
}

func (c *stubCache) Get(ctx context.Context, userID uuid.UUID) (int, bool, int64, error) {
	if c.getErr != nil {
		return 0, false, 0, c.getErr
	}
	n, ok := c.counts[userID]
	return n, ok, c.versions[userID], nil
}

func (c *stubCache) Fill(ctx context.Context, userID uuid.UUID, n int, version int64) error {
	if hook := c.beforeFill; hook != nil {
		c.beforeFill = nil
		hook()
	}
	if c.versions[userID] != version {
		return nil
	}
	if c.counts == nil {
		c.counts = make(map[uuid.UUID]int)
	}
	c.counts[userID] = n
	return nil
}

func (c *stubCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if c.versions == nil {
		c.versions = make(map[uuid.UUID]int64)
	}
	delete(c.counts, userID)
	c.versions[userID]++
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func TestUnreadCountCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &stubCache{}
	f.svc.SetUnreadCache(cache)
	f.store(t, f.a, f.b, t0, nil)
	f.store(t, f.a, f.b, t0, nil)

	if n := f.svc.UnreadCount(ctx, f.b); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if cache.counts[f.b] != 2 {
		t.Errorf("count was not cached: %v", cache.counts)
	}

	cache.counts[f.b] = 9
	if n := f.svc.UnreadCount(ctx, f.b); n != 9 {
		t.Errorf("expected cached value 9, got %d", n)
	}

	cache.getErr = errors.New("redis down")
	if n := f.svc.UnreadCount(ctx, f.b); n != 2 {
		t.Errorf("expected store fallback 2, got %d", n)
	}
}

func TestUnreadCountIgnoresFillRacingAWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &stubCache{}
	f.svc.SetUnreadCache(cache)
	cache.beforeFill = func() {
		if _, err := f.svc.Send(ctx, f.a, f.b, SendMessageInput{Content: "new document uploaded"}); err != nil {
			t.Errorf("send: %v", err)
		}
	}

	if n := f.svc.UnreadCount(ctx, f.b); n != 0 {
		t.Fatalf("first read: expected 0, got %d", n)
	}
	if _, ok := cache.counts[f.b]; ok {
		t.Errorf("count computed before the send was cached: %v", cache.counts)
	}
	if n := f.svc.UnreadCount(ctx, f.b); n != 1 {
		t.Errorf("second read: expected 1, got %d", n)
	}
	if cache.counts[f.b] != 1 {
		t.Errorf("fresh count not cached: %v", cache.counts)
	}
}

type readEvent struct {
	senderID, readerID uuid.UUID
	ids                []int64
}

type stubNotifier struct {
	newMessages []*domain.Message
	reads       []readEvent
}

func (n *stubNotifier) NotifyNewMessage(msg *domain.Message) {
	n.newMessages = append(n.newMessages, msg)
}

func (n *stubNotifier) NotifyMessagesRead(senderID, readerID uuid.UUID, ids []int64) {
	n.reads = append(n.reads, readEvent{senderID: senderID, readerID: readerID, ids: ids})
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &stubCache{}
	notifier := &stubNotifier{}
	f.svc.SetUnreadCache(cache)
	f.svc.SetNotifier(notifier)
	m := f.store(t, f.a, f.b, t0, nil)

	if err := f.svc.MarkAsRead(ctx, f.a, m.ID); !errors.Is(err, ErrNotMessageReceiver) {
		t.Errorf("sender must not mark as read, got %v", err)
	}
	if err := f.svc.MarkAsRead(ctx, f.b, 999); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.MarkAsRead(ctx, f.b, m.ID); err != nil {
			t.Fatalf("mark as read (attempt %d): %v", i+1, err)
		}
	}

	stored, _ := f.msgs.GetByID(ctx, m.ID)
	if !stored.IsRead {
		t.Error("message not flagged as read")
	}
	if len(notifier.reads) != 1 || notifier.reads[0].senderID != f.a || notifier.reads[0].ids[0] != m.ID {
		t.Errorf("expected one read notification to the sender, got %+v", notifier.reads)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != f.b {
		t.Errorf("expected receiver cache invalidated once, got %v", cache.invalidated)
	}
	if n := f.svc.UnreadCount(ctx, f.b); n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &stubCache{}
	notifier := &stubNotifier{}
	f.svc.SetUnreadCache(cache)
	f.svc.SetNotifier(notifier)
	m1 := f.store(t, f.a, f.b, t0, nil)
	m2 := f.store(t, f.a, f.b, t0, ins(5))
	f.store(t, f.b, f.a, t0, nil)

	n, err := f.svc.MarkConversationRead(ctx, f.b, f.a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 updated, got %d", n)
	}
	if len(notifier.reads) != 1 {
		t.Fatalf("expected one read notification, got %+v", notifier.reads)
	}
	read := notifier.reads[0]
	if read.senderID != f.a || read.readerID != f.b || len(read.ids) != 2 || read.ids[0] != m1.ID || read.ids[1] != m2.ID {
		t.Errorf("unexpected read notification %+v", read)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != f.b {
		t.Errorf("reader cache not invalidated: %v", cache.invalidated)
	}

	// Nothing left to mark: no event, no invalidation.
	if n, _ := f.svc.MarkConversationRead(ctx, f.b, f.a); n != 0 || len(notifier.reads) != 1 {
		t.Errorf("repeat mark: n=%d reads=%d", n, len(notifier.reads))
	}
	if got := f.svc.UnreadCount(ctx, f.a); got != 1 {
		t.Errorf("other direction must stay unread, got %d", got)
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := &stubCache{}
	notifier := &stubNotifier{}
	f.svc.SetUnreadCache(cache)
	f.svc.SetNotifier(notifier)
	f.apps.Add(domain.ApplicationContext{Type: domain.ApplicationResidence, ID: 8})
	otherClient := f.addUser(t, "Carla Client", domain.RoleClient)

	tests := []struct {
		name     string
		receiver uuid.UUID
		input    SendMessageInput
		wantErr  error
	}{
		{"to self", f.a, SendMessageInput{Content: "hi"}, ErrCannotMessageSelf},
		{"unknown receiver", uuid.New(), SendMessageInput{Content: "hi"}, ErrUserNotFound},
		{"client to client", otherClient, SendMessageInput{Content: "hi"}, ErrRecipientNotStaff},
		{"blank", f.b, SendMessageInput{Content: "   "}, ErrEmptyMessage},
		{"bad type", f.b, SendMessageInput{Content: "hi", ApplicationType: "visa", ApplicationID: 8}, ErrInvalidApplication},
		{"missing id", f.b, SendMessageInput{Content: "hi", ApplicationType: "residence"}, ErrInvalidApplication},
		{"unknown application", f.b, SendMessageInput{Content: "hi", ApplicationType: "residence", ApplicationID: 9}, ErrApplicationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Send(ctx, f.a, tt.receiver, tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if len(notifier.newMessages) != 0 {
		t.Fatalf("rejected sends must not notify")
	}

	msg, err := f.svc.Send(ctx, f.a, f.b, SendMessageInput{
		Content:         "  Your residence file is complete  ",
		ApplicationType: "residence",
		ApplicationID:   8,
		StatusUpdate:    "approved",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == 0 || msg.Content == nil || *msg.Content != "Your residence file is complete" {
		t.Errorf("unexpected stored message: %+v", msg)
	}
	if msg.Application == nil || msg.Application.Type != domain.ApplicationResidence || msg.Application.ID != 8 {
		t.Errorf("application context not stored: %+v", msg.Application)
	}
	if msg.StatusUpdate == nil || *msg.StatusUpdate != "approved" {
		t.Errorf("status update not stored")
	}
	if msg.Sender == nil || msg.Sender.Name != "Ana Client" || msg.Receiver == nil || msg.Receiver.Name != "Boris Admin" {
		t.Errorf("participants not joined: %+v / %+v", msg.Sender, msg.Receiver)
	}
	if len(notifier.newMessages) != 1 || notifier.newMessages[0].ID != msg.ID {
		t.Errorf("expected one new-message notification")
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != f.b {
		t.Errorf("receiver cache not invalidated: %v", cache.invalidated)
	}

	if _, err := f.svc.Send(ctx, f.b, otherClient, SendMessageInput{Content: "Welcome aboard"}); err != nil {
		t.Errorf("staff writing to a client: %v", err)
	}
}

func TestListConversationsEmpty(t *testing.T) {
	f := newFixture(t)
	convs, err := f.svc.ListConversations(context.Background(), f.a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if convs == nil || len(convs) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", convs)
	}
}
