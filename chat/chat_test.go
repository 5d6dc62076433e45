package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"roombox-service/errs"
	"roombox-service/model"
	"roombox-service/repository"
	"roombox-service/repository/repotest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	repo     *repository.Repository
	tenant   model.User
	landlord model.User
	other    model.User
	room     model.Room
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := repotest.Open(t)
	landlord := repotest.CreateUser(t, db, "landlord", model.RoleLandlord)
	return fixture{
		repo:     repository.New(db),
		tenant:   repotest.CreateUser(t, db, "tenant", model.RoleTenant),
		landlord: landlord,
		other:    repotest.CreateUser(t, db, "stranger", model.RoleTenant),
		room:     repotest.CreateRoom(t, db, landlord, repotest.Listing{Rent: 12000, Deposit: 5000, Advance: 12000, Available: 1}),
	}
}

type emitted struct {
	event   string
	payload any
}

type fakeSession struct {
	id     string
	userID uint

	mu   sync.Mutex
	sent []emitted
}

func newSession(id string, userID uint) *fakeSession {
	return &fakeSession{id: id, userID: userID}
}

func (s *fakeSession) ID() string   { return s.id }
func (s *fakeSession) UserID() uint { return s.userID }
func (s *fakeSession) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, emitted{event, payload})
}

func (s *fakeSession) messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatMessage
	for _, e := range s.sent {
		if e.event == EventNewMessage {
			out = append(out, e.payload.(model.ChatMessage))
		}
	}
	return out
}

func (s *fakeSession) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, e := range s.sent {
		out[i] = e.event
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []string
}

func (p *recordingPublisher) Publish(_ context.Context, action string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}

type failingStore struct {
	Store
}

func (failingStore) CreateMessage(context.Context, *model.ChatMessage) error {
	return errors.New("connection reset by peer")
}

func openChannel(t *testing.T, f fixture) model.ChatChannel {
	t.Helper()
	ch, _, err := NewManager(f.repo, zap.NewNop()).GetOrCreateChannel(context.Background(), f.room.ID, 0, f.tenant.ID)
	require.NoError(t, err)
	return ch
}

func TestGetOrCreateChannelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.repo, zap.NewNop())
	ctx := context.Background()

	first, created, err := m.GetOrCreateChannel(ctx, f.room.ID, f.landlord.ID, f.tenant.ID)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := m.GetOrCreateChannel(ctx, f.room.ID, 0, f.tenant.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateChannelConcurrentCallsShareOneChannel(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.repo, zap.NewNop())

	const n = 8
	ids := make([]uint, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, _, err := m.GetOrCreateChannel(context.Background(), f.room.ID, 0, f.tenant.ID)
			require.NoError(t, err)
			ids[i] = ch.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestGetOrCreateChannelRejects(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.repo, zap.NewNop())
	ctx := context.Background()

	_, _, err := m.GetOrCreateChannel(ctx, 9999, 0, f.tenant.ID)
	require.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, _, err = m.GetOrCreateChannel(ctx, f.room.ID, 0, f.landlord.ID)
	require.Equal(t, errs.KindPermissionDenied, errs.KindOf(err))

	_, _, err = m.GetOrCreateChannel(ctx, f.room.ID, f.other.ID, f.tenant.ID)
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, _, err = m.GetOrCreateChannel(ctx, f.room.ID, 0, 0)
	require.Equal(t, errs.KindUnauthenticated, errs.KindOf(err))
}

func TestHistoryRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	m := NewManager(f.repo, zap.NewNop())

	_, err := m.History(context.Background(), ListMessages{ChannelID: ch.ID, CallerID: f.other.ID})
	require.ErrorIs(t, err, errs.NotParticipant)

	_, err = m.History(context.Background(), ListMessages{ChannelID: ch.ID, CallerID: f.tenant.ID, Limit: 101})
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestJoinAcknowledgesParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	tenant := newSession("s1", f.tenant.ID)
	require.NoError(t, b.Join(ctx, ch.ID, tenant))
	require.Equal(t, []string{EventRoomJoined}, tenant.events())

	stranger := newSession("s2", f.other.ID)
	require.ErrorIs(t, b.Join(ctx, ch.ID, stranger), errs.NotParticipant)
	require.Empty(t, stranger.events())
	require.False(t, b.Joined(ch.ID, "s2"))
}

func TestSendLiveDeliversToJoinedSessionsAfterPersisting(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	pub := &recordingPublisher{}
	b := NewBroker(f.repo, pub, zap.NewNop())
	ctx := context.Background()

	tenant := newSession("t", f.tenant.ID)
	landlord := newSession("l", f.landlord.ID)
	require.NoError(t, b.Join(ctx, ch.ID, tenant))
	require.NoError(t, b.Join(ctx, ch.ID, landlord))

	msg, err := b.SendLive(ctx, tenant, SendMessage{ChannelID: ch.ID, Body: "  Is the room still free?  "})
	require.NoError(t, err)
	require.NotZero(t, msg.ID)
	require.Equal(t, "Is the room still free?", msg.Body)

	for _, s := range []*fakeSession{tenant, landlord} {
		got := s.messages()
		require.Len(t, got, 1)
		require.Equal(t, msg.ID, got[0].ID)
	}

	stored, err := f.repo.Messages(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 1, pub.count())
}

func TestSendLiveRequiresJoin(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	tenant := newSession("t", f.tenant.ID)
	_, err := b.SendLive(ctx, tenant, SendMessage{ChannelID: ch.ID, Body: "hello"})
	require.ErrorIs(t, err, errs.NotParticipant)

	stored, err := f.repo.Messages(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestSendWithIdempotencyKeyStoresOnce(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	landlord := newSession("l", f.landlord.ID)
	require.NoError(t, b.Join(ctx, ch.ID, landlord))

	in := SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "hello", IdempotencyKey: "k-1"}
	first, err := b.Send(ctx, in)
	require.NoError(t, err)
	second, err := b.Send(ctx, in)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, landlord.messages(), 1)

	stored, err := f.repo.Messages(ctx, ch.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestSendPersistFailureIsRetryableAndNotDelivered(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	pub := &recordingPublisher{}
	b := NewBroker(failingStore{f.repo}, pub, zap.NewNop())
	ctx := context.Background()

	landlord := newSession("l", f.landlord.ID)
	require.NoError(t, b.Join(ctx, ch.ID, landlord))

	_, err := b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "hello"})
	require.Error(t, err)
	require.True(t, errs.Retryable(err))
	require.Empty(t, landlord.messages())
	require.Zero(t, pub.count())
}

func TestSendValidatesBody(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	_, err := b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "   "})
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	long := make([]byte, MaxBodyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: string(long)})
	require.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.other.ID, Body: "hi"})
	require.ErrorIs(t, err, errs.NotParticipant)
}

func TestConcurrentSendsDeliverInPersistedOrder(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	tenant := newSession("t", f.tenant.ID)
	landlord := newSession("l", f.landlord.ID)
	require.NoError(t, b.Join(ctx, ch.ID, tenant))
	require.NoError(t, b.Join(ctx, ch.ID, landlord))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := tenant
			if i%2 == 1 {
				sender = landlord
			}
			_, err := b.SendLive(ctx, sender, SendMessage{ChannelID: ch.ID, Body: fmt.Sprintf("m%d", i)})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.repo.Messages(ctx, ch.ID, 0, n)
	require.NoError(t, err)
	require.Len(t, stored, n)

	for _, s := range []*fakeSession{tenant, landlord} {
		got := s.messages()
		require.Len(t, got, n)
		for i := range got {
			require.Equal(t, stored[i].ID, got[i].ID)
		}
	}
}

func TestDisconnectLeavesEveryChannel(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	landlord := newSession("l", f.landlord.ID)
	require.NoError(t, b.Join(ctx, ch.ID, landlord))
	b.Disconnect("l")
	require.False(t, b.Joined(ch.ID, "l"))

	_, err := b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "still there?"})
	require.NoError(t, err)
	require.Empty(t, landlord.messages())
}

func TestChannelsSummarizeEachConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())

	_, err := b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "Is parking included?"})
	require.NoError(t, err)
	_, err = b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "And water?"})
	require.NoError(t, err)

	m := NewManager(f.repo, zap.NewNop())
	list, err := m.Channels(ctx, f.landlord.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, f.tenant.ID, list[0].CounterpartID)
	require.Equal(t, f.tenant.DisplayName(), list[0].CounterpartName)
	require.Equal(t, f.room.Title, list[0].ListingTitle)
	require.EqualValues(t, 2, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	require.Equal(t, "And water?", list[0].LastMessage.Body)

	list, err = m.Channels(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, f.landlord.DisplayName(), list[0].CounterpartName)
	require.Zero(t, list[0].UnreadCount)

	ids, err := m.Counterparts(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{f.landlord.ID}, ids)

	list, err = m.Channels(ctx, f.other.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMarkReadFansOutReceipt(t *testing.T) {
	f := newFixture(t)
	ch := openChannel(t, f)
	b := NewBroker(f.repo, nil, zap.NewNop())
	ctx := context.Background()

	_, err := b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "one"})
	require.NoError(t, err)
	_, err = b.Send(ctx, SendMessage{ChannelID: ch.ID, SenderID: f.tenant.ID, Body: "two"})
	require.NoError(t, err)

	tenant := newSession("t", f.tenant.ID)
	require.NoError(t, b.Join(ctx, ch.ID, tenant))

	n, err := b.MarkRead(ctx, ch.ID, f.landlord.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Contains(t, tenant.events(), EventMessagesRead)

	_, err = b.MarkRead(ctx, ch.ID, f.other.ID)
	require.ErrorIs(t, err, errs.NotParticipant)
}
