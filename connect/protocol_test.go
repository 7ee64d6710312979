package connect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap/models"
)

type memRepo struct {
	mu            sync.Mutex
	notifications map[string][]models.Notification
	connections   map[models.Pair]time.Time
	lastID        int64
	fail          bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		notifications: make(map[string][]models.Notification),
		connections:   make(map[models.Pair]time.Time),
	}
}

func (r *memRepo) SaveNotifications(_ context.Context, recipient string, list []models.Notification, lastID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.notifications[recipient] = list
	if lastID > r.lastID {
		r.lastID = lastID
	}
	return nil
}

func (r *memRepo) LastNotificationID(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID, nil
}

func (r *memRepo) LoadNotifications(_ context.Context) (map[string][]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]models.Notification)
	for k, v := range r.notifications {
		out[k] = append([]models.Notification(nil), v...)
	}
	return out, nil
}

func (r *memRepo) SaveConnection(_ context.Context, pair models.Pair, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	if _, ok := r.connections[pair]; !ok {
		r.connections[pair] = at
	}
	return nil
}

func (r *memRepo) LoadConnections(_ context.Context) ([]models.Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Pair
	for pair := range r.connections {
		out = append(out, pair)
	}
	return out, nil
}

type contacts map[string]models.Contact

func (c contacts) Contact(login string) models.Contact { return c[login] }

type openRecorder struct {
	mu    sync.Mutex
	opens map[models.Pair]int
}

func (o *openRecorder) Open(_ context.Context, pair models.Pair) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens[pair]++
	return nil
}

type fixture struct {
	protocol *Protocol
	repo     *memRepo
	opener   *openRecorder
}

func newFixture() *fixture {
	repo := newMemRepo()
	opener := &openRecorder{opens: make(map[models.Pair]int)}
	p := New(repo, contacts{
		"bob": {Email: "bob@gmail.com", Phone: "0123456789"},
	}, opener)
	return &fixture{protocol: p, repo: repo, opener: opener}
}

func TestRequestCreatesNotification(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	n, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	assert.Equal(t, models.KindConnectionRequest, n.Kind)
	assert.Equal(t, "alice", n.From)
	assert.Equal(t, "bob", n.Recipient)
	assert.Equal(t, "go", n.Skill)

	list := f.protocol.Notifications("bob")
	require.Len(t, list, 1)
	assert.Equal(t, n, list[0])
	assert.Len(t, f.repo.notifications["bob"], 1)
	assert.Empty(t, f.protocol.Notifications("alice"))
}

func TestRequestErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.protocol.Request(ctx, "alice", "alice", "go")
	assert.ErrorIs(t, err, models.ErrSelfConnection)

	_, err = f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Request(ctx, "alice", "bob", "go")
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
	_, err = f.protocol.Request(ctx, "alice", "bob", "rust")
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)

	assert.Len(t, f.protocol.Notifications("bob"), 1)
}

func TestDistinctRequestsCoexist(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Request(ctx, "alice", "carol", "go")
	require.NoError(t, err)
	_, err = f.protocol.Request(ctx, "dave", "bob", "rust")
	require.NoError(t, err)

	bob := f.protocol.Notifications("bob")
	require.Len(t, bob, 2)
	assert.Equal(t, "alice", bob[0].From)
	assert.Equal(t, "dave", bob[1].From)
	assert.NotEqual(t, bob[0].ID, bob[1].ID)
	assert.Len(t, f.protocol.Notifications("carol"), 1)
}

func TestApproveCreatesOneConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)

	resp, err := f.protocol.Respond(ctx, "bob", req.ID, true)
	require.NoError(t, err)
	assert.True(t, resp.Approved)
	assert.Equal(t, models.NewPair("alice", "bob"), resp.Pair)
	require.NotNil(t, resp.Shared)
	assert.Equal(t, "alice", resp.Shared.Recipient)
	assert.Equal(t, "bob", resp.Shared.From)
	assert.Equal(t, "bob@gmail.com", resp.Shared.Email)
	assert.Equal(t, "0123456789", resp.Shared.Phone)

	_, err = f.protocol.Respond(ctx, "bob", req.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)

	assert.Empty(t, f.protocol.Notifications("bob"))
	alice := f.protocol.Notifications("alice")
	require.Len(t, alice, 1)
	assert.Equal(t, models.KindContactShared, alice[0].Kind)

	assert.True(t, f.protocol.Connected("bob", "alice"))
	assert.Equal(t, []string{"bob"}, f.protocol.Connections("alice"))
	assert.Equal(t, []string{"alice"}, f.protocol.Connections("bob"))
	assert.Len(t, f.repo.connections, 1)
	assert.Equal(t, 1, f.opener.opens[resp.Pair])
}

func TestApproveExistingConnectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	first, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Respond(ctx, "bob", first.ID, true)
	require.NoError(t, err)

	second, err := f.protocol.Request(ctx, "alice", "bob", "rust")
	require.NoError(t, err)
	_, err = f.protocol.Respond(ctx, "bob", second.ID, true)
	require.NoError(t, err)

	assert.Len(t, f.protocol.Pairs(), 1)
	assert.Len(t, f.protocol.Notifications("alice"), 2)
}

func TestDeclineLeavesNoConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)

	resp, err := f.protocol.Respond(ctx, "bob", req.ID, false)
	require.NoError(t, err)
	assert.False(t, resp.Approved)
	assert.Nil(t, resp.Shared)

	assert.Empty(t, f.protocol.Notifications("bob"))
	assert.Empty(t, f.protocol.Notifications("alice"))
	assert.False(t, f.protocol.Connected("alice", "bob"))
	assert.Empty(t, f.repo.connections)
	assert.Empty(t, f.opener.opens)

	_, err = f.protocol.Respond(ctx, "bob", req.ID, false)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)

	_, err = f.protocol.Request(ctx, "alice", "bob", "go")
	assert.NoError(t, err)
}

func TestRespondRejectsForeignAndInformational(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)

	_, err = f.protocol.Respond(ctx, "carol", req.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)
	_, err = f.protocol.Respond(ctx, "bob", 999, true)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)

	_, err = f.protocol.Respond(ctx, "bob", req.ID, true)
	require.NoError(t, err)
	shared := f.protocol.Notifications("alice")[0]
	_, err = f.protocol.Respond(ctx, "alice", shared.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)
}

func TestDismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	assert.ErrorIs(t, f.protocol.Dismiss(ctx, "bob", req.ID), models.ErrInvalidNotification)

	_, err = f.protocol.Respond(ctx, "bob", req.ID, true)
	require.NoError(t, err)
	shared := f.protocol.Notifications("alice")[0]

	require.NoError(t, f.protocol.Dismiss(ctx, "alice", shared.ID))
	assert.Empty(t, f.protocol.Notifications("alice"))
	assert.ErrorIs(t, f.protocol.Dismiss(ctx, "alice", shared.ID), models.ErrInvalidNotification)
}

func TestAnnounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sent, err := f.protocol.Announce(ctx, []string{"alice", "bob"}, "maintenance tonight")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, "bob", sent[1].Recipient)
	assert.NotEqual(t, sent[0].ID, sent[1].ID)

	for _, user := range []string{"alice", "bob"} {
		list := f.protocol.Notifications(user)
		require.Len(t, list, 1)
		assert.Equal(t, models.KindText, list[0].Kind)
		assert.Equal(t, "maintenance tonight", list[0].Text)
	}
}

func TestNotificationsIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)

	list := f.protocol.Notifications("bob")
	list[0].From = "mallory"

	again := f.protocol.Notifications("bob")
	require.Len(t, again, 1)
	assert.Equal(t, "alice", again[0].From)
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.repo.fail = true

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	var perr *models.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, f.protocol.Notifications("bob"), 1)

	_, err = f.protocol.Respond(ctx, "bob", req.ID, true)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "persistence", models.Code(err))
	assert.True(t, f.protocol.Connected("alice", "bob"))
	assert.Equal(t, 1, f.opener.opens[models.NewPair("alice", "bob")])

	f.repo.fail = false
	require.NoError(t, f.protocol.Flush(ctx))
	assert.Len(t, f.repo.connections, 1)
	assert.Len(t, f.repo.notifications["alice"], 1)
	assert.Empty(t, f.repo.notifications["bob"])
}

func TestLoadContinuesIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Request(ctx, "carol", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Respond(ctx, "bob", req.ID, true)
	require.NoError(t, err)

	reloaded := New(f.repo, contacts{}, f.opener)
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, f.protocol.Notifications("bob"), reloaded.Notifications("bob"))
	assert.Equal(t, f.protocol.Notifications("alice"), reloaded.Notifications("alice"))
	assert.True(t, reloaded.Connected("alice", "bob"))

	next, err := reloaded.Request(ctx, "dave", "bob", "go")
	require.NoError(t, err)
	for _, n := range f.protocol.Notifications("alice") {
		assert.Greater(t, next.ID, n.ID)
	}
	for _, n := range f.protocol.Notifications("bob") {
		assert.Greater(t, next.ID, n.ID)
	}
}

func TestLoadNeverReusesConsumedIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	req, err := f.protocol.Request(ctx, "alice", "bob", "go")
	require.NoError(t, err)
	_, err = f.protocol.Respond(ctx, "bob", req.ID, false)
	require.NoError(t, err)
	require.Empty(t, f.repo.notifications["bob"])

	reloaded := New(f.repo, contacts{}, f.opener)
	require.NoError(t, reloaded.Load(ctx))

	next, err := reloaded.Request(ctx, "carol", "bob", "go")
	require.NoError(t, err)
	assert.Greater(t, next.ID, req.ID)

	_, err = reloaded.Respond(ctx, "bob", req.ID, true)
	assert.ErrorIs(t, err, models.ErrInvalidNotification)
	assert.False(t, reloaded.Connected("bob", "carol"))
}

func TestConcurrentRequestsKeepOrderPerRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup
	requesters := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, r := range requesters {
		wg.Add(1)
		go func(r string) {
			defer wg.Done()
			f.protocol.Request(ctx, r, "bob", "go")
		}(r)
	}
	wg.Wait()

	list := f.protocol.Notifications("bob")
	require.Len(t, list, len(requesters))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}
