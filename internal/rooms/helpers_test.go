package rooms

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"voiceloft/internal/configstore"
	"voiceloft/internal/observability/metrics"
	"voiceloft/internal/platform"
	"voiceloft/internal/platform/platformtest"
)

const (
	testCommunity = "guild-1"
	testCategory  = "cat-1"
	testLobby     = "lobby"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testGroupDef() GroupDef {
	return GroupDef{
		CommunityID:     testCommunity,
		CategoryID:      testCategory,
		TriggerIDs:      []string{testLobby},
		DeleteTimeoutMS: 500,
	}
}

type testEnv struct {
	fake  *platformtest.Fake
	store *configstore.MemoryStore
	rec   *metrics.Recorder
	clock *fakeClock
	mgr   *Manager
}

// newEnv seeds the lobby channel and builds a manager over the fake platform.
// Pre-existing channels and members must be added to fake before the call so
// the startup scan can adopt them.
func newEnv(t *testing.T, fake *platformtest.Fake, store *configstore.MemoryStore, def GroupDef) *testEnv {
	t.Helper()
	if fake == nil {
		fake = platformtest.NewFake()
	}
	if store == nil {
		store = configstore.NewMemoryStore()
	}
	if _, ok := fake.Channel(testLobby); !ok {
		fake.AddChannel(platform.Channel{
			ID:          testLobby,
			CommunityID: testCommunity,
			ParentID:    testCategory,
			Name:        "Create a room",
			Voice:       true,
		})
	}
	clock := &fakeClock{now: time.Now()}
	rec := metrics.New()
	mgr, err := NewManager(context.Background(), ManagerConfig{
		Client:      fake,
		Store:       store,
		Logger:      testLogger(),
		Metrics:     rec,
		Groups:      []GroupDef{def},
		Now:         clock.Now,
		EditTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &testEnv{fake: fake, store: store, rec: rec, clock: clock, mgr: mgr}
}

func (e *testEnv) group() *Group {
	return e.mgr.Groups()[0]
}

// provision parks the member in the lobby, runs one tick, and returns their
// room.
func (e *testEnv) provision(t *testing.T, member platform.Member) *Room {
	t.Helper()
	e.fake.AddMember(testCommunity, member)
	e.fake.JoinVoice(member.ID, testLobby)
	e.mgr.Tick(context.Background())
	room := e.group().roomByOwner(member.ID)
	if room == nil {
		t.Fatalf("no room provisioned for %s", member.ID)
	}
	return room
}

func (e *testEnv) lastMessage(t *testing.T, channelID string) string {
	t.Helper()
	sent := e.fake.SentMessages(channelID)
	if len(sent) == 0 {
		t.Fatalf("no messages sent to %s", channelID)
	}
	return sent[len(sent)-1]
}

func (e *testEnv) run(t *testing.T, room *Room, invoker platform.Member, text string) string {
	t.Helper()
	room.RunCommand(context.Background(), text, invoker)
	return e.lastMessage(t, room.ChannelID())
}

func overwriteFor(t *testing.T, env *testEnv, channelID, userID string) (platform.Overwrite, bool) {
	t.Helper()
	overwrites, err := env.fake.ChannelOverwrites(context.Background(), channelID)
	if err != nil {
		t.Fatalf("ChannelOverwrites: %v", err)
	}
	for _, overwrite := range overwrites {
		if overwrite.UserID == userID {
			return overwrite, true
		}
	}
	return platform.Overwrite{}, false
}
