package rooms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voiceloft/internal/configstore"
	"voiceloft/internal/platform"
	"voiceloft/internal/platform/platformtest"
)

func TestNewManagerRequiresGroups(t *testing.T) {
	_, err := NewManager(context.Background(), ManagerConfig{
		Client: platformtest.NewFake(),
		Store:  configstore.NewMemoryStore(),
		Logger: testLogger(),
	})
	if !errors.Is(err, ErrNoGroups) {
		t.Fatalf("err = %v, want ErrNoGroups", err)
	}
}

func TestNewManagerAdoptsExistingRooms(t *testing.T) {
	fake := platformtest.NewFake()
	store := configstore.NewMemoryStore()

	fake.AddMember(testCommunity, platform.Member{ID: "100", DisplayName: "alice"})
	survivor := fake.AddChannel(platform.Channel{
		ID:          "room-1",
		CommunityID: testCommunity,
		ParentID:    testCategory,
		Name:        "alice",
		Voice:       true,
	})
	fake.SetOverwritesDirect(survivor.ID, []platform.Overwrite{
		{UserID: "100", Allow: platform.OwnerGrant},
	})
	key := configstore.Key{Community: testCommunity, Category: testCategory, Owner: "100"}
	if err := store.Put(context.Background(), key, configstore.RoomConfig{Blocks: []string{"201"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	env := newEnv(t, fake, store, testGroupDef())

	room := env.mgr.RoomForChannel(survivor.ID)
	if room == nil {
		t.Fatal("surviving room was not adopted")
	}
	if room.OwnerID() != "100" {
		t.Fatalf("adopted owner = %s, want 100", room.OwnerID())
	}
	if !room.hasBlock("201") {
		t.Fatal("adopted room should seed restrictions from the store")
	}
	if got := env.rec.RoomEventCounts()["adopted"]; got != 1 {
		t.Fatalf("adopted events = %d, want 1", got)
	}
}

func TestNewManagerLeavesUnownedChannelsAlone(t *testing.T) {
	fake := platformtest.NewFake()
	fake.AddMember(testCommunity, platform.Member{ID: "900", DisplayName: "robo", Bot: true})
	orphan := fake.AddChannel(platform.Channel{
		ID:          "room-orphan",
		CommunityID: testCommunity,
		ParentID:    testCategory,
		Voice:       true,
	})
	fake.SetOverwritesDirect(orphan.ID, []platform.Overwrite{
		{UserID: "900", Allow: platform.OwnerGrant},
	})

	env := newEnv(t, fake, nil, testGroupDef())

	if env.mgr.RoomForChannel(orphan.ID) != nil {
		t.Fatal("channel without a non-bot manage grant must not be adopted")
	}
	if _, ok := fake.Channel(orphan.ID); !ok {
		t.Fatal("unowned channel must not be deleted")
	}
}

func TestHandleMessageDispatchesCommand(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	env.mgr.HandleMessage(room.ChannelID(), alice.ID, "!help")
	env.mgr.RunOnce(context.Background())

	reply := env.lastMessage(t, room.ChannelID())
	if !strings.Contains(reply, "!ban") {
		t.Fatalf("help not dispatched, last message %q", reply)
	}
}

func TestHandleMessageIgnoresNonCommands(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	env.mgr.HandleMessage("anywhere", "100", "hello there")
	if env.mgr.QueueDepth() != 0 {
		t.Fatal("plain chatter must not be queued")
	}
}

func TestHandleChannelDeletedDropsRoomWithoutRemoteDelete(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)
	before := env.fake.DeleteCalls()

	env.mgr.HandleChannelDeleted(room.ChannelID())
	env.mgr.RunOnce(context.Background())

	if env.mgr.RoomForChannel(room.ChannelID()) != nil {
		t.Fatal("deleted channel should leave the registry")
	}
	if env.fake.DeleteCalls() != before {
		t.Fatal("externally deleted channel must not trigger a remote delete")
	}
}

func TestHandleChannelUpdatedPersistsNewSettings(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	updated, _ := env.fake.Channel(room.ChannelID())
	updated.Name = "renamed den"
	updated.UserLimit = 7
	env.mgr.HandleChannelUpdated(updated)
	env.mgr.RunOnce(context.Background())

	key := configstore.Key{Community: testCommunity, Category: testCategory, Owner: alice.ID}
	config, found, err := env.store.Get(context.Background(), key)
	if err != nil || !found {
		t.Fatalf("config not persisted: found=%v err=%v", found, err)
	}
	if config.Name != "renamed den" || config.UserLimit != 7 {
		t.Fatalf("persisted config = %+v", config)
	}
}

func TestHandleMemberJoinedReappliesRestrictions(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)
	room.addBlock("201")

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	env.fake.AddMember(testCommunity, bob)
	env.mgr.HandleMemberJoined(testCommunity, bob)
	env.mgr.RunOnce(context.Background())

	overwrite, ok := overwriteFor(t, env, room.ChannelID(), bob.ID)
	if !ok || !overwrite.Deny.Has(platform.PermConnect) {
		t.Fatal("rejoin must re-apply the persistent block")
	}
}

func TestQueueDropsTasksWhenFull(t *testing.T) {
	queue := newTaskQueue(1, testLogger())
	ran := 0
	queue.Enqueue(func(context.Context) { ran++ })
	queue.Enqueue(func(context.Context) { ran++ })

	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	queue.Drain(context.Background())
	if ran != 1 {
		t.Fatalf("tasks run = %d, want 1 (overflow dropped)", ran)
	}
	if queue.Len() != 0 {
		t.Fatal("drain should empty the queue")
	}
}

func TestSnapshotReportsRooms(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)
	room.addBlock("201")
	// Snapshots are published by the reconcile pass, not read live.
	env.mgr.Tick(context.Background())

	snapshot := env.mgr.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot rooms = %d, want 1", len(snapshot))
	}
	status := snapshot[0]
	if status.ChannelID != room.ChannelID() || status.OwnerID != alice.ID {
		t.Fatalf("snapshot = %+v", status)
	}
	if status.Blocked != 1 || status.Idle {
		t.Fatalf("snapshot = %+v", status)
	}
}

func TestSnapshotSafeForConcurrentReaders(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	// The ops server reads snapshots from HTTP handler goroutines while the
	// reconcile loop mutates rooms; readers must only ever see published
	// copies.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			for _, status := range env.mgr.Snapshot() {
				_ = status.ChannelID
			}
		}
	}()
	for i := 0; i < 50; i++ {
		env.mgr.Tick(context.Background())
	}
	env.mgr.HandleChannelDeleted(room.ChannelID())
	env.mgr.RunOnce(context.Background())
	<-done

	if got := env.mgr.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot rooms = %d after delete, want 0", len(got))
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	before := env.mgr.Snapshot()
	room.addBlock("201")
	env.mgr.Tick(context.Background())

	if before[0].Blocked != 0 {
		t.Fatal("an already-taken snapshot must not change under later reconcile passes")
	}
	if after := env.mgr.Snapshot(); after[0].Blocked != 1 {
		t.Fatalf("new snapshot blocked = %d, want 1", after[0].Blocked)
	}
}

func TestActiveRoomsGauge(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	if got := env.rec.ActiveRooms(); got != 1 {
		t.Fatalf("active rooms = %d, want 1", got)
	}
	room.Delete(context.Background(), false)
	if got := env.rec.ActiveRooms(); got != 0 {
		t.Fatalf("active rooms after delete = %d, want 0", got)
	}
}
