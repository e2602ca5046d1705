package rooms

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voiceloft/internal/configstore"
	"voiceloft/internal/platform"
	"voiceloft/internal/platform/platformtest"
)

func TestIdleRoomDeletedAfterTimeout(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	env.fake.LeaveVoice(alice.ID)
	env.mgr.Tick(context.Background())
	if room.IdleSince().IsZero() {
		t.Fatal("idle timer should start when the room empties")
	}

	env.clock.Advance(400 * time.Millisecond)
	env.mgr.Tick(context.Background())
	if !room.Working() {
		t.Fatal("room deleted before the timeout elapsed")
	}

	env.clock.Advance(200 * time.Millisecond)
	env.mgr.Tick(context.Background())
	if room.Working() {
		t.Fatal("room should be deleted after the timeout")
	}
	if _, ok := env.fake.Channel(room.ChannelID()); ok {
		t.Fatal("channel should be deleted on the platform")
	}
	if env.mgr.RoomForChannel(room.ChannelID()) != nil {
		t.Fatal("room should leave the registry")
	}
}

func TestOccupantResetsIdleTimer(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	env.fake.LeaveVoice(alice.ID)
	env.mgr.Tick(context.Background())
	if room.IdleSince().IsZero() {
		t.Fatal("idle timer should start")
	}

	env.fake.JoinVoice(alice.ID, room.ChannelID())
	env.clock.Advance(time.Hour)
	env.mgr.Tick(context.Background())
	if !room.IdleSince().IsZero() {
		t.Fatal("idle timer should reset while occupied")
	}
	if !room.Working() {
		t.Fatal("occupied room must survive any amount of wall time")
	}
}

func TestDeleteRetriesOnPlatformFailure(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	env.fake.DeleteFailures = 2
	room.Delete(context.Background(), false)

	if got := env.fake.DeleteCalls(); got != 3 {
		t.Fatalf("DeleteCalls = %d, want 3", got)
	}
	if _, ok := env.fake.Channel(room.ChannelID()); ok {
		t.Fatal("third attempt should have deleted the channel")
	}
}

func TestDeleteNeverRollsBackRemoval(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	env.fake.DeleteFailures = 3
	room.Delete(context.Background(), false)

	if room.Working() {
		t.Fatal("room must stop working even when every delete attempt fails")
	}
	if env.mgr.RoomForChannel(room.ChannelID()) != nil {
		t.Fatal("room must leave the registry even when deletes fail")
	}

	// A second delete is a no-op: no extra platform calls, no double count.
	room.Delete(context.Background(), false)
	if got := env.fake.DeleteCalls(); got != 3 {
		t.Fatalf("DeleteCalls = %d after repeat delete, want 3", got)
	}
	if got := env.rec.RoomEventCounts()["deleted"]; got != 1 {
		t.Fatalf("deleted events = %d, want 1", got)
	}
}

func TestTransferMovesOwnershipAndAppliesConfig(t *testing.T) {
	fake := platformtest.NewFake()
	store := configstore.NewMemoryStore()
	bobKey := configstore.Key{Community: testCommunity, Category: testCategory, Owner: "201"}
	if err := store.Put(context.Background(), bobKey, configstore.RoomConfig{
		Name:   "bobs den",
		Blocks: []string{"203"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	env := newEnv(t, fake, store, testGroupDef())
	env.clock.now = time.Now()
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	fake.AddMember(testCommunity, bob)
	fake.JoinVoice(bob.ID, room.ChannelID())
	bob.VoiceChannelID = room.ChannelID()

	if err := room.Transfer(context.Background(), bob); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if room.OwnerID() != bob.ID {
		t.Fatalf("owner = %s, want %s", room.OwnerID(), bob.ID)
	}
	channel, _ := fake.Channel(room.ChannelID())
	if channel.Name != "bobs den" {
		t.Fatalf("channel name = %q, want new owner's stored name", channel.Name)
	}
	if !room.hasBlock("203") {
		t.Fatal("restriction sets should reseed from the new owner's config")
	}
	overwrite, ok := overwriteFor(t, env, room.ChannelID(), bob.ID)
	if !ok || !overwrite.Allow.Has(platform.PermManageChannel) {
		t.Fatal("new owner should hold the manage grant")
	}
}

func TestTransferCooldownBlocksRepeatTransfers(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	env.clock.now = time.Now()
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	env.fake.AddMember(testCommunity, bob)
	env.fake.JoinVoice(bob.ID, room.ChannelID())
	bob.VoiceChannelID = room.ChannelID()

	if err := room.Transfer(context.Background(), bob); err != nil {
		t.Fatalf("first Transfer: %v", err)
	}

	alice.VoiceChannelID = room.ChannelID()
	env.fake.JoinVoice(alice.ID, room.ChannelID())
	err := room.Transfer(context.Background(), alice)
	if err == nil || !strings.Contains(err.Error(), "try again") {
		t.Fatalf("expected cooldown rejection, got %v", err)
	}
	if room.OwnerID() != bob.ID {
		t.Fatalf("cooldown rejection must not change the owner, got %s", room.OwnerID())
	}
}

func TestTransferTimesOutOnSlowEdit(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	env.clock.now = time.Now()
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	env.fake.AddMember(testCommunity, bob)
	env.fake.JoinVoice(bob.ID, room.ChannelID())
	bob.VoiceChannelID = room.ChannelID()

	env.fake.EditDelay = 300 * time.Millisecond
	err := room.Transfer(context.Background(), bob)
	if !errors.Is(err, errTransferSlow) {
		t.Fatalf("expected slow-edit error, got %v", err)
	}
	if room.OwnerID() != alice.ID {
		t.Fatal("timed-out transfer must not change the owner")
	}
}

func TestReconcileOwnerFollowsOverwrites(t *testing.T) {
	fake := platformtest.NewFake()
	store := configstore.NewMemoryStore()
	bobKey := configstore.Key{Community: testCommunity, Category: testCategory, Owner: "201"}
	if err := store.Put(context.Background(), bobKey, configstore.RoomConfig{Mutes: []string{"202"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	env := newEnv(t, fake, store, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	fake.AddMember(testCommunity, platform.Member{ID: "201", DisplayName: "bob"})
	fake.SetOverwritesDirect(room.ChannelID(), []platform.Overwrite{
		{UserID: "201", Allow: platform.OwnerGrant},
	})

	if err := room.ReconcileOwner(context.Background()); err != nil {
		t.Fatalf("ReconcileOwner: %v", err)
	}
	if room.OwnerID() != "201" {
		t.Fatalf("owner = %s, want 201", room.OwnerID())
	}
	if !room.hasMute("202") {
		t.Fatal("restriction sets should reseed from the derived owner's config")
	}
}

func TestUpdateConfigPersistsUnderDerivedOwner(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)
	room.addBlock("201")
	env.fake.AddMember(testCommunity, platform.Member{ID: "201", DisplayName: "bob"})

	if err := room.UpdateConfig(context.Background()); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	key := configstore.Key{Community: testCommunity, Category: testCategory, Owner: alice.ID}
	config, found, err := env.store.Get(context.Background(), key)
	if err != nil || !found {
		t.Fatalf("stored config missing: found=%v err=%v", found, err)
	}
	if len(config.Blocks) != 1 || config.Blocks[0] != "201" {
		t.Fatalf("stored blocks = %v, want [201]", config.Blocks)
	}
	if config.Name == "" {
		t.Fatal("stored config should carry the channel name")
	}
}

func TestBlockDisconnectsConnectedUser(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	env.fake.AddMember(testCommunity, bob)
	env.fake.JoinVoice(bob.ID, room.ChannelID())
	bob.VoiceChannelID = room.ChannelID()

	if err := room.Block(context.Background(), bob); err != nil {
		t.Fatalf("Block: %v", err)
	}
	overwrite, ok := overwriteFor(t, env, room.ChannelID(), bob.ID)
	if !ok || !overwrite.Deny.Has(platform.PermConnect) {
		t.Fatal("block overwrite not applied")
	}
	disconnected := env.fake.Disconnected()
	if len(disconnected) != 1 || disconnected[0] != bob.ID {
		t.Fatalf("disconnects = %v, want [201]", disconnected)
	}
}

func TestCheckBlockReappliesPersistentRestrictions(t *testing.T) {
	env := newEnv(t, nil, nil, testGroupDef())
	alice := platform.Member{ID: "100", DisplayName: "alice"}
	room := env.provision(t, alice)
	room.addBlock("201")
	room.addMute("202")

	bob := platform.Member{ID: "201", DisplayName: "bob"}
	carol := platform.Member{ID: "202", DisplayName: "carol"}
	env.fake.AddMember(testCommunity, bob)
	env.fake.AddMember(testCommunity, carol)

	room.CheckBlock(context.Background(), bob)
	room.CheckBlock(context.Background(), carol)

	overwrite, ok := overwriteFor(t, env, room.ChannelID(), bob.ID)
	if !ok || !overwrite.Deny.Has(platform.PermConnect) {
		t.Fatal("block not re-applied on rejoin")
	}
	overwrite, ok = overwriteFor(t, env, room.ChannelID(), carol.ID)
	if !ok || !overwrite.Deny.Has(platform.PermSpeak) {
		t.Fatal("mute not re-applied on rejoin")
	}
}
