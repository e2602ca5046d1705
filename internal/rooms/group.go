package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"voiceloft/internal/configstore"
	"voiceloft/internal/observability/metrics"
	"voiceloft/internal/platform"
)

// Group reconciles one category of private rooms: it watches the trigger
// channels for waiting members, provisions rooms for them, and ticks the
// rooms it tracks. Rooms are keyed by channel ID.
type Group struct {
	communityID   string
	categoryID    string
	triggers      []string
	deleteTimeout time.Duration
	multiRoom     bool
	ignore        map[string]struct{}

	client      platform.Client
	store       configstore.Store
	logger      *slog.Logger
	metrics     *metrics.Recorder
	now         func() time.Time
	editTimeout time.Duration

	rooms map[string]*Room
}

func newGroup(def GroupDef, client platform.Client, store configstore.Store, logger *slog.Logger, rec *metrics.Recorder, now func() time.Time, editTimeout time.Duration) *Group {
	ignore := make(map[string]struct{}, len(def.Ignore))
	for _, id := range def.Ignore {
		ignore[id] = struct{}{}
	}
	return &Group{
		communityID:   def.CommunityID,
		categoryID:    def.CategoryID,
		triggers:      append([]string(nil), def.TriggerIDs...),
		deleteTimeout: def.DeleteTimeout(),
		multiRoom:     def.MultiRoom,
		ignore:        ignore,
		client:        client,
		store:         store,
		logger: logger.With(
			"community_id", def.CommunityID,
			"category_id", def.CategoryID,
		),
		metrics:     rec,
		now:         now,
		editTimeout: editTimeout,
		rooms:       make(map[string]*Room),
	}
}

// CommunityID returns the community this group reconciles.
func (g *Group) CommunityID() string { return g.communityID }

// CategoryID returns the category this group reconciles.
func (g *Group) CategoryID() string { return g.categoryID }

// Key derives the config store key for an owner in this group.
func (g *Group) Key(ownerID string) configstore.Key {
	return configstore.Key{Community: g.communityID, Category: g.categoryID, Owner: ownerID}
}

func (g *Group) isIgnored(id string) bool {
	_, ok := g.ignore[id]
	return ok
}

func (g *Group) isTrigger(id string) bool {
	for _, trigger := range g.triggers {
		if trigger == id {
			return true
		}
	}
	return false
}

func (g *Group) resolveMember(ctx context.Context, id string) (platform.Member, error) {
	return g.client.Member(ctx, g.communityID, id)
}

// addRoom registers a room for the channel, returning the existing room when
// the channel is already tracked.
func (g *Group) addRoom(channel platform.Channel, ownerID string, blocks, mutes map[string]struct{}) *Room {
	if existing, ok := g.rooms[channel.ID]; ok {
		return existing
	}
	room := newRoom(g, channel, ownerID, blocks, mutes)
	g.rooms[channel.ID] = room
	return room
}

func (g *Group) removeRoom(channelID string) {
	delete(g.rooms, channelID)
}

// RoomForChannel returns the tracked room for the channel, or nil.
func (g *Group) RoomForChannel(channelID string) *Room {
	return g.rooms[channelID]
}

func (g *Group) roomByOwner(ownerID string) *Room {
	for _, room := range g.Rooms() {
		if room.ownerID == ownerID {
			return room
		}
	}
	return nil
}

// Rooms returns the tracked rooms in stable channel-ID order.
func (g *Group) Rooms() []*Room {
	out := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].channel.ID < out[j].channel.ID })
	return out
}

// Tick provisions rooms for members waiting in the trigger channels and then
// advances every tracked room's idle timer.
func (g *Group) Tick(ctx context.Context) {
	for _, trigger := range g.triggers {
		members, err := g.client.VoiceMembers(ctx, trigger)
		if err != nil {
			g.logger.Warn("trigger channel poll failed", "channel_id", trigger, "error", err)
			continue
		}
		for _, member := range members {
			if member.Bot || g.isIgnored(member.ID) {
				continue
			}
			if err := g.provision(ctx, trigger, member); err != nil {
				g.logger.Error("room provisioning failed",
					"owner_id", member.ID,
					"error", err,
				)
			}
		}
	}
	for _, room := range g.Rooms() {
		room.Tick(ctx)
	}
}

// provision gives the member a room: their existing one in single-room mode,
// a fresh channel otherwise, and moves them out of the trigger channel.
func (g *Group) provision(ctx context.Context, trigger string, member platform.Member) error {
	config, _, err := g.store.Get(ctx, g.Key(member.ID))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var channel platform.Channel
	var existing bool
	if !g.multiRoom {
		if room := g.roomByOwner(member.ID); room != nil {
			channel = room.channel
			existing = true
		}
	}
	if !existing {
		channel, err = g.createChannel(ctx, member)
		if err != nil {
			return err
		}
	}

	// Only move the member if they are still waiting in the trigger; they
	// may have disconnected or wandered off since the poll.
	current, err := g.client.Member(ctx, g.communityID, member.ID)
	if err == nil && current.VoiceChannelID == trigger {
		if err := g.client.MoveMember(ctx, g.communityID, member.ID, channel.ID); err != nil {
			g.logger.Warn("failed to move member into room",
				"user_id", member.ID,
				"channel_id", channel.ID,
				"error", err,
			)
		}
	}

	room := g.addRoom(channel, member.ID, config.BlockSet(), config.MuteSet())
	if !existing {
		g.metrics.RoomCreated()
		hasMessages, err := g.client.HasMessages(ctx, channel.ID)
		if err == nil && !hasMessages {
			if err := room.SendWelcome(ctx); err != nil {
				g.logger.Warn("welcome message failed", "channel_id", channel.ID, "error", err)
			}
		}
	}
	return nil
}

// createChannel creates the member's channel from their stored settings. A
// stored config can carry state the platform rejects, so each failed attempt
// purges the config and retries from the defaults.
func (g *Group) createChannel(ctx context.Context, member platform.Member) (platform.Channel, error) {
	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		params, _, _, err := g.ownerChannelParams(ctx, member.ID, member.DisplayName)
		if err != nil {
			return platform.Channel{}, err
		}
		channel, err := g.client.CreateChannel(ctx, g.communityID, g.categoryID, params)
		if err == nil {
			return channel, nil
		}
		lastErr = err
		g.logger.Warn("channel create failed", "owner_id", member.ID, "attempt", attempt, "error", err)
		if err := g.store.Remove(ctx, g.Key(member.ID)); err != nil {
			g.logger.Warn("failed to purge config before retry", "owner_id", member.ID, "error", err)
		}
		if attempt < createAttempts {
			g.metrics.ObservePlatformRetry("create_channel")
		}
	}
	return platform.Channel{}, fmt.Errorf("create room for %s: %w", member.ID, lastErr)
}

// ownerChannelParams builds the channel parameters for a room owned by
// ownerID from their stored config, falling back to their display name. It
// also returns the restriction sets the config carried.
func (g *Group) ownerChannelParams(ctx context.Context, ownerID, defaultName string) (platform.ChannelParams, map[string]struct{}, map[string]struct{}, error) {
	config, found, err := g.store.Get(ctx, g.Key(ownerID))
	if err != nil {
		return platform.ChannelParams{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	blocks := config.BlockSet()
	mutes := config.MuteSet()

	name := config.Name
	if !found || name == "" {
		name = defaultName
	}
	name = norm.NFC.String(name)
	params := platform.ChannelParams{Name: &name}
	if config.UserLimit > 0 {
		limit := config.UserLimit
		params.UserLimit = &limit
	}
	if config.Bitrate > 0 {
		bitrate := config.Bitrate
		params.Bitrate = &bitrate
	}
	if config.RTCRegion != "" {
		region := config.RTCRegion
		params.RTCRegion = &region
	}
	if config.NSFW {
		nsfw := true
		params.NSFW = &nsfw
	}
	if config.VideoQuality > 0 {
		quality := config.VideoQuality
		params.VideoQuality = &quality
	}

	overwrites, err := g.restrictionOverwrites(ctx, ownerID, blocks, mutes)
	if err != nil {
		return platform.ChannelParams{}, nil, nil, err
	}
	params.Overwrites = overwrites
	return params, blocks, mutes, nil
}

// restrictionOverwrites renders the owner grant plus the deny entries for
// every blocked or muted user who is still a community member. Departed
// users are dropped here rather than carried as dangling overwrites.
func (g *Group) restrictionOverwrites(ctx context.Context, ownerID string, blocks, mutes map[string]struct{}) ([]platform.Overwrite, error) {
	union := make(map[string]struct{}, len(blocks)+len(mutes))
	for id := range blocks {
		union[id] = struct{}{}
	}
	for id := range mutes {
		union[id] = struct{}{}
	}
	ids := setToSlice(union)

	live := ids
	if len(ids) > 0 {
		filtered, err := g.client.FilterMembers(ctx, g.communityID, ids)
		if err != nil {
			return nil, fmt.Errorf("filter restricted users: %w", err)
		}
		live = filtered
		sort.Strings(live)
	}

	overwrites := []platform.Overwrite{{UserID: ownerID, Allow: platform.OwnerGrant}}
	for _, id := range live {
		var deny platform.Permissions
		if _, ok := blocks[id]; ok {
			deny |= blockDeny | platform.PermViewChannel
		}
		if _, ok := mutes[id]; ok {
			deny |= platform.PermSpeak
		}
		overwrites = append(overwrites, platform.Overwrite{UserID: id, Deny: deny})
	}
	return overwrites, nil
}

// CheckBlock fans a community re-join out to every tracked room so their
// persistent restrictions are re-applied.
func (g *Group) CheckBlock(ctx context.Context, member platform.Member) {
	for _, room := range g.Rooms() {
		room.CheckBlock(ctx, member)
	}
}
