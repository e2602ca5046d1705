// Package rooms implements the lifecycle engine for ephemeral private voice
// channels: provisioning from lobby triggers, ownership and restriction
// tracking, chat command handling, and idle reclamation.
package rooms

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"voiceloft/internal/configstore"
	"voiceloft/internal/observability/metrics"
	"voiceloft/internal/platform"
)

// ErrNoGroups is returned when no configured group survives the startup scan.
var ErrNoGroups = errors.New("no room groups could be constructed")

const defaultEditTimeout = time.Second

// ManagerConfig wires a Manager's dependencies. Client, Store, and Groups are
// required; the rest default sensibly.
type ManagerConfig struct {
	Client  platform.Client
	Store   configstore.Store
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Groups  []GroupDef

	// Now is the clock used for idle and cooldown accounting.
	Now func() time.Time
	// EditTimeout bounds how long an ownership transfer waits on the
	// channel edit before reporting it as slow.
	EditTimeout time.Duration
	// QueueSize bounds the gateway event queue.
	QueueSize int
}

// Manager owns every room group and the event queue feeding them. All room
// mutation happens on the caller's reconcile loop via RunOnce, so the engine
// itself is lock-free; readers on other goroutines get the published status
// snapshot instead of touching live rooms.
type Manager struct {
	groups  []*Group
	queue   *taskQueue
	logger  *slog.Logger
	metrics *metrics.Recorder

	// status holds the room snapshot last published by the reconcile
	// loop. The slice behind the pointer is never mutated after the store.
	status atomic.Pointer[[]RoomStatus]
}

// NewManager builds the groups and adopts any surviving rooms found in their
// categories. Groups whose category cannot be scanned are skipped; if none
// survive, ErrNoGroups is returned and the caller should treat startup as
// failed.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	editTimeout := cfg.EditTimeout
	if editTimeout <= 0 {
		editTimeout = defaultEditTimeout
	}

	m := &Manager{
		queue:   newTaskQueue(cfg.QueueSize, logger),
		logger:  logger,
		metrics: rec,
	}

	for _, def := range cfg.Groups {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		group := newGroup(def, cfg.Client, cfg.Store, logger, rec, now, editTimeout)
		channels, err := cfg.Client.CategoryChannels(ctx, def.CommunityID, def.CategoryID)
		if err != nil {
			group.logger.Warn("skipping group, category scan failed", "error", err)
			continue
		}
		for _, channel := range channels {
			if !channel.Voice || group.isTrigger(channel.ID) {
				continue
			}
			ownerID := detectOwner(ctx, group, channel)
			if ownerID == "" {
				group.logger.Warn("leaving unowned channel alone", "channel_id", channel.ID)
				continue
			}
			config, _, err := group.store.Get(ctx, group.Key(ownerID))
			if err != nil {
				group.logger.Warn("adopting room without stored config",
					"channel_id", channel.ID,
					"error", err,
				)
			}
			group.addRoom(channel, ownerID, config.BlockSet(), config.MuteSet())
			rec.RoomAdopted()
			group.logger.Info("adopted existing room", "channel_id", channel.ID, "owner_id", ownerID)
		}
		m.groups = append(m.groups, group)
	}
	if len(m.groups) == 0 {
		return nil, ErrNoGroups
	}
	m.publishStatus()
	return m, nil
}

// detectOwner infers a channel's owner from its overwrites: the first
// non-bot member holding the manage-channel grant.
func detectOwner(ctx context.Context, group *Group, channel platform.Channel) string {
	overwrites, err := group.client.ChannelOverwrites(ctx, channel.ID)
	if err != nil {
		group.logger.Warn("overwrite scan failed", "channel_id", channel.ID, "error", err)
		return ""
	}
	for _, overwrite := range overwrites {
		if !overwrite.Allow.Has(platform.PermManageChannel) {
			continue
		}
		member, err := group.client.Member(ctx, group.communityID, overwrite.UserID)
		if err != nil || member.Bot {
			continue
		}
		return member.ID
	}
	return ""
}

// Groups returns the live groups in configuration order.
func (m *Manager) Groups() []*Group {
	return m.groups
}

// RoomForChannel finds the tracked room for a channel across all groups.
func (m *Manager) RoomForChannel(channelID string) *Room {
	for _, group := range m.groups {
		if room := group.RoomForChannel(channelID); room != nil {
			return room
		}
	}
	return nil
}

// QueueDepth reports how many gateway events are waiting.
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

// HandleMessage queues a chat message for command dispatch. Messages that do
// not carry the command prefix are dropped at the door.
func (m *Manager) HandleMessage(channelID, authorID, content string) {
	if !strings.HasPrefix(content, "!") {
		return
	}
	m.queue.Enqueue(func(ctx context.Context) {
		room := m.RoomForChannel(channelID)
		if room == nil {
			return
		}
		invoker, err := room.group.resolveMember(ctx, authorID)
		if err != nil {
			m.logger.Warn("command author lookup failed",
				"channel_id", channelID,
				"user_id", authorID,
				"error", err,
			)
			return
		}
		if invoker.Bot {
			return
		}
		room.RunCommand(ctx, content, invoker)
	})
}

// HandleChannelDeleted queues removal of a room whose channel was deleted
// out from under the engine.
func (m *Manager) HandleChannelDeleted(channelID string) {
	m.queue.Enqueue(func(ctx context.Context) {
		if room := m.RoomForChannel(channelID); room != nil {
			room.Delete(ctx, true)
		}
	})
}

// HandleChannelUpdated queues a settings refresh for an externally edited
// room, persisting the new settings under the derived owner.
func (m *Manager) HandleChannelUpdated(channel platform.Channel) {
	m.queue.Enqueue(func(ctx context.Context) {
		room := m.RoomForChannel(channel.ID)
		if room == nil {
			return
		}
		room.setChannel(channel)
		if err := room.UpdateConfig(ctx); err != nil {
			m.logger.Warn("config update failed", "channel_id", channel.ID, "error", err)
		}
	})
}

// HandleMemberJoined queues a restriction re-check for a member who joined
// or rejoined a community.
func (m *Manager) HandleMemberJoined(communityID string, member platform.Member) {
	m.queue.Enqueue(func(ctx context.Context) {
		for _, group := range m.groups {
			if group.communityID != communityID {
				continue
			}
			group.CheckBlock(ctx, member)
		}
	})
}

// Tick runs one reconcile pass over every group and republishes the status
// snapshot.
func (m *Manager) Tick(ctx context.Context) {
	for _, group := range m.groups {
		group.Tick(ctx)
	}
	m.publishStatus()
}

// RunOnce drains queued gateway events and then reconciles. This is the
// engine's single mutation entry point.
func (m *Manager) RunOnce(ctx context.Context) {
	m.queue.Drain(ctx)
	m.Tick(ctx)
}

// RoomStatus is the ops-facing snapshot of one live room.
type RoomStatus struct {
	CommunityID string     `json:"communityId"`
	CategoryID  string     `json:"categoryId"`
	ChannelID   string     `json:"channelId"`
	Name        string     `json:"name"`
	OwnerID     string     `json:"ownerId"`
	Blocked     int        `json:"blocked"`
	Muted       int        `json:"muted"`
	Idle        bool       `json:"idle"`
	IdleSince   *time.Time `json:"idleSince,omitempty"`
}

// Snapshot reports every tracked room for the ops API. It returns the
// snapshot published by the last reconcile pass and is safe to call from any
// goroutine; it never reads live room state.
func (m *Manager) Snapshot() []RoomStatus {
	if published := m.status.Load(); published != nil {
		return *published
	}
	return nil
}

// publishStatus rebuilds the status snapshot from the live rooms. Only the
// reconcile loop may call it.
func (m *Manager) publishStatus() {
	var out []RoomStatus
	for _, group := range m.groups {
		for _, room := range group.Rooms() {
			status := RoomStatus{
				CommunityID: group.communityID,
				CategoryID:  group.categoryID,
				ChannelID:   room.ChannelID(),
				Name:        room.Name(),
				OwnerID:     room.OwnerID(),
				Blocked:     room.BlockCount(),
				Muted:       room.MuteCount(),
				Idle:        !room.IdleSince().IsZero(),
			}
			if status.Idle {
				idleSince := room.IdleSince()
				status.IdleSince = &idleSince
			}
			out = append(out, status)
		}
	}
	m.status.Store(&out)
}
