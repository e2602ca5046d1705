package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"voiceloft/internal/configstore"
	"voiceloft/internal/platform"
)

const (
	createAttempts = 3
	deleteAttempts = 3

	// auditWindow bounds the channel-update audit scan used for the
	// transfer cooldown check.
	auditWindow = 50

	transferCooldown = 10 * time.Minute
)

// blockDeny is the overwrite mask applied to blocked users.
const blockDeny = platform.PermConnect | platform.PermSendMessages

var (
	errRoomClosing  = errors.New("this room is shutting down")
	errOwnerOnly    = errors.New("only the room owner can use this command")
	errTransferSlow = errors.New("the transfer is taking too long, try again later")
)

// Room tracks one live private voice channel: its owner, the restriction
// sets seeded from the owner's stored config, and the idle timer. Rooms are
// only touched from the manager's reconcile loop, so no locking is needed.
type Room struct {
	group   *Group
	channel platform.Channel
	ownerID string
	blocks  map[string]struct{}
	mutes   map[string]struct{}

	idleSince time.Time
	working   bool

	logger *slog.Logger
}

func newRoom(group *Group, channel platform.Channel, ownerID string, blocks, mutes map[string]struct{}) *Room {
	if blocks == nil {
		blocks = make(map[string]struct{})
	}
	if mutes == nil {
		mutes = make(map[string]struct{})
	}
	return &Room{
		group:   group,
		channel: channel,
		ownerID: ownerID,
		blocks:  blocks,
		mutes:   mutes,
		working: true,
		logger:  group.logger.With("channel_id", channel.ID),
	}
}

// ChannelID returns the ID of the backing voice channel.
func (r *Room) ChannelID() string { return r.channel.ID }

// OwnerID returns the current owner's user ID.
func (r *Room) OwnerID() string { return r.ownerID }

// Name returns the channel's display name.
func (r *Room) Name() string { return r.channel.Name }

// Working reports whether the room still accepts operations.
func (r *Room) Working() bool { return r.working }

// IdleSince returns the time the room was last observed empty, or the zero
// time while it is occupied.
func (r *Room) IdleSince() time.Time { return r.idleSince }

// BlockCount returns the number of permanently blocked users.
func (r *Room) BlockCount() int { return len(r.blocks) }

// MuteCount returns the number of permanently muted users.
func (r *Room) MuteCount() int { return len(r.mutes) }

func (r *Room) setChannel(channel platform.Channel) {
	r.channel = channel
}

func (r *Room) hasBlock(id string) bool { _, ok := r.blocks[id]; return ok }
func (r *Room) hasMute(id string) bool  { _, ok := r.mutes[id]; return ok }

func (r *Room) addBlock(id string)    { r.blocks[id] = struct{}{} }
func (r *Room) removeBlock(id string) { delete(r.blocks, id) }
func (r *Room) clearBlocks()          { r.blocks = make(map[string]struct{}) }

func (r *Room) addMute(id string)    { r.mutes[id] = struct{}{} }
func (r *Room) removeMute(id string) { delete(r.mutes, id) }
func (r *Room) clearMutes()          { r.mutes = make(map[string]struct{}) }

func (r *Room) ensureWorking() error {
	if !r.working {
		return errRoomClosing
	}
	return nil
}

// Occupants lists the members currently connected to the room's channel.
func (r *Room) Occupants(ctx context.Context) ([]platform.Member, error) {
	members, err := r.group.client.VoiceMembers(ctx, r.channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list occupants: %w", err)
	}
	return members, nil
}

// Tick advances the idle timer from the current occupancy and reclaims the
// room once it has been empty longer than the group's delete timeout.
func (r *Room) Tick(ctx context.Context) {
	if !r.working {
		return
	}
	members, err := r.group.client.VoiceMembers(ctx, r.channel.ID)
	if err != nil {
		r.logger.Warn("occupancy poll failed", "error", err)
		return
	}
	now := r.group.now()
	switch {
	case len(members) == 0 && r.idleSince.IsZero():
		r.idleSince = now
	case len(members) > 0 && !r.idleSince.IsZero():
		r.idleSince = time.Time{}
	}
	if r.idleSince.IsZero() {
		return
	}
	if now.Sub(r.idleSince) > r.group.deleteTimeout {
		r.Delete(ctx, false)
	}
}

// Delete tears the room down. The room leaves the registry and stops
// accepting operations regardless of whether the remote delete succeeds;
// skipRemote marks the channel as already gone on the platform side.
func (r *Room) Delete(ctx context.Context, skipRemote bool) {
	if !r.working {
		return
	}
	r.working = false
	r.group.removeRoom(r.channel.ID)
	r.group.metrics.RoomDeleted()
	if skipRemote {
		return
	}
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		err := r.group.client.DeleteChannel(ctx, r.channel.ID)
		if err == nil || errors.Is(err, platform.ErrNotFound) {
			return
		}
		r.logger.Warn("channel delete failed", "attempt", attempt, "error", err)
		if attempt < deleteAttempts {
			r.group.metrics.ObservePlatformRetry("delete_channel")
		}
	}
	r.logger.Error("channel could not be deleted and may be orphaned")
}

// Block denies connect and message permissions for the member and kicks them
// out of the room if they are currently connected.
func (r *Room) Block(ctx context.Context, member platform.Member) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	if err := r.group.client.EditOverwrite(ctx, r.channel.ID, member.ID, blockDeny, 0); err != nil {
		return fmt.Errorf("apply block: %w", err)
	}
	if member.VoiceChannelID == r.channel.ID {
		if err := r.group.client.DisconnectMember(ctx, r.group.communityID, member.ID); err != nil {
			return fmt.Errorf("disconnect blocked user: %w", err)
		}
	}
	return nil
}

// Unblock lifts the connect and message denials for the user.
func (r *Room) Unblock(ctx context.Context, userID string) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	if err := r.group.client.EditOverwrite(ctx, r.channel.ID, userID, 0, blockDeny); err != nil {
		return fmt.Errorf("lift block: %w", err)
	}
	return nil
}

// Mute denies the speak permission for the user.
func (r *Room) Mute(ctx context.Context, userID string) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	if err := r.group.client.EditOverwrite(ctx, r.channel.ID, userID, platform.PermSpeak, 0); err != nil {
		return fmt.Errorf("apply mute: %w", err)
	}
	return nil
}

// Unmute lifts the speak denial for the user.
func (r *Room) Unmute(ctx context.Context, userID string) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	if err := r.group.client.EditOverwrite(ctx, r.channel.ID, userID, 0, platform.PermSpeak); err != nil {
		return fmt.Errorf("lift mute: %w", err)
	}
	return nil
}

// ResetPermissions rewrites the channel's overwrite list from the room's
// current owner and restriction sets, dropping everything else.
func (r *Room) ResetPermissions(ctx context.Context) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	overwrites, err := r.group.restrictionOverwrites(ctx, r.ownerID, r.blocks, r.mutes)
	if err != nil {
		return err
	}
	if err := r.group.client.SetOverwrites(ctx, r.channel.ID, overwrites); err != nil {
		return fmt.Errorf("reset overwrites: %w", err)
	}
	return nil
}

// BlockedUserIDs derives the live block list from the channel's overwrites,
// which also covers temporary blocks that were never persisted.
func (r *Room) BlockedUserIDs(ctx context.Context) ([]string, error) {
	overwrites, err := r.group.client.ChannelOverwrites(ctx, r.channel.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect overwrites: %w", err)
	}
	var ids []string
	for _, overwrite := range overwrites {
		if overwrite.Deny.Has(platform.PermConnect) {
			ids = append(ids, overwrite.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RestrictionList renders one line per restricted user, sorted by ID, with
// markers for permanent blocks, temporary blocks, and mutes.
func (r *Room) RestrictionList(ctx context.Context) ([]string, error) {
	blocked, err := r.BlockedUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(blocked)+len(r.blocks)+len(r.mutes))
	for _, id := range blocked {
		set[id] = struct{}{}
	}
	for id := range r.blocks {
		set[id] = struct{}{}
	}
	for id := range r.mutes {
		set[id] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		var marks []string
		switch {
		case r.hasBlock(id):
			marks = append(marks, "blocked permanently")
		case contains(blocked, id):
			marks = append(marks, "blocked until recreation")
		}
		if r.hasMute(id) {
			marks = append(marks, "muted")
		}
		line := fmt.Sprintf("- <@%s>", id)
		if len(marks) > 0 {
			line += " (" + joinMarks(marks) + ")"
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func joinMarks(marks []string) string {
	out := marks[0]
	for _, mark := range marks[1:] {
		out += ", " + mark
	}
	return out
}

// Transfer hands the room to newOwner: it enforces the rename cooldown from
// the platform's audit log, applies the new owner's stored settings to the
// channel, and reseeds the in-memory restriction sets. Ownership only changes
// after the channel edit succeeds within the edit deadline.
func (r *Room) Transfer(ctx context.Context, newOwner platform.Member) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	entries, err := r.group.client.ChannelUpdateAudit(ctx, r.group.communityID, auditWindow)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	now := r.group.now()
	for _, entry := range entries {
		if entry.TargetChannelID != r.channel.ID {
			continue
		}
		if now.Sub(entry.CreatedAt) < transferCooldown {
			retryAt := entry.CreatedAt.Add(transferCooldown)
			return fmt.Errorf("the room was changed recently, try again at %s", retryAt.UTC().Format(time.RFC3339))
		}
	}

	params, blocks, mutes, err := r.group.ownerChannelParams(ctx, newOwner.ID, newOwner.DisplayName)
	if err != nil {
		return err
	}

	// The platform delays channel edits under rename rate limits without
	// failing them. Waiting out the full delay would stall the reconcile
	// loop, so the edit is raced against a deadline and reported as slow.
	type editResult struct {
		channel platform.Channel
		err     error
	}
	done := make(chan editResult, 1)
	go func() {
		edited, editErr := r.group.client.EditChannel(ctx, r.channel.ID, params)
		done <- editResult{channel: edited, err: editErr}
	}()
	timer := time.NewTimer(r.group.editTimeout)
	defer timer.Stop()
	select {
	case result := <-done:
		if result.err != nil {
			return fmt.Errorf("apply new owner settings: %w", result.err)
		}
		r.channel = result.channel
	case <-timer.C:
		return errTransferSlow
	}

	r.ownerID = newOwner.ID
	r.blocks = blocks
	r.mutes = mutes
	return nil
}

// ReconcileOwner re-derives the owner from the channel's overwrites. The
// first non-bot member holding the manage-channel grant wins; restriction
// sets are reseeded from the new owner's stored config when the owner moved.
func (r *Room) ReconcileOwner(ctx context.Context) error {
	overwrites, err := r.group.client.ChannelOverwrites(ctx, r.channel.ID)
	if err != nil {
		return fmt.Errorf("inspect overwrites: %w", err)
	}
	derived := ""
	for _, overwrite := range overwrites {
		if !overwrite.Allow.Has(platform.PermManageChannel) {
			continue
		}
		member, err := r.group.client.Member(ctx, r.group.communityID, overwrite.UserID)
		if err != nil || member.Bot {
			continue
		}
		derived = member.ID
		break
	}
	if derived == "" || derived == r.ownerID {
		return nil
	}
	r.ownerID = derived
	config, _, err := r.group.store.Get(ctx, r.group.Key(derived))
	if err != nil {
		return fmt.Errorf("reseed config for new owner: %w", err)
	}
	r.blocks = config.BlockSet()
	r.mutes = config.MuteSet()
	return nil
}

// SaveConfig snapshots the room into a persistable config.
func (r *Room) SaveConfig() configstore.RoomConfig {
	return configstore.RoomConfig{
		Name:         r.channel.Name,
		UserLimit:    r.channel.UserLimit,
		Bitrate:      r.channel.Bitrate,
		RTCRegion:    r.channel.RTCRegion,
		NSFW:         r.channel.NSFW,
		VideoQuality: r.channel.VideoQuality,
		Blocks:       setToSlice(r.blocks),
		Mutes:        setToSlice(r.mutes),
	}.Normalize()
}

// UpdateConfig reconciles ownership and persists the room's current settings
// under the derived owner's key.
func (r *Room) UpdateConfig(ctx context.Context) error {
	if err := r.ensureWorking(); err != nil {
		return err
	}
	if err := r.ReconcileOwner(ctx); err != nil {
		return err
	}
	if err := r.group.store.Put(ctx, r.group.Key(r.ownerID), r.SaveConfig()); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	return nil
}

// CheckBlock re-applies the room's persistent restrictions to a member who
// just rejoined the community.
func (r *Room) CheckBlock(ctx context.Context, member platform.Member) {
	if !r.working {
		return
	}
	if r.hasBlock(member.ID) {
		if err := r.Block(ctx, member); err != nil {
			r.logger.Warn("failed to re-apply block", "user_id", member.ID, "error", err)
		}
	}
	if r.hasMute(member.ID) {
		if err := r.Mute(ctx, member.ID); err != nil {
			r.logger.Warn("failed to re-apply mute", "user_id", member.ID, "error", err)
		}
	}
}

// SendWelcome posts the command overview into the room's text chat.
func (r *Room) SendWelcome(ctx context.Context) error {
	return r.group.client.SendMessage(ctx, r.channel.ID, helpMessage())
}

// RunCommand parses and executes raw command text on behalf of invoker. All
// outcomes, including failures, are reported back into the channel.
func (r *Room) RunCommand(ctx context.Context, raw string, invoker platform.Member) {
	if !r.working {
		return
	}
	parser := NewParser(raw, invoker.ID, r.group.resolveMember, r.group.ignore)
	name, err := parser.Command()
	if err != nil {
		r.reply(ctx, "Error: "+err.Error())
		return
	}

	var reply string
	var execErr error
	cmd, known := commandRegistry[name]
	switch {
	case !known:
		execErr = fmt.Errorf("the command !%s does not exist", name)
	case invoker.ID != r.ownerID && !cmd.Moderator:
		execErr = errOwnerOnly
	case invoker.ID != r.ownerID && !invoker.Permissions.Has(platform.PermMoveMembers):
		execErr = errOwnerOnly
	default:
		reply, execErr = cmd.Exec(ctx, r, parser)
	}
	// Unknown names come straight from chat input; folding them into one
	// label keeps the metric cardinality bounded.
	metricName := name
	if !known {
		metricName = "unknown"
	}
	r.group.metrics.ObserveCommand(metricName, execErr == nil)
	if execErr != nil {
		r.reply(ctx, "Error: "+execErr.Error())
		return
	}
	if reply != "" {
		r.reply(ctx, reply)
	}
}

func (r *Room) reply(ctx context.Context, content string) {
	if err := r.group.client.SendMessage(ctx, r.channel.ID, content); err != nil {
		r.logger.Warn("failed to post reply", "error", err)
	}
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
