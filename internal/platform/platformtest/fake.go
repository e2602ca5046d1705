// Package platformtest provides an in-memory platform.Client implementation
// for exercising the room engine without network access.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voiceloft/internal/platform"
)

// Fake is a mutable in-memory platform. All methods are safe for concurrent
// use. Zero value is not usable; construct with NewFake.
type Fake struct {
	mu sync.Mutex

	nextID     int
	channels   map[string]platform.Channel
	overwrites map[string][]platform.Overwrite
	members    map[string]map[string]platform.Member // community -> user -> member
	voice      map[string]string                     // user -> channel
	messages   map[string]int                        // channel -> message count
	audit      map[string][]platform.AuditEntry      // community -> entries

	// CreateFailures makes the next N CreateChannel calls fail.
	CreateFailures int
	// DeleteFailures makes the next N DeleteChannel calls fail.
	DeleteFailures int
	// OverwriteFailures makes the next N EditOverwrite calls fail.
	OverwriteFailures int
	// EditDelay delays EditChannel, for exercising edit timeouts.
	EditDelay time.Duration

	createCalls int
	deleteCalls int
	sent        map[string][]string // channel -> message contents
	disconnects []string
}

// NewFake returns an empty fake platform.
func NewFake() *Fake {
	return &Fake{
		channels:   make(map[string]platform.Channel),
		overwrites: make(map[string][]platform.Overwrite),
		members:    make(map[string]map[string]platform.Member),
		voice:      make(map[string]string),
		messages:   make(map[string]int),
		audit:      make(map[string][]platform.AuditEntry),
		sent:       make(map[string][]string),
	}
}

// AddMember registers a community member.
func (f *Fake) AddMember(communityID string, member platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[communityID] == nil {
		f.members[communityID] = make(map[string]platform.Member)
	}
	f.members[communityID][member.ID] = member
}

// RemoveMember deletes a member, simulating a community leave.
func (f *Fake) RemoveMember(communityID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[communityID], userID)
	delete(f.voice, userID)
}

// AddChannel registers a channel and returns it.
func (f *Fake) AddChannel(channel platform.Channel) platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel.ID == "" {
		f.nextID++
		channel.ID = fmt.Sprintf("chan-%d", f.nextID)
	}
	f.channels[channel.ID] = channel
	return channel
}

// SetOverwritesDirect seeds overwrites without going through the API surface.
func (f *Fake) SetOverwritesDirect(channelID string, overwrites []platform.Overwrite) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwrites[channelID] = append([]platform.Overwrite(nil), overwrites...)
}

// JoinVoice places a member into a voice channel.
func (f *Fake) JoinVoice(userID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice[userID] = channelID
}

// LeaveVoice removes a member from voice.
func (f *Fake) LeaveVoice(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.voice, userID)
}

// AddAudit appends an audit entry for the community.
func (f *Fake) AddAudit(communityID string, entry platform.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit[communityID] = append(f.audit[communityID], entry)
}

// Channel returns the current channel snapshot.
func (f *Fake) Channel(channelID string) (platform.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	return ch, ok
}

// SentMessages returns messages delivered to a channel.
func (f *Fake) SentMessages(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[channelID]...)
}

// Disconnected returns user IDs forcibly disconnected, in order.
func (f *Fake) Disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

// CreateCalls returns how many CreateChannel calls were attempted.
func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// DeleteCalls returns how many DeleteChannel calls were attempted.
func (f *Fake) DeleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

func (f *Fake) CreateChannel(ctx context.Context, communityID, categoryID string, params platform.ChannelParams) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.CreateFailures > 0 {
		f.CreateFailures--
		return platform.Channel{}, fmt.Errorf("create rejected")
	}
	f.nextID++
	channel := platform.Channel{
		ID:          fmt.Sprintf("chan-%d", f.nextID),
		CommunityID: communityID,
		ParentID:    categoryID,
		Voice:       true,
	}
	applyParams(&channel, params)
	f.channels[channel.ID] = channel
	if params.Overwrites != nil {
		f.overwrites[channel.ID] = append([]platform.Overwrite(nil), params.Overwrites...)
	}
	return channel, nil
}

func (f *Fake) EditChannel(ctx context.Context, channelID string, params platform.ChannelParams) (platform.Channel, error) {
	if f.EditDelay > 0 {
		select {
		case <-time.After(f.EditDelay):
		case <-ctx.Done():
			return platform.Channel{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.channels[channelID]
	if !ok {
		return platform.Channel{}, platform.ErrNotFound
	}
	applyParams(&channel, params)
	f.channels[channelID] = channel
	if params.Overwrites != nil {
		f.overwrites[channelID] = append([]platform.Overwrite(nil), params.Overwrites...)
	}
	f.audit[channel.CommunityID] = append(f.audit[channel.CommunityID], platform.AuditEntry{
		TargetChannelID: channelID,
		CreatedAt:       time.Now(),
	})
	return channel, nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.DeleteFailures > 0 {
		f.DeleteFailures--
		return fmt.Errorf("delete rejected")
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	delete(f.overwrites, channelID)
	delete(f.messages, channelID)
	for user, ch := range f.voice {
		if ch == channelID {
			delete(f.voice, user)
		}
	}
	return nil
}

func (f *Fake) CategoryChannels(ctx context.Context, communityID, categoryID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Channel
	for _, ch := range f.channels {
		if ch.CommunityID == communityID && ch.ParentID == categoryID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ChannelOverwrites(ctx context.Context, channelID string) ([]platform.Overwrite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return nil, platform.ErrNotFound
	}
	return append([]platform.Overwrite(nil), f.overwrites[channelID]...), nil
}

func (f *Fake) SetOverwrites(ctx context.Context, channelID string, overwrites []platform.Overwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.overwrites[channelID] = append([]platform.Overwrite(nil), overwrites...)
	return nil
}

func (f *Fake) EditOverwrite(ctx context.Context, channelID, userID string, deny, clear platform.Permissions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OverwriteFailures > 0 {
		f.OverwriteFailures--
		return fmt.Errorf("overwrite rejected")
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	list := f.overwrites[channelID]
	idx := -1
	for i, ow := range list {
		if ow.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		list = append(list, platform.Overwrite{UserID: userID})
		idx = len(list) - 1
	}
	list[idx].Deny = (list[idx].Deny | deny) &^ clear
	if list[idx].Allow == 0 && list[idx].Deny == 0 {
		list = append(list[:idx], list[idx+1:]...)
	}
	f.overwrites[channelID] = list
	return nil
}

func (f *Fake) VoiceMembers(ctx context.Context, channelID string) ([]platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	var out []platform.Member
	for user, voiceChannel := range f.voice {
		if voiceChannel != channelID {
			continue
		}
		if member, ok := f.members[ch.CommunityID][user]; ok {
			member.VoiceChannelID = channelID
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) Member(ctx context.Context, communityID, userID string) (platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[communityID][userID]
	if !ok {
		return platform.Member{}, platform.ErrNotFound
	}
	member.VoiceChannelID = f.voice[userID]
	return member, nil
}

func (f *Fake) FilterMembers(ctx context.Context, communityID string, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := f.members[communityID][id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *Fake) ChannelUpdateAudit(ctx context.Context, communityID string, limit int) ([]platform.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.audit[communityID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]platform.AuditEntry(nil), entries...), nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.sent[channelID] = append(f.sent[channelID], content)
	f.messages[channelID]++
	return nil
}

func (f *Fake) HasMessages(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return false, platform.ErrNotFound
	}
	return f.messages[channelID] > 0, nil
}

func (f *Fake) DisconnectMember(ctx context.Context, communityID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.voice, userID)
	f.disconnects = append(f.disconnects, userID)
	return nil
}

func (f *Fake) MoveMember(ctx context.Context, communityID, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.voice[userID] = channelID
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	return nil
}

func applyParams(channel *platform.Channel, params platform.ChannelParams) {
	if params.Name != nil {
		channel.Name = *params.Name
	}
	if params.UserLimit != nil {
		channel.UserLimit = *params.UserLimit
	}
	if params.Bitrate != nil {
		channel.Bitrate = *params.Bitrate
	}
	if params.RTCRegion != nil {
		channel.RTCRegion = *params.RTCRegion
	}
	if params.NSFW != nil {
		channel.NSFW = *params.NSFW
	}
	if params.VideoQuality != nil {
		channel.VideoQuality = *params.VideoQuality
	}
}
