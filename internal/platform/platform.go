// Package platform defines the surface of the chat/voice platform consumed by
// the room lifecycle engine. Every call crosses the network and is assumed
// fallible; callers apply their own retry policy.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the requested entity does not exist on the platform.
var ErrNotFound = errors.New("platform: not found")

// Permissions is a bitmask of per-channel or community-wide capabilities.
type Permissions uint64

const (
	PermManageChannel Permissions = 1 << iota
	PermMoveMembers
	PermManageMessages
	PermMuteMembers
	PermConnect
	PermSpeak
	PermSendMessages
	PermViewChannel
)

// OwnerGrant is the allow set applied to a room owner's overwrite.
const OwnerGrant = PermManageChannel | PermMoveMembers | PermManageMessages | PermMuteMembers

// Has reports whether every bit in perm is present in p.
func (p Permissions) Has(perm Permissions) bool {
	return p&perm == perm
}

// Member describes a community member. VoiceChannelID is empty when the member
// is not connected to any voice channel.
type Member struct {
	ID             string      `json:"id"`
	DisplayName    string      `json:"displayName"`
	Bot            bool        `json:"bot"`
	Permissions    Permissions `json:"permissions"`
	VoiceChannelID string      `json:"voiceChannelId,omitempty"`
}

// Overwrite is a per-user permission exception on a channel.
type Overwrite struct {
	UserID string      `json:"userId"`
	Allow  Permissions `json:"allow"`
	Deny   Permissions `json:"deny"`
}

// Channel is a snapshot of a platform channel.
type Channel struct {
	ID           string `json:"id"`
	CommunityID  string `json:"communityId"`
	ParentID     string `json:"parentId,omitempty"`
	Name         string `json:"name"`
	Voice        bool   `json:"voice"`
	Bitrate      int    `json:"bitrate,omitempty"`
	UserLimit    int    `json:"userLimit,omitempty"`
	RTCRegion    string `json:"rtcRegion,omitempty"`
	NSFW         bool   `json:"nsfw,omitempty"`
	VideoQuality int    `json:"videoQuality,omitempty"`
}

// ChannelParams carries create/edit parameters. Nil pointer fields are left at
// the platform default (create) or unchanged (edit). A nil Overwrites slice
// leaves the overwrite list alone; an empty non-nil slice clears it.
type ChannelParams struct {
	Name         *string     `json:"name,omitempty"`
	UserLimit    *int        `json:"userLimit,omitempty"`
	Bitrate      *int        `json:"bitrate,omitempty"`
	RTCRegion    *string     `json:"rtcRegion,omitempty"`
	NSFW         *bool       `json:"nsfw,omitempty"`
	VideoQuality *int        `json:"videoQuality,omitempty"`
	Overwrites   []Overwrite `json:"overwrites,omitempty"`
}

// AuditEntry is one channel-settings change recorded by the platform audit
// trail.
type AuditEntry struct {
	TargetChannelID string    `json:"targetChannelId"`
	ActorID         string    `json:"actorId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Client is the platform operation surface required by the room engine.
type Client interface {
	CreateChannel(ctx context.Context, communityID, categoryID string, params ChannelParams) (Channel, error)
	EditChannel(ctx context.Context, channelID string, params ChannelParams) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	CategoryChannels(ctx context.Context, communityID, categoryID string) ([]Channel, error)

	ChannelOverwrites(ctx context.Context, channelID string) ([]Overwrite, error)
	SetOverwrites(ctx context.Context, channelID string, overwrites []Overwrite) error
	// EditOverwrite adds the deny bits and removes the clear bits on the
	// user's overwrite, creating or deleting the overwrite as needed.
	EditOverwrite(ctx context.Context, channelID, userID string, deny, clear Permissions) error

	VoiceMembers(ctx context.Context, channelID string) ([]Member, error)
	Member(ctx context.Context, communityID, userID string) (Member, error)
	// FilterMembers returns the subset of ids that still resolve to live
	// community members, preserving input order.
	FilterMembers(ctx context.Context, communityID string, ids []string) ([]string, error)

	ChannelUpdateAudit(ctx context.Context, communityID string, limit int) ([]AuditEntry, error)
	SendMessage(ctx context.Context, channelID, content string) error
	HasMessages(ctx context.Context, channelID string) (bool, error)
	DisconnectMember(ctx context.Context, communityID, userID string) error
	MoveMember(ctx context.Context, communityID, userID, channelID string) error

	Ping(ctx context.Context) error
}
