package rooms

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"voiceloft/internal/platform"
)

const listPageSize = 10

// Command is a chat command available inside a private room. Exec returns the
// reply to post on success; an error becomes an "Error: ..." reply instead.
type Command struct {
	Description string
	Usage       string
	Moderator   bool
	Exec        func(ctx context.Context, room *Room, args *Parser) (string, error)
}

// commandOrder fixes the help listing; the map carries the implementations.
var commandOrder = []string{
	"ban", "block", "revoke", "mute", "unmute", "transfer", "list", "random", "help",
}

var commandRegistry = map[string]Command{
	"ban": {
		Description: "Permanently block a user from the room.",
		Usage:       "!ban <user>",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true})
			if err != nil {
				return "", err
			}
			if member.Permissions.Has(platform.PermMoveMembers) {
				return "", fmt.Errorf("%s cannot be blocked", member.DisplayName)
			}
			blocked, err := room.BlockedUserIDs(ctx)
			if err != nil {
				return "", err
			}
			if contains(blocked, member.ID) && room.hasBlock(member.ID) {
				return "", fmt.Errorf("%s is already blocked", member.DisplayName)
			}
			// Mark only after the overwrite lands; a failed platform call
			// must not leave an unpersisted block behind.
			if err := room.Block(ctx, member); err != nil {
				return "", err
			}
			room.addBlock(member.ID)
			if err := room.UpdateConfig(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is blocked permanently.", member.DisplayName), nil
		},
	},
	"block": {
		Description: "Block a user until the room is recreated.",
		Usage:       "!block <user>",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true})
			if err != nil {
				return "", err
			}
			if member.Permissions.Has(platform.PermMoveMembers) {
				return "", fmt.Errorf("%s cannot be blocked", member.DisplayName)
			}
			blocked, err := room.BlockedUserIDs(ctx)
			if err != nil {
				return "", err
			}
			if contains(blocked, member.ID) {
				return "", fmt.Errorf("%s is already blocked", member.DisplayName)
			}
			if err := room.Block(ctx, member); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is blocked until the room is recreated.", member.DisplayName), nil
		},
	},
	"revoke": {
		Description: "Unblock a user, or everyone with \"all\".",
		Usage:       "!revoke <user|all>",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			if args.Literal("all") {
				room.clearBlocks()
				if err := room.ResetPermissions(ctx); err != nil {
					return "", err
				}
				if err := room.UpdateConfig(ctx); err != nil {
					return "", err
				}
				return "All blocks are lifted.", nil
			}
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true})
			if err != nil {
				return "", err
			}
			blocked, err := room.BlockedUserIDs(ctx)
			if err != nil {
				return "", err
			}
			if !contains(blocked, member.ID) && !room.hasBlock(member.ID) {
				return "", fmt.Errorf("%s is not blocked", member.DisplayName)
			}
			room.removeBlock(member.ID)
			if err := room.Unblock(ctx, member.ID); err != nil {
				return "", err
			}
			if err := room.UpdateConfig(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is unblocked.", member.DisplayName), nil
		},
	},
	"mute": {
		Description: "Permanently mute a user in the room.",
		Usage:       "!mute <user>",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true})
			if err != nil {
				return "", err
			}
			if room.hasMute(member.ID) {
				return "", fmt.Errorf("%s is already muted", member.DisplayName)
			}
			if err := room.Mute(ctx, member.ID); err != nil {
				return "", err
			}
			room.addMute(member.ID)
			if err := room.UpdateConfig(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is muted.", member.DisplayName), nil
		},
	},
	"unmute": {
		Description: "Unmute a user, or everyone with \"all\".",
		Usage:       "!unmute <user|all>",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			if args.Literal("all") {
				room.clearMutes()
				if err := room.ResetPermissions(ctx); err != nil {
					return "", err
				}
				if err := room.UpdateConfig(ctx); err != nil {
					return "", err
				}
				return "All mutes are lifted.", nil
			}
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true})
			if err != nil {
				return "", err
			}
			if !room.hasMute(member.ID) {
				return "", fmt.Errorf("%s is not muted", member.DisplayName)
			}
			room.removeMute(member.ID)
			if err := room.Unmute(ctx, member.ID); err != nil {
				return "", err
			}
			if err := room.UpdateConfig(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s is unmuted.", member.DisplayName), nil
		},
	},
	"transfer": {
		Description: "Transfer room ownership to another occupant.",
		Usage:       "!transfer <user>",
		Moderator:   true,
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			member, err := args.User(ctx, UserOpts{NotMe: true, NotBot: true, NotIgnored: true})
			if err != nil {
				return "", err
			}
			if member.VoiceChannelID != room.ChannelID() {
				return "", fmt.Errorf("%s must be in this room", member.DisplayName)
			}
			if err := room.Transfer(ctx, member); err != nil {
				return "", err
			}
			return fmt.Sprintf("Ownership transferred to %s.", member.DisplayName), nil
		},
	},
	"list": {
		Description: "List blocked and muted users, ten per page.",
		Usage:       "!list [page]",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			one := float64(1)
			pageArg, err := args.Number(NumberOpts{Default: &one, Integer: true})
			if err != nil {
				return "", err
			}
			page := int(pageArg)
			entries, err := room.RestrictionList(ctx)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "Nobody is blocked or muted.", nil
			}
			pageCount := (len(entries) + listPageSize - 1) / listPageSize
			if page < 1 || page > pageCount {
				return "", fmt.Errorf("page %d does not exist, there are %d pages", page, pageCount)
			}
			start := (page - 1) * listPageSize
			end := start + listPageSize
			if end > len(entries) {
				end = len(entries)
			}
			var b strings.Builder
			b.WriteString("Blocked and muted users:\n")
			for _, entry := range entries[start:end] {
				b.WriteString(entry)
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "Page %d of %d.", page, pageCount)
			return b.String(), nil
		},
	},
	"random": {
		Description: "Pick a random occupant of the room.",
		Usage:       "!random",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			occupants, err := room.Occupants(ctx)
			if err != nil {
				return "", err
			}
			eligible := occupants[:0:0]
			for _, member := range occupants {
				if member.Bot || room.group.isIgnored(member.ID) {
					continue
				}
				eligible = append(eligible, member)
			}
			if len(eligible) == 0 {
				return "", errors.New("nobody in the room is eligible")
			}
			pick := eligible[rand.Intn(len(eligible))]
			return fmt.Sprintf("The winner is <@%s>.", pick.ID), nil
		},
	},
}

// The help entry renders the registry itself, so registering it inside the
// composite literal would form an initialization cycle.
func init() {
	commandRegistry["help"] = Command{
		Description: "Show this command overview.",
		Usage:       "!help",
		Exec: func(ctx context.Context, room *Room, args *Parser) (string, error) {
			return helpMessage(), nil
		},
	}
}

func helpMessage() string {
	var b strings.Builder
	b.WriteString("This voice room belongs to whoever created it. Available commands:\n")
	for _, name := range commandOrder {
		cmd := commandRegistry[name]
		fmt.Fprintf(&b, "`%s`", cmd.Usage)
		if cmd.Moderator {
			b.WriteString(" (also usable by moderators)")
		}
		b.WriteString(": ")
		b.WriteString(cmd.Description)
		b.WriteByte('\n')
	}
	b.WriteString("The room is removed after everyone leaves it.")
	return b.String()
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
