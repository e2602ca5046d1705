// Package configstore persists per-owner room configurations keyed by
// community, category, and owner. Implementations must tolerate missing keys
// and respond within bounded latency; the reconciliation loop calls into the
// store on every room creation and config write.
package configstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key addresses one owner's configuration within a group.
type Key struct {
	Community string
	Category  string
	Owner     string
}

// String renders the canonical colon-joined form used by every driver.
func (k Key) String() string {
	return strings.Join([]string{k.Community, k.Category, k.Owner}, ":")
}

// ParseKey splits a canonical key string back into its segments.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("invalid config key %q", raw)
	}
	return Key{Community: parts[0], Category: parts[1], Owner: parts[2]}, nil
}

// RoomConfig is the persisted shape of a room. Blocks and Mutes are stored
// sorted and de-duplicated so round-trips are order-independent.
type RoomConfig struct {
	Name         string   `json:"name"`
	UserLimit    int      `json:"userLimit,omitempty"`
	Bitrate      int      `json:"bitrate,omitempty"`
	RTCRegion    string   `json:"rtcRegion,omitempty"`
	NSFW         bool     `json:"nsfw,omitempty"`
	VideoQuality int      `json:"videoQuality,omitempty"`
	Blocks       []string `json:"blocks,omitempty"`
	Mutes        []string `json:"mutes,omitempty"`
}

// Normalize returns a copy with an NFC-normalised name and sorted,
// de-duplicated block/mute lists.
func (c RoomConfig) Normalize() RoomConfig {
	c.Name = norm.NFC.String(strings.TrimSpace(c.Name))
	c.Blocks = dedupSorted(c.Blocks)
	c.Mutes = dedupSorted(c.Mutes)
	return c
}

// BlockSet returns the block list as a set.
func (c RoomConfig) BlockSet() map[string]struct{} {
	return toSet(c.Blocks)
}

// MuteSet returns the mute list as a set.
func (c RoomConfig) MuteSet() map[string]struct{} {
	return toSet(c.Mutes)
}

// Store is the persistence contract for room configurations.
type Store interface {
	// Get returns the stored config and whether a value existed.
	Get(ctx context.Context, key Key) (RoomConfig, bool, error)
	Put(ctx context.Context, key Key, config RoomConfig) error
	Remove(ctx context.Context, key Key) error
}

func dedupSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
