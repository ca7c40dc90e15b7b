// Package store persists tenant-scoped go-live subscriptions.
//
// Two backends implement Store:
//   - JSONFile: a single JSON document ({"guilds": {...}}) rewritten atomically
//     on every mutation. This is the default and matches the original
//     subscriptions.json layout.
//   - Postgres: tenants/subscriptions tables managed by embedded migrations.
//
// Every mutating call returns only after the change is durable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

var (
	// ErrDuplicate is returned by Add when the tenant already tracks the channel in that destination.
	ErrDuplicate = errors.New("channel already followed in this destination")
	// ErrNotFound is returned when an addressed subscription does not exist.
	ErrNotFound = errors.New("subscription not found")
)

// MaxRoles is the number of mention targets a subscription can carry.
const MaxRoles = 2

// Subscription is one tracked channel within one tenant/destination pairing.
type Subscription struct {
	TwitchName string
	ChannelID  string
	RoleIDs    []string
	// LastStreamID is the session id of the last announcement, nil when the channel is
	// believed offline and eligible for the next announcement.
	LastStreamID *string
}

// TenantSubscriptions is one tenant's subscriptions in insertion order.
type TenantSubscriptions struct {
	TenantID      string
	Subscriptions []Subscription
}

// Store is the subscription registry shared by the command surface and the monitor.
type Store interface {
	// Add appends sub to the tenant. It fails with ErrDuplicate when the
	// (TwitchName, ChannelID) pair already exists in that tenant.
	Add(ctx context.Context, tenant string, sub Subscription) error
	// RemoveByChannel deletes every subscription for twitchName in the tenant,
	// whatever its destination, and returns how many were removed.
	RemoveByChannel(ctx context.Context, tenant, twitchName string) (int, error)
	// List returns the tenant's subscriptions in insertion order (never nil).
	List(ctx context.Context, tenant string) ([]Subscription, error)
	// Find returns the subscription for the pair or ErrNotFound.
	Find(ctx context.Context, tenant, twitchName, channelID string) (*Subscription, error)
	// Snapshot returns a copy of the whole registry, tenants sorted by id.
	Snapshot(ctx context.Context) ([]TenantSubscriptions, error)
	// SetLastStreamID records the live-state marker for one subscription.
	SetLastStreamID(ctx context.Context, tenant, twitchName, channelID string, streamID *string) error
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeName lowercases and trims a Twitch login.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeRoles drops empty and repeated ids while keeping order.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Normalized returns a copy with a normalized name and roles.
func (s Subscription) Normalized() Subscription {
	c := s.Clone()
	c.TwitchName = NormalizeName(c.TwitchName)
	c.ChannelID = strings.TrimSpace(c.ChannelID)
	c.RoleIDs = NormalizeRoles(c.RoleIDs)
	return c
}

// Clone returns a deep copy.
func (s Subscription) Clone() Subscription {
	c := s
	c.RoleIDs = slices.Clone(s.RoleIDs)
	if s.LastStreamID != nil {
		id := *s.LastStreamID
		c.LastStreamID = &id
	}
	return c
}

// Matches reports whether the subscription is for twitchName in channelID.
func (s Subscription) Matches(twitchName, channelID string) bool {
	return s.TwitchName == twitchName && s.ChannelID == channelID
}

// subscriptionJSON is the on-disk record: up to two mention targets and a nullable session marker.
type subscriptionJSON struct {
	TwitchName   string  `json:"twitchName"`
	ChannelID    string  `json:"channelId"`
	RoleID       string  `json:"roleId,omitempty"`
	RoleID2      string  `json:"roleId2,omitempty"`
	LastStreamID *string `json:"lastStreamId"`
}

// MarshalJSON implements json.Marshaler.
func (s Subscription) MarshalJSON() ([]byte, error) {
	v := subscriptionJSON{
		TwitchName:   s.TwitchName,
		ChannelID:    s.ChannelID,
		LastStreamID: s.LastStreamID,
	}
	if len(s.RoleIDs) > 0 {
		v.RoleID = s.RoleIDs[0]
	}
	if len(s.RoleIDs) > 1 {
		v.RoleID2 = s.RoleIDs[1]
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Subscription) UnmarshalJSON(b []byte) error {
	var v subscriptionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Subscription{
		TwitchName:   v.TwitchName,
		ChannelID:    v.ChannelID,
		RoleIDs:      NormalizeRoles([]string{v.RoleID, v.RoleID2}),
		LastStreamID: v.LastStreamID,
	}
	return nil
}
