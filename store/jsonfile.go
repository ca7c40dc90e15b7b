package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"

	"crawshaw.dev/jsonfile"
)

// JSONFile is a file-backed implementation of Store. The whole registry is
// rewritten (temp file + rename) on every mutation.
type JSONFile struct {
	path string
	f    *jsonfile.JSONFile[registry]
}

type registry struct {
	Guilds map[string][]Subscription `json:"guilds"`
}

// tenant returns the tenant's slice, creating an empty entry on first touch.
func (r *registry) tenant(id string) []Subscription {
	if r.Guilds == nil {
		r.Guilds = make(map[string][]Subscription)
	}
	subs, ok := r.Guilds[id]
	if !ok {
		subs = []Subscription{}
		r.Guilds[id] = subs
	}
	return subs
}

// OpenJSONFile loads the registry at path, creating it with an empty registry if absent.
func OpenJSONFile(path string) (*JSONFile, error) {
	f, err := jsonfile.Load[registry](path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = jsonfile.New[registry](path)
		if err == nil {
			err = f.Write(func(r *registry) error {
				r.Guilds = make(map[string][]Subscription)
				return nil
			})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open subscriptions file %s: %w", path, err)
	}
	return &JSONFile{path: path, f: f}, nil
}

// Add implements Store.
func (s *JSONFile) Add(_ context.Context, tenant string, sub Subscription) error {
	sub = sub.Normalized()
	return s.f.Write(func(r *registry) error {
		subs := r.tenant(tenant)
		for _, existing := range subs {
			if existing.Matches(sub.TwitchName, sub.ChannelID) {
				return ErrDuplicate
			}
		}
		r.Guilds[tenant] = append(subs, sub)
		return nil
	})
}

// RemoveByChannel implements Store.
func (s *JSONFile) RemoveByChannel(_ context.Context, tenant, twitchName string) (int, error) {
	name := NormalizeName(twitchName)
	removed := 0
	err := s.f.Write(func(r *registry) error {
		subs := r.tenant(tenant)
		before := len(subs)
		subs = slices.DeleteFunc(subs, func(sub Subscription) bool { return sub.TwitchName == name })
		removed = before - len(subs)
		r.Guilds[tenant] = subs
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// List implements Store.
func (s *JSONFile) List(_ context.Context, tenant string) ([]Subscription, error) {
	var (
		out    []Subscription
		exists bool
	)
	s.f.Read(func(r *registry) {
		var subs []Subscription
		subs, exists = r.Guilds[tenant]
		out = cloneAll(subs)
	})
	if !exists {
		if err := s.f.Write(func(r *registry) error {
			r.tenant(tenant)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Find implements Store.
func (s *JSONFile) Find(_ context.Context, tenant, twitchName, channelID string) (*Subscription, error) {
	name := NormalizeName(twitchName)
	var found *Subscription
	s.f.Read(func(r *registry) {
		for _, sub := range r.Guilds[tenant] {
			if sub.Matches(name, channelID) {
				c := sub.Clone()
				found = &c
				return
			}
		}
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Snapshot implements Store.
func (s *JSONFile) Snapshot(_ context.Context) ([]TenantSubscriptions, error) {
	var out []TenantSubscriptions
	s.f.Read(func(r *registry) {
		ids := make([]string, 0, len(r.Guilds))
		for id := range r.Guilds {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = make([]TenantSubscriptions, 0, len(ids))
		for _, id := range ids {
			out = append(out, TenantSubscriptions{TenantID: id, Subscriptions: cloneAll(r.Guilds[id])})
		}
	})
	return out, nil
}

// SetLastStreamID implements Store.
func (s *JSONFile) SetLastStreamID(_ context.Context, tenant, twitchName, channelID string, streamID *string) error {
	var next *string
	if streamID != nil {
		id := *streamID
		next = &id
	}
	return s.f.Write(func(r *registry) error {
		subs := r.Guilds[tenant]
		for i := range subs {
			if subs[i].Matches(twitchName, channelID) {
				subs[i].LastStreamID = next
				return nil
			}
		}
		return ErrNotFound
	})
}

// Ping checks that the backing file is still present.
func (s *JSONFile) Ping(_ context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

// Close implements Store. Every mutation is already on disk.
func (s *JSONFile) Close() error { return nil }

func cloneAll(subs []Subscription) []Subscription {
	out := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Clone())
	}
	return out
}
