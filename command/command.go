// Package command implements the tenant-scoped follow, unfollow and list operations. It is
// transport independent: the HTTP API in package server is one caller.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/twitchapi"
)

var (
	// ErrInvalidArgument reports malformed command input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownChannel is returned by Follow when channel validation is enabled and Twitch has no such login.
	ErrUnknownChannel = errors.New("unknown twitch channel")
)

// UserResolver resolves a login to a Twitch user id.
type UserResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Handler executes commands against the subscription store.
type Handler struct {
	Store store.Store
	// Resolver, when set, is used by Follow to reject logins Twitch does not know.
	Resolver UserResolver
}

// FollowResult is the outcome of a successful follow.
type FollowResult struct {
	Tenant       string             `json:"tenant"`
	Subscription store.Subscription `json:"subscription"`
}

// UnfollowResult reports how many subscriptions were removed. Zero means nothing matched.
type UnfollowResult struct {
	Channel string `json:"channel"`
	Removed int    `json:"removed"`
}

// ListResult holds a tenant's subscriptions in insertion order.
type ListResult struct {
	Subscriptions []store.Subscription `json:"subscriptions"`
	Empty         bool                 `json:"empty"`
}

// Follow starts tracking channel in destination with up to two mention roles.
// A repeated (channel, destination) pair returns store.ErrDuplicate and leaves the store unchanged.
func (h *Handler) Follow(ctx context.Context, tenant, channel, destination string, mentions ...string) (FollowResult, error) {
	name := store.NormalizeName(channel)
	destination = strings.TrimSpace(destination)
	roles := store.NormalizeRoles(mentions)
	switch {
	case strings.TrimSpace(tenant) == "":
		return FollowResult{}, fmt.Errorf("%w: tenant is required", ErrInvalidArgument)
	case name == "":
		return FollowResult{}, fmt.Errorf("%w: channel is required", ErrInvalidArgument)
	case strings.ContainsAny(name, " /"):
		return FollowResult{}, fmt.Errorf("%w: %q is not a twitch login", ErrInvalidArgument, name)
	case destination == "":
		return FollowResult{}, fmt.Errorf("%w: destination is required", ErrInvalidArgument)
	case len(roles) > store.MaxRoles:
		return FollowResult{}, fmt.Errorf("%w: at most %d mentions", ErrInvalidArgument, store.MaxRoles)
	}

	if h.Resolver != nil {
		if _, err := h.Resolver.GetUserID(ctx, name); err != nil {
			if errors.Is(err, twitchapi.ErrUserNotFound) {
				h.record("follow", "unknown_channel")
				return FollowResult{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
			}
			h.record("follow", "error")
			return FollowResult{}, fmt.Errorf("validate channel %s: %w", name, err)
		}
	}

	sub := store.Subscription{TwitchName: name, ChannelID: destination, RoleIDs: roles}
	if err := h.Store.Add(ctx, tenant, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			h.record("follow", "duplicate")
			return FollowResult{}, err
		}
		h.record("follow", "error")
		return FollowResult{}, fmt.Errorf("add subscription: %w", err)
	}
	h.record("follow", "ok")
	telemetry.LoggerWithCorr(ctx).Info("channel followed",
		slog.String("tenant", tenant),
		slog.String("channel", name),
		slog.String("destination", destination),
		slog.String("component", "command"))
	return FollowResult{Tenant: tenant, Subscription: sub}, nil
}

// Unfollow removes every subscription for channel in the tenant, whatever the destination.
func (h *Handler) Unfollow(ctx context.Context, tenant, channel string) (UnfollowResult, error) {
	name := store.NormalizeName(channel)
	if name == "" {
		return UnfollowResult{}, fmt.Errorf("%w: channel is required", ErrInvalidArgument)
	}
	n, err := h.Store.RemoveByChannel(ctx, tenant, name)
	if err != nil {
		h.record("unfollow", "error")
		return UnfollowResult{}, fmt.Errorf("remove subscriptions: %w", err)
	}
	if n == 0 {
		h.record("unfollow", "not_found")
	} else {
		h.record("unfollow", "ok")
		telemetry.LoggerWithCorr(ctx).Info("channel unfollowed",
			slog.String("tenant", tenant),
			slog.String("channel", name),
			slog.Int("removed", n),
			slog.String("component", "command"))
	}
	return UnfollowResult{Channel: name, Removed: n}, nil
}

// List returns the tenant's subscriptions. An empty tenant is a successful, empty result.
func (h *Handler) List(ctx context.Context, tenant string) (ListResult, error) {
	subs, err := h.Store.List(ctx, tenant)
	if err != nil {
		h.record("list", "error")
		return ListResult{}, fmt.Errorf("list subscriptions: %w", err)
	}
	h.record("list", "ok")
	return ListResult{Subscriptions: subs, Empty: len(subs) == 0}, nil
}

func (h *Handler) record(cmd, result string) { telemetry.RecordCommand(cmd, result) }
