package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/live-notifier/command"
	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/telemetry"
)

type followRequest struct {
	Channel     string   `json:"channel"`
	Destination string   `json:"destination"`
	Mentions    []string `json:"mentions"`
}

type subscriptionView struct {
	TwitchName   string   `json:"twitchName"`
	ChannelID    string   `json:"channelId"`
	RoleIDs      []string `json:"roleIds"`
	LastStreamID *string  `json:"lastStreamId"`
}

func toView(s store.Subscription) subscriptionView {
	roles := s.RoleIDs
	if roles == nil {
		roles = []string{}
	}
	return subscriptionView{TwitchName: s.TwitchName, ChannelID: s.ChannelID, RoleIDs: roles, LastStreamID: s.LastStreamID}
}

// commandStatus maps command errors to HTTP statuses.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, command.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrUnknownChannel):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) commandFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := commandStatus(err)
	msg := err.Error()
	switch {
	case errors.Is(err, store.ErrDuplicate):
		msg = command.DuplicateReply
	case status == http.StatusInternalServerError:
		telemetry.LoggerWithCorr(r.Context()).Error("command failed",
			slog.String("op", op), slog.Any("err", err), slog.String("component", "http"))
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// HandleFollow handles POST /tenants/{tenant}/follows.
func (h *Handlers) HandleFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	res, err := h.commands.Follow(r.Context(), r.PathValue("tenant"), req.Channel, req.Destination, req.Mentions...)
	if err != nil {
		h.commandFailed(w, r, "follow", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"subscription": toView(res.Subscription),
		"message":      res.Reply(),
	})
}

// HandleUnfollow handles DELETE /tenants/{tenant}/follows/{channel}.
func (h *Handlers) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	res, err := h.commands.Unfollow(r.Context(), r.PathValue("tenant"), r.PathValue("channel"))
	if err != nil {
		h.commandFailed(w, r, "unfollow", err)
		return
	}
	status := http.StatusOK
	if res.Removed == 0 {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{
		"removed": res.Removed,
		"message": res.Reply(),
	})
}

// HandleList handles GET /tenants/{tenant}/follows.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.commands.List(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.commandFailed(w, r, "list", err)
		return
	}
	views := make([]subscriptionView, 0, len(res.Subscriptions))
	for _, s := range res.Subscriptions {
		views = append(views, toView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": views,
		"empty":         res.Empty,
		"message":       res.Reply(),
	})
}
