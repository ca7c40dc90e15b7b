package command

import (
	"fmt"
	"strings"
)

// DuplicateReply is the reply for a follow that already exists.
const DuplicateReply = "This channel is already followed here."

// Reply describes the follow.
func (r FollowResult) Reply() string {
	msg := fmt.Sprintf("**%s** will be announced in <#%s>", r.Subscription.TwitchName, r.Subscription.ChannelID)
	if len(r.Subscription.RoleIDs) > 0 {
		msg += " (ping: " + mentions(r.Subscription.RoleIDs) + ")"
	}
	return msg
}

// Reply reports removal or that nothing matched.
func (r UnfollowResult) Reply() string {
	if r.Removed == 0 {
		return fmt.Sprintf("No follow found for **%s**.", r.Channel)
	}
	return fmt.Sprintf("Follow removed for **%s**.", r.Channel)
}

// Reply lists the followed channels, one per line.
func (r ListResult) Reply() string {
	if r.Empty {
		return "No channels are followed on this server."
	}
	var b strings.Builder
	b.WriteString("Followed channels:")
	for _, s := range r.Subscriptions {
		fmt.Fprintf(&b, "\n• **%s** → <#%s>", s.TwitchName, s.ChannelID)
		if len(s.RoleIDs) > 0 {
			fmt.Fprintf(&b, " (role: %s)", mentions(s.RoleIDs))
		}
	}
	return b.String()
}

func mentions(roles []string) string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = "<@&" + r + ">"
	}
	return strings.Join(out, " ")
}
