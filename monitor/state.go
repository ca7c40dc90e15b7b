package monitor

import "github.com/onnwee/live-notifier/twitchapi"

type action int

const (
	actionNone action = iota
	actionAnnounce
	actionReset
)

func (a action) String() string {
	switch a {
	case actionAnnounce:
		return "announce"
	case actionReset:
		return "reset"
	default:
		return "none"
	}
}

// decide maps the stored marker and the lookup result to the next step.
//
//	last   stream        -> action
//	nil    nil           -> none
//	nil    S             -> announce
//	id     nil           -> reset
//	id     S (S.ID==id)  -> none
//	id     S (S.ID!=id)  -> announce
func decide(last *string, stream *twitchapi.Stream) action {
	switch {
	case stream == nil && last == nil:
		return actionNone
	case stream == nil:
		return actionReset
	case last != nil && *last == stream.ID:
		return actionNone
	default:
		return actionAnnounce
	}
}
