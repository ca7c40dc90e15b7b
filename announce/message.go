// Package announce turns a live stream into a destination message and delivers it.
package announce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/twitchapi"
)

const (
	// TwitchPurple is the embed accent color.
	TwitchPurple = 0x9146FF

	thumbnailWidth  = 1280
	thumbnailHeight = 720

	unspecifiedGame = "Unspecified"
	noViewers       = "N/A"
	watchLabel      = "Watch the stream"

	componentActionRow = 1
	componentButton    = 2
	buttonStyleLink    = 5
)

// Message is a destination message in Discord's create-message shape.
type Message struct {
	Content         string          `json:"content"`
	Embeds          []Embed         `json:"embeds"`
	Components      []ActionRow     `json:"components,omitempty"`
	AllowedMentions AllowedMentions `json:"allowed_mentions"`
}

type Embed struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Color       int        `json:"color"`
	Author      *Author    `json:"author,omitempty"`
	Image       *Image     `json:"image,omitempty"`
	Fields      []Field    `json:"fields"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

type Author struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Image struct {
	URL string `json:"url"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type ActionRow struct {
	Type       int      `json:"type"`
	Components []Button `json:"components"`
}

type Button struct {
	Type  int    `json:"type"`
	Style int    `json:"style"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// AllowedMentions restricts which mentions in Content actually ping.
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Roles []string `json:"roles"`
}

// Build renders the go-live message for sub.
func Build(sub store.Subscription, s twitchapi.Stream) Message {
	name := displayName(sub, s)
	headline := name + " is live!"
	watch := twitchapi.WatchURL(login(sub, s))

	mentions := make([]string, 0, len(sub.RoleIDs))
	for _, r := range sub.RoleIDs {
		mentions = append(mentions, "<@&"+r+">")
	}
	content := headline
	if len(mentions) > 0 {
		content = strings.Join(mentions, " ") + " " + headline
	}

	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = headline
	}
	game := strings.TrimSpace(s.GameName)
	if game == "" {
		game = unspecifiedGame
	}
	viewers := noViewers
	if s.ViewerCount > 0 {
		viewers = strconv.Itoa(s.ViewerCount)
	}

	embed := Embed{
		Title:       title,
		URL:         watch,
		Description: fmt.Sprintf("%s is now streaming on Twitch.", name),
		Color:       TwitchPurple,
		Author:      &Author{Name: name, URL: watch},
		Fields: []Field{
			{Name: "Game", Value: game, Inline: true},
			{Name: "Viewers", Value: viewers, Inline: true},
		},
	}
	if s.ThumbnailURL != "" {
		embed.Image = &Image{URL: s.ThumbnailAt(thumbnailWidth, thumbnailHeight)}
	}
	if !s.StartedAt.IsZero() {
		ts := s.StartedAt.UTC()
		embed.Timestamp = &ts
	}

	return Message{
		Content: content,
		Embeds:  []Embed{embed},
		Components: []ActionRow{{
			Type: componentActionRow,
			Components: []Button{{
				Type:  componentButton,
				Style: buttonStyleLink,
				Label: watchLabel,
				URL:   watch,
			}},
		}},
		AllowedMentions: AllowedMentions{Parse: []string{}, Roles: append([]string{}, sub.RoleIDs...)},
	}
}

func displayName(sub store.Subscription, s twitchapi.Stream) string {
	if s.UserName != "" {
		return s.UserName
	}
	return login(sub, s)
}

func login(sub store.Subscription, s twitchapi.Stream) string {
	if s.UserLogin != "" {
		return s.UserLogin
	}
	return sub.TwitchName
}
