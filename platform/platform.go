// Package platform describes the chat platform operations the bot consumes. The Discord adapter
// and the in-memory ledger both implement Platform.
package platform

import (
	"context"
	"errors"
)

// Vote emojis attached to every message of a monitored channel, in this order.
const (
	Upvote   = "👍"
	Downvote = "👎"
)

// ErrChannelNotFound is returned by FindChannel when no channel has the given name.
var ErrChannelNotFound = errors.New("channel not found")

type Channel struct {
	ID   string
	Name string
}

// Message is an inbound chat message. IDs are platform ids rendered as strings.
type Message struct {
	ID          string
	ChannelID   string
	ChannelName string
	AuthorID    string
	AuthorName  string
	AuthorBot   bool
	Content     string
}

// Reaction is an inbound reaction-add event.
type Reaction struct {
	MessageID   string
	ChannelID   string
	ChannelName string
	Emoji       string
	UserID      string
	// RoleNames of the reacting member, used for exemptions.
	RoleNames []string
}

// ReactionSummary is one emoji on a message together with the users currently reacting with it.
type ReactionSummary struct {
	Emoji   string
	Count   int
	Members []string
}

// HasMember reports whether userID currently reacts with this emoji.
func (r ReactionSummary) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Platform interface {
	FindChannel(ctx context.Context, name string) (*Channel, error)
	Send(ctx context.Context, channelID, text string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	// RemoveReaction removes userID from the emoji set; removing an absent member is not an error.
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	// ListReactions returns the message's reactions in the order they were first added.
	ListReactions(ctx context.Context, channelID, messageID string) ([]ReactionSummary, error)
}
