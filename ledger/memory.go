// Package ledger holds an in-process reaction ledger implementing platform.Platform.
//
// Reactions live in a flat map keyed by (message id, emoji); each message keeps the order in
// which its emojis first appeared so ListReactions matches what a chat client shows.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/srteclados/clackbot/platform"
)

// BotUserID is the member id used for reactions added through React.
const BotUserID = "bot"

type key struct {
	messageID string
	emoji     string
}

// SentMessage is a text delivered through Send.
type SentMessage struct {
	ChannelID string
	Text      string
}

// Memory is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	nextID    int
	channels  map[string]platform.Channel // by name
	order     map[string][]string         // message id -> emojis in first-seen order
	members   map[key][]string
	sent      []SentMessage
	reactLog  []key
	removeLog []string
}

func NewMemory() *Memory {
	return &Memory{
		channels: make(map[string]platform.Channel),
		order:    make(map[string][]string),
		members:  make(map[key][]string),
	}
}

// AddChannel registers a channel and returns it.
func (m *Memory) AddChannel(name string) platform.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	m.nextID++
	ch := platform.Channel{ID: "c" + strconv.Itoa(m.nextID), Name: name}
	m.channels[name] = ch
	return ch
}

// Post creates a message in the channel and returns it ready for dispatch.
func (m *Memory) Post(ch platform.Channel, authorID, content string) platform.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "m" + strconv.Itoa(m.nextID)
	m.order[id] = nil
	return platform.Message{ID: id, ChannelID: ch.ID, ChannelName: ch.Name, AuthorID: authorID, Content: content}
}

// AddReaction records userID reacting with emoji, as a gateway event would. It reports whether
// the reaction was new.
func (m *Memory) AddReaction(messageID, emoji, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(messageID, emoji, userID)
}

func (m *Memory) addLocked(messageID, emoji, userID string) bool {
	k := key{messageID, emoji}
	if slices.Contains(m.members[k], userID) {
		return false
	}
	if _, seen := m.members[k]; !seen {
		m.order[messageID] = append(m.order[messageID], emoji)
	}
	m.members[k] = append(m.members[k], userID)
	return true
}

// Members returns the users reacting with emoji on the message.
func (m *Memory) Members(messageID, emoji string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.members[key{messageID, emoji}])
}

// UserVotes lists the emojis userID currently holds on the message.
func (m *Memory) UserVotes(messageID, userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.order[messageID] {
		if slices.Contains(m.members[key{messageID, e}], userID) {
			out = append(out, e)
		}
	}
	return out
}

// Sent returns every message delivered through Send.
func (m *Memory) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// BotReactions lists the emojis added through React on a message, in call order.
func (m *Memory) BotReactions(messageID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, k := range m.reactLog {
		if k.messageID == messageID {
			out = append(out, k.emoji)
		}
	}
	return out
}

// Removals returns the number of RemoveReaction calls that removed someone.
func (m *Memory) Removals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removeLog)
}

func (m *Memory) FindChannel(_ context.Context, name string) (*platform.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrChannelNotFound, name)
	}
	return &ch, nil
}

func (m *Memory) Send(_ context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{ChannelID: channelID, Text: text})
	return nil
}

func (m *Memory) React(_ context.Context, _ string, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactLog = append(m.reactLog, key{messageID, emoji})
	m.addLocked(messageID, emoji, BotUserID)
	return nil
}

func (m *Memory) RemoveReaction(_ context.Context, _ string, messageID, emoji, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{messageID, emoji}
	i := slices.Index(m.members[k], userID)
	if i < 0 {
		return nil
	}
	m.members[k] = slices.Delete(m.members[k], i, i+1)
	m.removeLog = append(m.removeLog, messageID+"/"+emoji+"/"+userID)
	return nil
}

func (m *Memory) ListReactions(_ context.Context, _ string, messageID string) ([]platform.ReactionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []platform.ReactionSummary
	for _, e := range m.order[messageID] {
		members := m.members[key{messageID, e}]
		if len(members) == 0 {
			continue
		}
		out = append(out, platform.ReactionSummary{Emoji: e, Count: len(members), Members: slices.Clone(members)})
	}
	return out, nil
}
