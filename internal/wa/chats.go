package wa

import (
	"slices"
	"sort"
	"sync"

	"github.com/matheus3301/canteiro/internal/remote"
)

// maxCachedMessages bounds the history kept per chat.
const maxCachedMessages = 200

// Chats is the in-memory chat index that stands in for the server snapshot.
// whatsmeow has no "list chats" call: chats are learned from history sync
// and live traffic.
type Chats struct {
	mu    sync.RWMutex
	convs map[string]*remote.RawConversation
}

// NewChats creates an empty chat index.
func NewChats() *Chats {
	return &Chats{convs: make(map[string]*remote.RawConversation)}
}

func (c *Chats) entry(id string) (*remote.RawConversation, bool) {
	conv, ok := c.convs[id]
	if !ok {
		conv = &remote.RawConversation{ID: id}
		c.convs[id] = conv
	}
	return conv, !ok
}

// Put records a message. Inbound messages raise the unread count. Returns
// whether the chat was new.
func (c *Chats) Put(m remote.RawMessage) bool {
	id := m.ConversationID()
	if id == "" || id == Self {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, created := c.entry(id)
	if insertMessage(conv, m) && !m.FromMe {
		conv.UnreadCount++
	}
	return created
}

// Merge folds a history sync conversation into the index. Name and unread
// come from the sync; messages are merged by id.
func (c *Chats) Merge(in remote.RawConversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, _ := c.entry(in.ID)
	if in.Name != "" {
		conv.Name = in.Name
	}
	conv.IsGroup = conv.IsGroup || in.IsGroup
	conv.UnreadCount = in.UnreadCount
	for _, m := range in.Messages {
		insertMessage(conv, m)
	}
}

// insertMessage adds m in timestamp order unless its id is already present.
func insertMessage(conv *remote.RawConversation, m remote.RawMessage) bool {
	for _, existing := range conv.Messages {
		if existing.ID == m.ID {
			return false
		}
	}
	conv.Messages = append(conv.Messages, m)
	sort.SliceStable(conv.Messages, func(i, j int) bool {
		return conv.Messages[i].Timestamp.Before(conv.Messages[j].Timestamp)
	})
	if over := len(conv.Messages) - maxCachedMessages; over > 0 {
		conv.Messages = slices.Delete(conv.Messages, 0, over)
	}
	return true
}

// SetName sets the display name of a known chat.
func (c *Chats) SetName(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[id]; ok && name != "" {
		conv.Name = name
	}
}

// FillNames names known chats that have no name yet. It returns how many
// chats were named.
func (c *Chats) FillNames(names map[string]string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, conv := range c.convs {
		if conv.Name == "" && names[id] != "" {
			conv.Name = names[id]
			n++
		}
	}
	return n
}

// SetGroup flags a known chat as a group.
func (c *Chats) SetGroup(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[id]; ok {
		conv.IsGroup = true
	}
}

// SetAvatar records the avatar reference of a known chat.
func (c *Chats) SetAvatar(id, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[id]; ok {
		conv.AvatarURL = ref
	}
}

// Snapshot returns a deep copy of every chat.
func (c *Chats) Snapshot() map[string]remote.RawConversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]remote.RawConversation, len(c.convs))
	for id, conv := range c.convs {
		cp := *conv
		cp.Messages = slices.Clone(conv.Messages)
		out[id] = cp
	}
	return out
}

// Unread returns the unread count of each known id.
func (c *Chats) Unread(ids []string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if conv, ok := c.convs[id]; ok {
			out[id] = conv.UnreadCount
		}
	}
	return out
}

// Has reports whether the chat is known.
func (c *Chats) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.convs[id]
	return ok
}

// IsGroup reports whether the chat is a group.
func (c *Chats) IsGroup(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	return ok && conv.IsGroup
}

// Last returns the newest message of a chat.
func (c *Chats) Last(id string) (remote.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	if !ok || len(conv.Messages) == 0 {
		return remote.RawMessage{}, false
	}
	return conv.Messages[len(conv.Messages)-1], true
}

// UnreadInbound returns the newest inbound messages covered by the unread count.
func (c *Chats) UnreadInbound(id string) []remote.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[id]
	if !ok || conv.UnreadCount == 0 {
		return nil
	}
	var out []remote.RawMessage
	for i := len(conv.Messages) - 1; i >= 0 && len(out) < conv.UnreadCount; i-- {
		if m := conv.Messages[i]; !m.FromMe {
			out = append(out, m)
		}
	}
	return out
}

// ResetUnread zeroes the unread count of a chat.
func (c *Chats) ResetUnread(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[id]; ok {
		conv.UnreadCount = 0
	}
}

// Remove drops a chat. Returns false if it was unknown.
func (c *Chats) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.convs[id]; !ok {
		return false
	}
	delete(c.convs, id)
	return true
}

// Clear drops every chat.
func (c *Chats) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convs = make(map[string]*remote.RawConversation)
}
