package conversation

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/patrickmn/go-cache"
)

// Bus event kinds published after every store mutation.
const (
	EventUpdated  = "conversation.updated"
	EventRemoved  = "conversation.removed"
	EventCleared  = "conversation.cleared"
	EventReplaced = "conversation.replaced"
	EventFocused  = "conversation.focused"
)

// ErrNotFound is returned for operations on a conversation the store does not hold.
var ErrNotFound = errors.New("conversation not found")

// Change is the payload of conversation bus events.
type Change struct {
	ID      string
	Version uint64
}

// ReplaceStats summarizes a snapshot replacement.
type ReplaceStats struct {
	Applied int
	Kept    int
	Dropped int
	Removed int
	Version uint64
	// Stale is set when the snapshot was fetched before the last Clear and
	// was discarded.
	Stale bool
}

// AddResult tells what AddMessage did with a message.
type AddResult int

const (
	Ignored AddResult = iota
	Inserted
	Replaced
	Updated
)

// AddOutcome is returned by AddMessage.
type AddOutcome struct {
	Result  AddResult
	Created bool
}

// Options tunes a Store.
type Options struct {
	// DedupTolerance bounds the timestamp distance between a provisional
	// message and the confirmed echo that replaces it.
	DedupTolerance time.Duration
	// TombstoneTTL is how long a confirmed delete keeps a conversation from
	// being resurrected by a snapshot.
	TombstoneTTL time.Duration
}

// DefaultOptions are used for zero Options fields.
var DefaultOptions = Options{
	DedupTolerance: 2 * time.Minute,
	TombstoneTTL:   24 * time.Hour,
}

// Store is the in-memory conversation set. Every mutation is applied
// atomically under one lock and bumps the store version.
type Store struct {
	mu        sync.RWMutex
	convs     map[string]*Conversation
	focused   string
	version   uint64
	clearedAt uint64
	resets    map[string]uint64
	pending   map[string]time.Time
	deleted   *cache.Cache
	tolerance time.Duration
	bus       *bus.Bus
}

// NewStore creates an empty store. b may be nil.
func NewStore(b *bus.Bus, opts Options) *Store {
	if opts.DedupTolerance <= 0 {
		opts.DedupTolerance = DefaultOptions.DedupTolerance
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = DefaultOptions.TombstoneTTL
	}
	return &Store{
		convs:     make(map[string]*Conversation),
		resets:    make(map[string]uint64),
		pending:   make(map[string]time.Time),
		deleted:   cache.New(opts.TombstoneTTL, opts.TombstoneTTL/4),
		tolerance: opts.DedupTolerance,
		bus:       b,
	}
}

// Version returns the current store version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Get returns a copy of a conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Has reports whether the store holds id.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convs[id]
	return ok
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// IDs returns every conversation id.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List returns copies of all conversations, most recently active first.
func (s *Store) List() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// FindMessage returns the conversation holding message msgID.
func (s *Store) FindMessage(msgID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.convs {
		if c.indexOf(msgID) >= 0 {
			return id, true
		}
	}
	return "", false
}

// Focused returns the id of the conversation the user is viewing, or "".
func (s *Store) Focused() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused
}

// SetFocus marks id as the viewed conversation. Focusing an unknown id fails.
func (s *Store) SetFocus(id string) error {
	s.mu.Lock()
	if id != "" {
		if _, ok := s.convs[id]; !ok {
			s.mu.Unlock()
			return ErrNotFound
		}
	}
	if s.focused == id {
		s.mu.Unlock()
		return nil
	}
	s.focused = id
	s.version++
	change := Change{ID: id, Version: s.version}
	s.mu.Unlock()

	s.publish(EventFocused, change)
	return nil
}

// AddMessage inserts m into conversation convID, creating the conversation
// when needed. A message whose id is already known updates it in place, and a
// confirmed outbound message replaces the provisional message it echoes.
// Messages for a tombstoned conversation are ignored unless they are newer
// than the delete.
func (s *Store) AddMessage(convID string, m Message) AddOutcome {
	s.mu.Lock()
	var out AddOutcome
	conv, ok := s.convs[convID]
	if !ok {
		if at, dead := s.tombstoneLocked(convID); dead {
			if !m.Timestamp.After(at) {
				s.mu.Unlock()
				return AddOutcome{Result: Ignored}
			}
			s.forgetTombstoneLocked(convID)
		}
		conv = &Conversation{ID: convID, DisplayName: convID}
		s.convs[convID] = conv
		out.Created = true
	}
	out.Result = s.mergeMessageLocked(conv, m)
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return out
}

func (s *Store) mergeMessageLocked(conv *Conversation, m Message) AddResult {
	if i := conv.indexOf(m.ID); i >= 0 {
		existing := conv.Messages[i]
		m.Delivery = max(existing.Delivery, m.Delivery)
		if m.ClientMsgID == "" {
			m.ClientMsgID = existing.ClientMsgID
		}
		if m.Provisional() {
			m.Failed = existing.Failed
		}
		conv.Messages[i] = m
		return Updated
	}
	if i := matchProvisional(conv, m, s.tolerance); i >= 0 {
		prov := conv.Messages[i]
		m.ClientMsgID = prov.ID
		m.Delivery = max(prov.Delivery, m.Delivery)
		m.Failed = false
		conv.Messages[i] = m
		return Replaced
	}
	conv.Messages = append(conv.Messages, m)
	return Inserted
}

// ConfirmProvisional gives a provisional message its server id after the send
// was acknowledged. If the echo already arrived under serverID the
// provisional copy is dropped instead. It returns false when the provisional
// message is gone (already replaced by its echo).
func (s *Store) ConfirmProvisional(convID, provisionalID, serverID string, ts time.Time) bool {
	s.mu.Lock()
	conv, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := conv.indexOf(provisionalID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	prov := conv.Messages[i]
	if j := conv.indexOf(serverID); j >= 0 {
		conv.Messages[j].ClientMsgID = provisionalID
		conv.removeAt(i)
	} else {
		prov.ID = serverID
		prov.ClientMsgID = provisionalID
		prov.Delivery = max(prov.Delivery, DeliveryServerAck)
		prov.Failed = false
		if !ts.IsZero() {
			prov.Timestamp = ts
		}
		conv.Messages[i] = prov
	}
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// MarkFailed flags a provisional message whose send gave up.
func (s *Store) MarkFailed(convID, msgID string) bool {
	return s.updateMessage(convID, msgID, func(m *Message) bool {
		if m.Failed {
			return false
		}
		m.Failed = true
		return true
	})
}

// ClearFailed unflags a provisional message before it is resent.
func (s *Store) ClearFailed(convID, msgID string) bool {
	return s.updateMessage(convID, msgID, func(m *Message) bool {
		if !m.Failed {
			return false
		}
		m.Failed = false
		return true
	})
}

// ApplyDelivery sets the delivery state of a message. The most recently
// received state wins, even when it is lower than the current one.
func (s *Store) ApplyDelivery(convID, msgID string, state DeliveryState) bool {
	return s.updateMessage(convID, msgID, func(m *Message) bool {
		if m.Delivery == state {
			return false
		}
		m.Delivery = state
		return true
	})
}

// RemoveMessage drops a single message, e.g. a discarded failed send.
func (s *Store) RemoveMessage(convID, msgID string) bool {
	s.mu.Lock()
	conv, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := conv.indexOf(msgID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	conv.removeAt(i)
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

func (s *Store) updateMessage(convID, msgID string, fn func(m *Message) bool) bool {
	s.mu.Lock()
	conv, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	i := conv.indexOf(msgID)
	if i < 0 || !fn(&conv.Messages[i]) {
		s.mu.Unlock()
		return false
	}
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// MergeConversation folds a full conversation pushed by the remote into the
// store. Metadata is overwritten when present, messages are merged, and the
// unread count is left alone.
func (s *Store) MergeConversation(in Conversation) bool {
	s.mu.Lock()
	conv, ok := s.convs[in.ID]
	if !ok {
		if at, dead := s.tombstoneLocked(in.ID); dead {
			if !in.LastActivity().After(at) {
				s.mu.Unlock()
				return false
			}
			s.forgetTombstoneLocked(in.ID)
		}
		conv = &Conversation{ID: in.ID, DisplayName: in.ID}
		s.convs[in.ID] = conv
	}
	if in.DisplayName != "" {
		conv.DisplayName = in.DisplayName
	}
	if in.AvatarRef != "" {
		conv.AvatarRef = in.AvatarRef
	}
	conv.IsGroup = conv.IsGroup || in.IsGroup
	for _, m := range in.Messages {
		s.mergeMessageLocked(conv, m)
	}
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// SetAvatar replaces the avatar reference of a conversation.
func (s *Store) SetAvatar(id, ref string) bool {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || conv.AvatarRef == ref {
		s.mu.Unlock()
		return false
	}
	conv.AvatarRef = ref
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// SetUnread applies an authoritative unread count fetched while the store was
// at version base. The write is refused for the focused conversation and when
// the user reset the count after base.
func (s *Store) SetUnread(id string, n int, base uint64) bool {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok || id == s.focused || s.resets[id] > base || conv.UnreadCount == n {
		s.mu.Unlock()
		return false
	}
	conv.UnreadCount = max(n, 0)
	change := s.touchLocked(conv)
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// ResetUnread zeroes the unread count locally and records the reset so that
// corrections fetched earlier cannot undo it.
func (s *Store) ResetUnread(id string) bool {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	conv.UnreadCount = 0
	change := s.touchLocked(conv)
	s.resets[id] = s.version
	s.mu.Unlock()

	s.publish(EventUpdated, change)
	return true
}

// Remove deletes a conversation and tombstones its id. A confirmed tombstone
// expires after the TTL; an unconfirmed one lasts until ConfirmTombstone.
// Removing the focused conversation clears the focus.
func (s *Store) Remove(id string, confirmed bool) bool {
	s.mu.Lock()
	_, ok := s.convs[id]
	delete(s.convs, id)
	delete(s.resets, id)
	now := time.Now()
	if confirmed {
		delete(s.pending, id)
		s.deleted.SetDefault(id, now)
	} else {
		s.pending[id] = now
	}
	if s.focused == id {
		s.focused = ""
	}
	s.version++
	change := Change{ID: id, Version: s.version}
	s.mu.Unlock()

	if ok {
		s.publish(EventRemoved, change)
	}
	return ok
}

// AddPendingTombstone blocks id from snapshots until its delete is confirmed.
func (s *Store) AddPendingTombstone(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = at
}

// ConfirmTombstone turns a pending tombstone into an expiring one.
func (s *Store) ConfirmTombstone(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	s.deleted.SetDefault(id, at)
}

// Tombstoned reports whether id was deleted locally and must not be resurrected.
func (s *Store) Tombstoned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstoneLocked(id)
	return ok
}

func (s *Store) tombstoneLocked(id string) (time.Time, bool) {
	if at, ok := s.pending[id]; ok {
		return at, true
	}
	if v, ok := s.deleted.Get(id); ok {
		return v.(time.Time), true
	}
	return time.Time{}, false
}

func (s *Store) forgetTombstoneLocked(id string) {
	delete(s.pending, id)
	s.deleted.Delete(id)
}

// ReplaceAll swaps the conversation set for a snapshot fetched while the
// store was at version base. Conversations mutated after base keep their
// local state, tombstoned ids are dropped, unread counts are never taken from
// the snapshot, and unconfirmed provisional messages survive. A snapshot
// fetched before the last Clear belongs to the previous account session and
// is discarded.
func (s *Store) ReplaceAll(snapshot map[string]Conversation, base uint64) ReplaceStats {
	var stats ReplaceStats
	s.mu.Lock()
	if base < s.clearedAt {
		stats.Stale = true
		stats.Version = s.version
		s.mu.Unlock()
		return stats
	}
	s.version++
	next := make(map[string]*Conversation, len(snapshot))

	for id, in := range snapshot {
		if _, dead := s.tombstoneLocked(id); dead {
			stats.Dropped++
			continue
		}
		cur, exists := s.convs[id]
		if exists && cur.Version > base {
			next[id] = cur
			stats.Kept++
			continue
		}
		c := in.clone()
		c.ID = id
		msgs := c.Messages
		c.Messages = make([]Message, 0, len(msgs))
		for _, m := range msgs {
			s.mergeMessageLocked(&c, m)
		}
		if c.DisplayName == "" {
			c.DisplayName = id
		}
		c.UnreadCount = 0
		if exists {
			c.UnreadCount = cur.UnreadCount
			if c.AvatarRef == "" {
				c.AvatarRef = cur.AvatarRef
			}
			for _, m := range cur.Messages {
				if !m.Provisional() || c.indexOf(m.ID) >= 0 || echoed(&c, m, s.tolerance) {
					continue
				}
				c.Messages = append(c.Messages, m)
			}
		}
		c.Version = s.version
		next[id] = &c
		stats.Applied++
	}

	for id, cur := range s.convs {
		if _, ok := next[id]; ok {
			continue
		}
		if cur.Version > base {
			next[id] = cur
			stats.Kept++
			continue
		}
		stats.Removed++
	}

	s.convs = next
	for id := range s.resets {
		if _, ok := next[id]; !ok {
			delete(s.resets, id)
		}
	}
	if _, ok := next[s.focused]; !ok {
		s.focused = ""
	}
	stats.Version = s.version
	s.mu.Unlock()

	s.publish(EventReplaced, stats)
	return stats
}

// echoed reports whether the snapshot already holds the confirmed copy of provisional message p.
func echoed(c *Conversation, p Message, tolerance time.Duration) bool {
	for _, m := range c.Messages {
		if m.Provisional() || !m.FromMe {
			continue
		}
		if m.ClientMsgID == p.ID || (bodiesMatch(m.Body, p.Body) && withinTolerance(m.Timestamp, p.Timestamp, tolerance)) {
			return true
		}
	}
	return false
}

// Clear drops every conversation, the focus and all tombstones. Used when the
// account session ends.
func (s *Store) Clear() {
	s.mu.Lock()
	s.convs = make(map[string]*Conversation)
	s.resets = make(map[string]uint64)
	s.pending = make(map[string]time.Time)
	s.deleted.Flush()
	s.focused = ""
	s.version++
	s.clearedAt = s.version
	change := Change{Version: s.version}
	s.mu.Unlock()

	s.publish(EventCleared, change)
}

func (s *Store) touchLocked(conv *Conversation) Change {
	s.version++
	conv.Version = s.version
	return Change{ID: conv.ID, Version: s.version}
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
