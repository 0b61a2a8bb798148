package whatsapp

import (
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/internal/connectors"
)

// history keeps the most recent messages per chat. whatsmeow has no server-side
// chat listing, so this is what backs the chats and chat messages views.
type history struct {
	mu    sync.Mutex
	limit int
	chats map[string]*chatLog
}

type chatLog struct {
	name     string
	isGroup  bool
	lastAt   time.Time
	total    int
	messages []connectors.Message
}

func newHistory(limit int) *history {
	return &history{limit: limit, chats: make(map[string]*chatLog)}
}

func (h *history) add(msg connectors.Message) {
	if h.limit <= 0 || msg.ChatID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	log, ok := h.chats[msg.ChatID]
	if !ok {
		log = &chatLog{isGroup: msg.IsGroup}
		h.chats[msg.ChatID] = log
	}
	if !msg.FromMe && !msg.IsGroup && msg.PushName != "" {
		log.name = msg.PushName
	}
	if msg.Timestamp.After(log.lastAt) {
		log.lastAt = msg.Timestamp
	}
	log.total++
	log.messages = append(log.messages, msg)
	if over := len(log.messages) - h.limit; over > 0 {
		log.messages = append(log.messages[:0:0], log.messages[over:]...)
	}
}

// messages returns up to limit of the newest messages in chat, oldest first.
func (h *history) messages(chatID string, limit int) []connectors.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	log, ok := h.chats[chatID]
	if !ok {
		return []connectors.Message{}
	}
	msgs := log.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]connectors.Message(nil), msgs...)
}

// list returns the known chats, most recently active first.
func (h *history) list() []connectors.Chat {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]connectors.Chat, 0, len(h.chats))
	for id, log := range h.chats {
		out = append(out, connectors.Chat{
			ID:            id,
			Name:          log.name,
			IsGroup:       log.isGroup,
			LastMessageAt: log.lastAt,
			MessageCount:  log.total,
		})
	}
	sortChats(out)
	return out
}

func sortChats(chats []connectors.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].LastMessageAt.Equal(chats[j].LastMessageAt) {
			return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
		}
		return chats[i].ID < chats[j].ID
	})
}
