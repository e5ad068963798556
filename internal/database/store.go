package database

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// errDuplicateEntry is MySQL's ER_DUP_ENTRY
const errDuplicateEntry = 1062

var (
	// ErrChatExists is returned when a chat's GroupMe id is already registered
	ErrChatExists = errors.New("chat already exists")

	// ErrSameEnv is returned when chats are copied onto their own environment
	ErrSameEnv = errors.New("source and destination environments are the same")
)

// Chat is a GroupMe floor chat registered for a building
type Chat struct {
	GroupID    string `json:"groupme_id"`
	BuildingID string `json:"building_id"`
	Floor      int    `json:"floor_number"`
	Env        string `json:"env"`
}

// ChatStore is the chat registry used by the bot backend
type ChatStore interface {
	AddChat(ctx context.Context, chat Chat) (Chat, error)
	ChatExists(ctx context.Context, groupID string) (bool, error)
	ChatsByBuildings(ctx context.Context, buildingIDs []string) ([]Chat, error)
}

// ChatCopier copies the registry of one environment into another
type ChatCopier interface {
	CopyChats(ctx context.Context, fromEnv, toEnv string, dryRun bool) (int, error)
}

// MemoryStore keeps chats in process memory. It is used when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	env   string
	chats []Chat
}

// NewMemoryStore returns an empty MemoryStore that tags chats with env
func NewMemoryStore(env string) *MemoryStore {
	return &MemoryStore{env: env}
}

// AddChat implements ChatStore
func (m *MemoryStore) AddChat(_ context.Context, chat Chat) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.chats {
		if existing.GroupID == chat.GroupID && existing.Env == m.env {
			return Chat{}, ErrChatExists
		}
	}
	chat.Env = m.env
	m.chats = append(m.chats, chat)
	return chat, nil
}

// ChatExists implements ChatStore
func (m *MemoryStore) ChatExists(_ context.Context, groupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, chat := range m.chats {
		if chat.GroupID == groupID && chat.Env == m.env {
			return true, nil
		}
	}
	return false, nil
}

// ChatsByBuildings implements ChatStore
func (m *MemoryStore) ChatsByBuildings(_ context.Context, buildingIDs []string) ([]Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chats []Chat
	for _, chat := range m.chats {
		if chat.Env == m.env && slices.Contains(buildingIDs, chat.BuildingID) {
			chats = append(chats, chat)
		}
	}
	return chats, nil
}

// CopyChats implements ChatCopier
func (m *MemoryStore) CopyChats(_ context.Context, fromEnv, toEnv string, dryRun bool) (int, error) {
	if fromEnv == toEnv {
		return 0, ErrSameEnv
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var source []Chat
	for _, chat := range m.chats {
		if chat.Env == fromEnv {
			source = append(source, chat)
		}
	}
	if dryRun {
		return len(source), nil
	}

	for _, chat := range source {
		chat.Env = toEnv
		i := slices.IndexFunc(m.chats, func(existing Chat) bool {
			return existing.GroupID == chat.GroupID && existing.Env == toEnv
		})
		if i >= 0 {
			m.chats[i] = chat
			continue
		}
		m.chats = append(m.chats, chat)
	}
	return len(source), nil
}

var (
	_ ChatStore  = (*Datastore)(nil)
	_ ChatStore  = (*MemoryStore)(nil)
	_ ChatCopier = (*Datastore)(nil)
	_ ChatCopier = (*MemoryStore)(nil)
)
