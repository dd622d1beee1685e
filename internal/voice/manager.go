package voice

import (
	"log/slog"
	"sync"
)

// Manager tracks live voice sessions per device and tab. A device may
// hold several tabs, each with its own independent lifecycle.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*Session),
	}
}

// Register adds a voice session for a device/tab. An existing session for
// the same tab is reset and replaced.
func (m *Manager) Register(deviceID, tabID string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[string]*Session)
	}

	if existing, exists := m.active[deviceID][tabID]; exists && existing != sess {
		existing.Reset()
	}

	m.active[deviceID][tabID] = sess
	slog.Info("Voice session registered", "device_id", deviceID, "tab_id", tabID)
}

// Unregister removes a voice session for a device/tab. The session is not
// removed if a newer one already replaced it.
func (m *Manager) Unregister(deviceID, tabID string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[deviceID]; ok {
		if current, exists := tabs[tabID]; exists && current == sess {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(m.active, deviceID)
			}
			slog.Info("Voice session unregistered", "device_id", deviceID, "tab_id", tabID)
		}
	}
}

// Count returns the number of live sessions across all devices.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tabs := range m.active {
		n += len(tabs)
	}
	return n
}
