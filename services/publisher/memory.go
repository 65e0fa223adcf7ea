package publisher

import "sync"

// Message is one published message
type Message struct {
	Key  string
	Data []byte
}

// MemoryPublisher keeps messages in process, for tests and runs without Redis
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	trims    int
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Key: key, Data: append([]byte(nil), message...)})
	return nil
}

func (m *MemoryPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MemoryPublisher) Close() error {
	return nil
}

// Messages returns the messages published under key, or all when key is empty
func (m *MemoryPublisher) Messages(key string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, msg := range m.messages {
		if key == "" || msg.Key == key {
			out = append(out, msg)
		}
	}
	return out
}

// Trims returns how many times TrimStreams ran
func (m *MemoryPublisher) Trims() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trims
}
