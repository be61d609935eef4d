package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type memoryItem struct {
	value     []byte
	expiresAt int64 // Unix-nano timestamp, 0 for no expiry.
}

// MemoryStore is an in-memory Store safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	data          map[string]memoryItem
	muSubscribers sync.RWMutex
	subscribers   map[string]map[chan *Message]struct{}
	stopCleanup   chan struct{}
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		data:        make(map[string]memoryItem),
		subscribers: make(map[string]map[chan *Message]struct{}),
		stopCleanup: make(chan struct{}),
	}
	// Expired replay marks are cleaned lazily on access; the sweep keeps
	// never-touched keys from accumulating.
	go s.cleanupLoop()
	return s
}

// Close stops the cleanup goroutine and terminates all subscriptions.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.muSubscribers.Lock()
	for channel, subs := range s.subscribers {
		for subCh := range subs {
			close(subCh)
		}
		delete(s.subscribers, channel)
	}
	s.muSubscribers.Unlock()
	return nil
}

// Set stores a key-value pair.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryItem{value: value, expiresAt: expiry(ttl)}
	return nil
}

// Get retrieves a value by its key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	item, exists := s.data[key]
	s.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	if expired(item) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return item.value, nil
}

// SetNX sets a key-value pair if the key does not already exist.
func (s *MemoryStore) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, exists := s.data[key]; exists && !expired(item) {
		return false, nil
	}
	s.data[key] = memoryItem{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Exists checks whether a key exists and is not expired.
func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.RLock()
	item, exists := s.data[key]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}
	if expired(item) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Publish sends a message to all subscribers of a channel. Delivery is
// at-most-once: messages are dropped under backpressure rather than
// blocking the publisher.
func (s *MemoryStore) Publish(channel string, message []byte) error {
	s.muSubscribers.RLock()
	defer s.muSubscribers.RUnlock()

	msg := &Message{Channel: channel, Payload: message}
	for subCh := range s.subscribers[channel] {
		select {
		case subCh <- msg:
		default:
			logrus.WithField("channel", channel).Debug("Dropped message due to full subscriber buffer")
		}
	}
	return nil
}

// Subscribe listens for messages on a channel.
func (s *MemoryStore) Subscribe(channel string) (Subscription, error) {
	s.muSubscribers.Lock()
	defer s.muSubscribers.Unlock()

	msgChan := make(chan *Message, 16)
	if _, ok := s.subscribers[channel]; !ok {
		s.subscribers[channel] = make(map[chan *Message]struct{})
	}
	s.subscribers[channel][msgChan] = struct{}{}

	return &memorySubscription{store: s, channel: channel, msgChan: msgChan}, nil
}

type memorySubscription struct {
	store     *MemoryStore
	channel   string
	msgChan   chan *Message
	closeOnce sync.Once
}

func (ms *memorySubscription) Channel() <-chan *Message {
	return ms.msgChan
}

func (ms *memorySubscription) Close() error {
	ms.closeOnce.Do(func() {
		ms.store.muSubscribers.Lock()
		defer ms.store.muSubscribers.Unlock()
		subs, ok := ms.store.subscribers[ms.channel]
		if !ok {
			// Store already closed and released this subscription.
			return
		}
		if _, registered := subs[ms.msgChan]; !registered {
			return
		}
		delete(subs, ms.msgChan)
		if len(subs) == 0 {
			delete(ms.store.subscribers, ms.channel)
		}
		close(ms.msgChan)
	})
	return nil
}

func expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().UnixNano() + ttl.Nanoseconds()
}

func expired(item memoryItem) bool {
	return item.expiresAt > 0 && time.Now().UnixNano() > item.expiresAt
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now().UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.data {
		if item.expiresAt > 0 && now > item.expiresAt {
			delete(s.data, key)
		}
	}
}
