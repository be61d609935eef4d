// Package store provides a small key-value and pub/sub abstraction used for
// token replay marks and cross-node sync notifications. The memory
// implementation serves single-device deployments; Redis serves kiosk
// fleets sharing lockout and replay state.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Message is a single pub/sub message.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// Store is the shared key-value + pub/sub contract.
type Store interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	// SetNX sets the key only if it does not exist; it returns true when
	// the key was set. Used for single-consumption token marks.
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	Publish(channel string, message []byte) error
	Subscribe(channel string) (Subscription, error)
	Close() error
}
