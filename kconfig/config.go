// Package kconfig provides a simple key-value configuration store used to
// carry boot-time settings (such as the scheduler mode) between the
// command line, the pubsub settings bus and the
// kernel subsystems that read them at boot.
package kconfig

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrKeyNotFound is returned by Get when the requested key has no value.
var ErrKeyNotFound = errors.New("kconfig: key not found")

// Config defines a simple key-value configuration. Keys and values are
// strings, and a key can have exactly one value. The client is responsible
// for encoding structured values, or multiple values, in the provided string.
//
// Config data can come from several sources: command line flags, the
// pubsub settings bus, or manual Set calls made during boot sequencing.
// This interface makes no assumptions about the source of the configuration,
// but provides a unified API for accessing it.
type Config interface {
	// Set sets the value for the key. If the key already exists in the
	// config, its value is overwritten.
	Set(key, value string)
	// Get returns the value for the key. If the key doesn't exist in the
	// config, Get returns ErrKeyNotFound.
	Get(key string) (string, error)
	// Serialize serializes the config to a string.
	Serialize() (string, error)
	// MergeFrom deserializes config information from a string created using
	// Serialize(), and merges this information into the config, updating
	// values for keys that already exist and creating new key-value pairs
	// for keys that don't.
	MergeFrom(string) error
}

type cfg struct {
	mu sync.RWMutex
	m  map[string]string
}

// New creates a new empty config.
func New() Config {
	return &cfg{m: make(map[string]string)}
}

func (c *cfg) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *cfg) Get(key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (c *cfg) Serialize() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := json.Marshal(c.m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cfg) MergeFrom(serialized string) error {
	var newM map[string]string
	if err := json.Unmarshal([]byte(serialized), &newM); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range newM {
		c.m[k] = v
	}
	return nil
}
