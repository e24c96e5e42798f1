package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// HistoryPreload is how many stored messages a room loads on activation.
	HistoryPreload int `yaml:"history_preload"`

	Runtime RuntimeTuning `yaml:"runtime"`
	Session SessionTuning `yaml:"session"`
}

type RuntimeTuning struct {
	InboxSize   int `yaml:"inbox_size"`
	FanOutLimit int `yaml:"fan_out_limit"`
}

type SessionTuning struct {
	QueueSize     int `yaml:"queue_size"`
	CallTimeoutMs int `yaml:"call_timeout_ms"`
}

func (s SessionTuning) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutMs) * time.Millisecond
}

func DefaultTuning() Tuning {
	return Tuning{
		HistoryPreload: 10,
		Runtime:        RuntimeTuning{InboxSize: 256},
		Session:        SessionTuning{QueueSize: 64, CallTimeoutMs: 5000},
	}
}

// LoadTuning reads path over the defaults. A missing file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	switch {
	case t.HistoryPreload < 0:
		return fmt.Errorf("history_preload must be >= 0, got %d", t.HistoryPreload)
	case t.Runtime.InboxSize < 0:
		return fmt.Errorf("runtime.inbox_size must be >= 0, got %d", t.Runtime.InboxSize)
	case t.Runtime.FanOutLimit < 0:
		return fmt.Errorf("runtime.fan_out_limit must be >= 0, got %d", t.Runtime.FanOutLimit)
	case t.Session.QueueSize < 0:
		return fmt.Errorf("session.queue_size must be >= 0, got %d", t.Session.QueueSize)
	case t.Session.CallTimeoutMs < 0:
		return fmt.Errorf("session.call_timeout_ms must be >= 0, got %d", t.Session.CallTimeoutMs)
	}
	return nil
}
