// Package monitor collects alerts and engine metrics for the API surface.
package monitor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"position-engine/internal/events"
)

// Level grades alert severity.
type Level string

const (
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

// Alert is one raised condition.
type Alert struct {
	Level   Level     `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Center keeps a bounded ring of recent alerts and fans them out to sinks.
// It satisfies the trade service's Alerter.
type Center struct {
	Bus *events.Bus

	mu    sync.Mutex
	ring  []Alert
	max   int
	sinks []AlertSink
}

// NewCenter creates an alert center keeping the last max alerts.
func NewCenter(bus *events.Bus, max int) *Center {
	if max <= 0 {
		max = 200
	}
	return &Center{Bus: bus, max: max}
}

// AddSink registers a delivery sink. Sink failures are logged, never raised.
func (c *Center) AddSink(s AlertSink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
}

// Critical raises a critical alert.
func (c *Center) Critical(code, format string, args ...any) {
	c.raise(LevelCritical, code, format, args...)
}

// Warn raises a warning alert.
func (c *Center) Warn(code, format string, args ...any) {
	c.raise(LevelWarn, code, format, args...)
}

func (c *Center) raise(level Level, code, format string, args ...any) {
	a := Alert{
		Level:   level,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Time:    time.Now(),
	}
	log.Printf("alert[%s] %s: %s", a.Level, a.Code, a.Message)

	c.mu.Lock()
	c.ring = append(c.ring, a)
	if len(c.ring) > c.max {
		c.ring = c.ring[len(c.ring)-c.max:]
	}
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(a); err != nil {
			log.Printf("alert sink: %v", err)
		}
	}
	if c.Bus != nil {
		c.Bus.Publish(events.EventAlert, a)
	}
}

// Recent returns up to limit alerts, newest first.
func (c *Center) Recent(limit int) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.ring) {
		limit = len(c.ring)
	}
	out := make([]Alert, 0, limit)
	for i := len(c.ring) - 1; i >= len(c.ring)-limit; i-- {
		out = append(out, c.ring[i])
	}
	return out
}
