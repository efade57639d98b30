// Package notify is the single sink through which alert, pause, resume
// and rate-limit notifications leave the core. The concrete transport
// is a collaborator concern; the Hub fans events out to dashboard
// websocket clients, and LogSink writes them to the process log.
package notify

import (
	"log"
	"time"
)

// Sink receives control-plane notifications. Implementations must not
// block: threshold breaches and pause actions are control-plane
// signals, not errors, and must never stall the caller.
type Sink interface {
	Notify(topic string, payload map[string]any)
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogSink writes notifications to the standard logger.
type LogSink struct{}

func (LogSink) Notify(topic string, payload map[string]any) {
	log.Printf("[notify] %s: %v", topic, payload)
}

type multiSink []Sink

func (m multiSink) Notify(topic string, payload map[string]any) {
	for _, s := range m {
		s.Notify(topic, payload)
	}
}

// Multi fans a notification out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}
