// Package events carries sequence and processor notifications to in-process
// subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	RunStarted         Type = "run.started"
	RunCompleted       Type = "run.completed"
	ProcessorCompleted Type = "processor.completed"
	ProcessorFailed    Type = "processor.failed"
	ModeChanged        Type = "mode.changed"
)

type Event struct {
	ID          string    `json:"id"`
	SequenceID  string    `json:"sequence_id"`
	ProcessorID string    `json:"processor_id,omitempty"`
	Type        Type      `json:"type"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(typ Type, sequenceID, processorID string, payload any) Event {
	return Event{
		ID:          uuid.NewString(),
		SequenceID:  sequenceID,
		ProcessorID: processorID,
		Type:        typ,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
}

type Handler func(Event)

type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish calls every handler synchronously on the caller's goroutine.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Channel delivers events to a buffered channel until ctx is done. Events
// published while the buffer is full are dropped.
func (b *Bus) Channel(ctx context.Context, bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	var mu sync.Mutex
	closed := false
	b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
