package scraper

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmaguirre/mercadoscan/models"
)

// EventSink receives the structured progress stream of a crawl run.
// Implementations must be safe for use from a single crawl goroutine;
// the crawl loop never emits concurrently.
type EventSink interface {
	Emit(models.CrawlEvent)
}

// BufferSink accumulates crawl events in memory and mirrors them to the
// structured logger. It replaces the captured-stdout log panel of the
// operator UI: the buffered lines are attached to the crawl response.
type BufferSink struct {
	mu     sync.Mutex
	events []models.CrawlEvent
}

// NewBufferSink returns an empty sink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// Emit records the event and logs it.
func (b *BufferSink) Emit(e models.CrawlEvent) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()

	slog.Debug("crawl event",
		slog.String("kind", e.Kind),
		slog.Int("page", e.Page),
		slog.String("message", e.Message),
	)
}

// Events returns a copy of everything emitted so far.
func (b *BufferSink) Events() []models.CrawlEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.CrawlEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Lines renders the events as a human-readable narrative for operators.
func (b *BufferSink) Lines() []string {
	events := b.Events()
	lines := make([]string, 0, len(events))
	for _, e := range events {
		if e.Page > 0 {
			lines = append(lines, fmt.Sprintf("[page %d] %s: %s", e.Page, e.Kind, e.Message))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.Kind, e.Message))
	}
	return lines
}

type nopSink struct{}

func (nopSink) Emit(models.CrawlEvent) {}
