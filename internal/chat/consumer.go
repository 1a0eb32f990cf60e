// Package chat streams answers from the knowledge-base chat endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgallion1/docview/internal/sse"
)

type EventKind string

const (
	EventSources EventKind = "sources"
	EventToken   EventKind = "token"
	EventRefusal EventKind = "refusal"
	EventError   EventKind = "error"
	EventDone    EventKind = "done"
)

// Source is a document the answer was drawn from.
type Source struct {
	DocumentID uint64 `json:"document_id"`
	Title      string `json:"title"`
	FilePath   string `json:"file_path"`
}

// Event is one decoded chat stream frame.
type Event struct {
	Kind    EventKind
	Content string
	Message string
	Sources []Source
}

type textPayload struct {
	Content string `json:"content"`
	Message string `json:"message"`
}

type donePayload struct {
	Message string   `json:"message"`
	Sources []Source `json:"sources"`
}

// Consumer decodes chat streams into events.
type Consumer struct {
	log *slog.Logger
}

func NewConsumer(log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{log: log}
}

// Stream calls fn for each event until the body ends. Frames that fail to
// decode and unknown event names are logged and skipped.
func (c *Consumer) Stream(ctx context.Context, body io.Reader, fn func(Event) error) error {
	dec := sse.NewDecoder(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read chat stream: %w", err)
		}
		ev, err := c.decode(f)
		if err != nil {
			c.log.Warn("skip chat frame", "event", f.Event, "error", err)
			continue
		}
		if ev.Kind == "" {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Consumer) decode(f sse.Frame) (Event, error) {
	kind := EventKind(f.Event)
	switch kind {
	case EventSources:
		var src []Source
		if err := sse.DecodeJSON(f, &src); err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Sources: src}, nil
	case EventToken, EventRefusal, EventError:
		var p textPayload
		if err := sse.DecodeJSON(f, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Content: p.Content, Message: p.Message}, nil
	case EventDone:
		var p donePayload
		if err := sse.DecodeJSON(f, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Message: p.Message, Sources: p.Sources}, nil
	default:
		c.log.Debug("ignore chat frame", "event", f.Event)
		return Event{}, nil
	}
}
