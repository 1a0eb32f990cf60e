package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgallion1/docview/internal/sse"
)

var errNotObject = errors.New("payload is not a json object")

// Sink receives the frames of one suggestion stream. Returning an error stops
// the stream.
type Sink interface {
	Content(text string) error
	Suggestion(s Suggestion) error
}

// Consumer reads a review suggestion stream.
type Consumer struct {
	log *slog.Logger
}

func NewConsumer(log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{log: log}
}

// Stream delivers every suggestion object in arrival order and returns how
// many were delivered. DOCUMENT_CONTENT frames go to Sink.Content and are not
// counted. Frames that are not JSON objects are logged and skipped.
func (c *Consumer) Stream(ctx context.Context, body io.Reader, sink Sink) (int, error) {
	dec := sse.NewDecoder(body)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return count, ctxErr
			}
			return count, fmt.Errorf("read suggestion stream: %w", err)
		}

		if !strings.HasPrefix(f.Data, "{") {
			c.log.Warn("skip malformed suggestion frame", "error", &sse.ParseError{Data: f.Data, Err: errNotObject})
			continue
		}
		var s Suggestion
		if err := sse.DecodeJSON(f, &s); err != nil {
			c.log.Warn("skip malformed suggestion frame", "error", err)
			continue
		}
		if strings.EqualFold(string(s.Type), string(TypeDocumentContent)) {
			if s.DocumentContent == "" {
				continue
			}
			if err := sink.Content(s.DocumentContent); err != nil {
				return count, err
			}
			continue
		}
		if err := ValidateSuggestion(&s); err != nil {
			c.log.Warn("skip suggestion", "error", err)
			continue
		}
		if err := sink.Suggestion(s); err != nil {
			return count, err
		}
		count++
	}
}
