// Package sse reads newline-delimited server-sent event streams.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Frame is one data line, tagged with the event name that preceded it.
type Frame struct {
	Event string
	Data  string
}

// ParseError reports a data line whose payload could not be decoded. It is
// never fatal to the stream.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	data := e.Data
	if len(data) > 80 {
		data = data[:80] + "..."
	}
	return fmt.Sprintf("parse frame %q: %v", data, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decoder splits a byte stream into frames. Multi-byte characters and lines
// may be split across reads of the underlying reader.
type Decoder struct {
	r     *bufio.Reader
	event string
	done  bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(unicode.UTF8.NewDecoder().Reader(r))}
}

// Next returns the next data frame. It returns io.EOF once the stream has
// ended; a final line without a trailing newline is still delivered.
func (d *Decoder) Next() (Frame, error) {
	for !d.done {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Frame{}, err
			}
			d.done = true
		}
		if f, ok := d.line(line); ok {
			return f, nil
		}
	}
	return Frame{}, io.EOF
}

func (d *Decoder) line(raw string) (Frame, bool) {
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		d.event = ""
	case strings.HasPrefix(line, ":"):
		// comment or keep-alive, including ":DONE"
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		f := Frame{Event: d.event, Data: strings.TrimSpace(line[len("data:"):])}
		d.event = ""
		return f, true
	}
	return Frame{}, false
}

// DecodeJSON unmarshals a frame's data into v, returning a *ParseError on
// failure.
func DecodeJSON(f Frame, v any) error {
	if f.Data == "" {
		return &ParseError{Data: f.Data, Err: errors.New("empty data")}
	}
	if err := json.Unmarshal([]byte(f.Data), v); err != nil {
		return &ParseError{Data: f.Data, Err: err}
	}
	return nil
}

// Each calls fn for every frame until the stream ends, fn returns an error,
// or reading fails. io.EOF is not returned.
func Each(r io.Reader, fn func(Frame) error) error {
	dec := NewDecoder(r)
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
