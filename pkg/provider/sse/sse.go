// Package sse reads server-sent event streams produced by LLM backends.
// OpenAI-compatible, Anthropic and Gemini streaming endpoints all speak
// SSE but differ in how they name and terminate events; this package only
// handles the framing and leaves payload interpretation to the adapters.
package sse

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Backends occasionally send large
// JSON chunks (citations, grounding metadata) on one line.
const maxLineSize = 1024 * 1024

// ErrStop may be returned by a handler to end scanning without error.
var ErrStop = errors.New("sse: stop")

// Event is one dispatched server-sent event.
type Event struct {
	// Name is the value of the "event:" field, empty when absent.
	Name string

	// Data is the concatenation of all "data:" lines, joined by newlines.
	Data string
}

// Scan reads events from body and calls fn for each one, in order.
//
// Events are dispatched on a blank line, and once more at end of input if
// data is pending. Comment lines (starting with ':') and unknown fields are
// ignored. Scan returns nil at end of input or when fn returns ErrStop,
// ctx.Err() when the context is done, and any other error from fn or from
// reading the body as is.
func Scan(ctx context.Context, body io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		name    string
		data    []string
		hasData bool
	)

	dispatch := func() error {
		if !hasData {
			name = ""
			return nil
		}
		ev := Event{Name: name, Data: strings.Join(data, "\n")}
		name, data, hasData = "", data[:0], false
		return fn(ev)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return stopIsNil(err)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return stopIsNil(dispatch())
}

func stopIsNil(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
