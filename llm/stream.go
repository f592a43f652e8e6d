package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/tools/schema"
)

// ErrInterrupted is returned by the decoder when the Interrupt was set while
// the stream was being consumed.
var ErrInterrupted = errors.Sentinel("streaming interrupted by user")

const (
	eventPrefixLen = len("data: ")
	doneMarker     = "[DONE]"
)

// Event is one typed delta decoded from a stream line.
type Event interface {
	isEvent()
}

// RoleAnnounced marks the start of a message section.
type RoleAnnounced struct {
	Role string
}

// ContentFragment is a piece of assistant text.
type ContentFragment struct {
	Text string
}

// ToolCallStarted opens a tool call. Arguments holds any argument text that
// arrived in the same delta.
type ToolCallStarted struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolCallArgFragment continues the arguments of the open tool call.
type ToolCallArgFragment struct {
	Index int
	Text  string
}

// FinishedReason carries the choice's finish_reason.
type FinishedReason struct {
	Reason string
}

func (RoleAnnounced) isEvent()       {}
func (ContentFragment) isEvent()     {}
func (ToolCallStarted) isEvent()     {}
func (ToolCallArgFragment) isEvent() {}
func (FinishedReason) isEvent()      {}

// chunkSchema is the subset of the chat-completion chunk the decoder relies on.
const chunkSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["choices"],
  "properties": {
    "choices": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["delta"],
        "properties": {
          "delta": {
            "type": "object",
            "properties": {
              "role": {"type": ["string", "null"]},
              "content": {"type": ["string", "null"]},
              "tool_calls": {
                "type": ["array", "null"],
                "items": {
                  "type": "object",
                  "properties": {
                    "index": {"type": "integer"},
                    "id": {"type": ["string", "null"]},
                    "function": {
                      "type": "object",
                      "properties": {
                        "name": {"type": ["string", "null"]},
                        "arguments": {"type": ["string", "null"]}
                      }
                    }
                  }
                }
              }
            }
          },
          "finish_reason": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var chunkValidator = mustCompileChunkSchema()

func mustCompileChunkSchema() *schema.Validator {
	v, err := schema.CompileJSON([]byte(chunkSchema))
	if err != nil {
		panic(err)
	}
	return v
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role      *string `json:"role"`
			Content   *string `json:"content"`
			ToolCalls []struct {
				Index    int     `json:"index"`
				ID       *string `json:"id"`
				Function struct {
					Name      *string `json:"name"`
					Arguments *string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// maxLineSize bounds one stream line. Longer lines are dropped, not fatal.
const maxLineSize = 4 * 1024 * 1024

// Decoder turns the lines of a streamed chat-completion body into Events.
// A Decoder reads its body once and cannot be restarted.
type Decoder struct {
	reader  *bufio.Reader
	maxLine int
	intr    *Interrupt
	logger  *slog.Logger
}

// NewDecoder creates a decoder over r. intr may be nil.
func NewDecoder(r io.Reader, intr *Interrupt) *Decoder {
	return &Decoder{
		reader:  bufio.NewReaderSize(r, 64*1024),
		maxLine: maxLineSize,
		intr:    intr,
		logger:  slog.Default(),
	}
}

// Events yields the decoded events in stream order. The sequence ends at the
// terminal marker or end of body. If the Interrupt is set, the sequence ends
// with ErrInterrupted; a read failure ends it with that error. Lines longer
// than the decoder's limit are skipped like any other undecodable line.
func (d *Decoder) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			line, oversized, err := d.readLine()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, errors.Wrapf(err, "reading stream"))
				return
			}
			if d.intr.Interrupted() {
				yield(nil, ErrInterrupted)
				return
			}
			if oversized {
				d.logger.Debug("skipping oversized stream line", "limit", d.maxLine)
				continue
			}
			if len(line) <= eventPrefixLen {
				continue
			}
			payload := line[eventPrefixLen:]
			if payload == doneMarker {
				return
			}
			for _, ev := range d.decodeLine(payload) {
				if !yield(ev, nil) {
					return
				}
			}
			if d.intr.Interrupted() {
				yield(nil, ErrInterrupted)
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. A line over the
// limit is consumed up to its newline and reported as oversized, with its
// content discarded. io.EOF is returned only once no bytes remain.
func (d *Decoder) readLine() (string, bool, error) {
	var (
		buf       []byte
		oversized bool
		read      bool
	)
	for {
		chunk, err := d.reader.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !oversized {
			if len(buf)+len(chunk) > d.maxLine+len("\r\n") {
				oversized, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && read:
		case err != nil:
			return "", false, err
		}
		line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
		if !oversized && len(line) > d.maxLine {
			return "", true, nil
		}
		return line, oversized, nil
	}
}

// decodeLine returns the events carried by one payload, or nil when the
// payload is not a valid chunk.
func (d *Decoder) decodeLine(payload string) []Event {
	if err := chunkValidator.ValidateJSON([]byte(payload)); err != nil {
		d.logger.Debug("skipping stream line", "payload", payload, "error", err)
		return nil
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		d.logger.Debug("skipping stream line", "payload", payload, "error", err)
		return nil
	}

	// Only the first choice is consumed; n>1 is never requested.
	choice := chunk.Choices[0]
	delta := choice.Delta

	var events []Event
	if delta.Role != nil {
		events = append(events, RoleAnnounced{Role: *delta.Role})
	}
	if delta.Content != nil {
		events = append(events, ContentFragment{Text: *delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		args := deref(tc.Function.Arguments)
		if tc.ID != nil && *tc.ID != "" {
			events = append(events, ToolCallStarted{
				Index:     tc.Index,
				ID:        *tc.ID,
				Name:      deref(tc.Function.Name),
				Arguments: args,
			})
			continue
		}
		events = append(events, ToolCallArgFragment{Index: tc.Index, Text: args})
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		events = append(events, FinishedReason{Reason: *choice.FinishReason})
	}
	return events
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
