// Package replay reconstructs document content from a snapshot plus the
// change events recorded after it. The whole package is pure: identical
// inputs always produce identical output, so the same code path serves
// current-state reads and "state as of time T" historical reads.
package replay

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quillvault/quillvault/internal/document"
)

// Mark is a formatting run over a half-open rune range [Start, End).
type Mark struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Attr  string `json:"attr"`
	Value string `json:"value"`
}

// Content is the structural document state: plain text addressed by rune
// offset plus an ordered list of formatting marks. Positions in event
// payloads are rune offsets into Text.
type Content struct {
	Text  string `json:"text"`
	Marks []Mark `json:"marks"`
}

// Empty returns the canonical empty document.
func Empty() *Content {
	return &Content{Marks: []Mark{}}
}

// Clone returns a deep copy so replay never mutates its input.
func (c *Content) Clone() *Content {
	out := &Content{Text: c.Text, Marks: make([]Mark, len(c.Marks))}
	copy(out.Marks, c.Marks)
	return out
}

// Marshal serializes content canonically. Marks is normalized to an empty
// slice first so snapshot-resumed and from-scratch replays stay
// byte-identical.
func (c *Content) Marshal() (json.RawMessage, error) {
	if c.Marks == nil {
		c.Marks = []Mark{}
	}
	return json.Marshal(c)
}

// Unmarshal parses previously serialized content (e.g. a snapshot body).
func Unmarshal(raw json.RawMessage) (*Content, error) {
	if len(raw) == 0 {
		return Empty(), nil
	}
	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if c.Marks == nil {
		c.Marks = []Mark{}
	}
	return &c, nil
}

// Excerpt returns the first n runes of the text, for the document's cached
// search excerpt.
func (c *Content) Excerpt(n int) string {
	r := []rune(c.Text)
	if len(r) <= n {
		return c.Text
	}
	return string(r[:n])
}

// Result is the outcome of a reconstruction. Title carries the last title
// seen in a meta event (nil when none occurred); it belongs to the document
// record, not to the structural content. Warnings lists events that were
// skipped as no-ops because their payload could not be interpreted.
type Result struct {
	Content  *Content
	Title    *string
	Warnings []document.CorruptEventError
}

type insertPayload struct {
	Pos  *int   `json:"pos"`
	Text string `json:"text"`
}

type deletePayload struct {
	Pos *int `json:"pos"`
	Len *int `json:"len"`
}

type formatPayload struct {
	Pos   *int   `json:"pos"`
	Len   *int   `json:"len"`
	Attr  string `json:"attr"`
	Value string `json:"value"`
}

type metaPayload struct {
	Title *string `json:"title"`
}

// Reconstruct applies events to the base content in ascending version
// order, ties broken by creation time and then by input order. A nil base
// means the canonical empty document. Malformed events are recorded as
// warnings and skipped; they never abort the reconstruction.
func Reconstruct(base *Content, events []document.Event) Result {
	if base == nil {
		base = Empty()
	}
	c := base.Clone()
	if c.Marks == nil {
		c.Marks = []Mark{}
	}

	ordered := make([]document.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Version != ordered[j].Version {
			return ordered[i].Version < ordered[j].Version
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	res := Result{Content: c}
	for _, ev := range ordered {
		if err := apply(c, &res, ev); err != nil {
			res.Warnings = append(res.Warnings, document.CorruptEventError{
				EventID: ev.ID,
				Version: ev.Version,
				Reason:  err.Error(),
			})
		}
	}
	return res
}

func apply(c *Content, res *Result, ev document.Event) error {
	switch ev.Kind {
	case document.KindInsert:
		var p insertPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Pos == nil {
			return fmt.Errorf("insert payload missing pos")
		}
		c.insert(*p.Pos, p.Text)
	case document.KindDelete:
		var p deletePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Pos == nil || p.Len == nil {
			return fmt.Errorf("delete payload missing pos or len")
		}
		c.delete(*p.Pos, *p.Len)
	case document.KindFormat:
		var p formatPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Pos == nil || p.Len == nil || p.Attr == "" {
			return fmt.Errorf("format payload missing pos, len or attr")
		}
		c.format(*p.Pos, *p.Len, p.Attr, p.Value)
	case document.KindMeta:
		var p metaPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Title == nil {
			return fmt.Errorf("meta payload carries no recognized field")
		}
		res.Title = p.Title
	default:
		return fmt.Errorf("unknown kind %q", ev.Kind)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Content) insert(pos int, text string) {
	if text == "" {
		return
	}
	r := []rune(c.Text)
	pos = clamp(pos, 0, len(r))
	ins := []rune(text)
	n := len(ins)

	out := make([]rune, 0, len(r)+n)
	out = append(out, r[:pos]...)
	out = append(out, ins...)
	out = append(out, r[pos:]...)
	c.Text = string(out)

	for i := range c.Marks {
		m := &c.Marks[i]
		// text inserted at a mark boundary stays outside the mark;
		// text inserted strictly inside inherits its formatting
		if m.Start >= pos {
			m.Start += n
		}
		if m.End > pos {
			m.End += n
		}
	}
}

func (c *Content) delete(pos, length int) {
	if length <= 0 {
		return
	}
	r := []rune(c.Text)
	pos = clamp(pos, 0, len(r))
	end := clamp(pos+length, pos, len(r))
	if pos == end {
		return
	}
	n := end - pos

	out := make([]rune, 0, len(r)-n)
	out = append(out, r[:pos]...)
	out = append(out, r[end:]...)
	c.Text = string(out)

	shift := func(p int) int {
		if p <= pos {
			return p
		}
		if p >= end {
			return p - n
		}
		return pos
	}
	kept := c.Marks[:0]
	for _, m := range c.Marks {
		m.Start = shift(m.Start)
		m.End = shift(m.End)
		if m.Start < m.End {
			kept = append(kept, m)
		}
	}
	c.Marks = kept
}

// format sets attr=value over the range, replacing any existing runs of the
// same attribute there. An empty value just clears the attribute. Marks
// partially covered by the range are trimmed/split, which keeps the result
// independent of the order marks were originally created in.
func (c *Content) format(pos, length int, attr, value string) {
	textLen := len([]rune(c.Text))
	pos = clamp(pos, 0, textLen)
	end := clamp(pos+length, pos, textLen)
	if pos == end {
		return
	}

	kept := make([]Mark, 0, len(c.Marks)+2)
	for _, m := range c.Marks {
		if m.Attr != attr || m.End <= pos || m.Start >= end {
			kept = append(kept, m)
			continue
		}
		if m.Start < pos {
			kept = append(kept, Mark{Start: m.Start, End: pos, Attr: m.Attr, Value: m.Value})
		}
		if m.End > end {
			kept = append(kept, Mark{Start: end, End: m.End, Attr: m.Attr, Value: m.Value})
		}
	}
	if value != "" {
		kept = append(kept, Mark{Start: pos, End: end, Attr: attr, Value: value})
	}
	c.Marks = kept
}
