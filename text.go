package ydoc

import (
	"fmt"
	"iter"
	"strings"
)

// Text is a shared sequence of characters and embeds carrying formatting
// attributes. Positions count Unicode code points; an embed counts as one.
type Text struct {
	b *branch
}

func (t *Text) Kind() Kind           { return t.b.kind }
func (t *Text) Document() *Document { return t.b.doc }
func (t *Text) branch() *branch     { return t.b }

// Equal reports whether s is a handle to the same text.
func (t *Text) Equal(s Shared) bool {
	return s != nil && s.branch() == t.b
}

// Len returns the number of characters and embeds.
func (t *Text) Len(txn ReadTxn) int {
	t.b.check(txn)
	return t.b.length
}

// String returns the characters without formatting; embeds are skipped.
func (t *Text) String(txn ReadTxn) string {
	t.b.check(txn)
	var sb strings.Builder
	for it := t.b.start; it != nil; it = it.right {
		if c, ok := it.content.(stringContent); ok && !it.deleted {
			sb.WriteRune(c.r)
		}
	}
	return sb.String()
}

// Insert inserts s at index. With nil attrs the text takes on the
// formatting in effect at index; otherwise exactly attrs apply.
func (t *Text) Insert(txn *Transaction, index int, s string, attrs map[string]any) error {
	if err := t.b.prepare(txn); err != nil {
		return err
	}
	a, err := attrsFromGo(attrs)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	runes := []rune(s)
	contents := make([]content, len(runes))
	for i, r := range runes {
		contents[i] = stringContent{r}
	}
	return txn.insertFormatted(t.b, index, contents, a)
}

// InsertEmbed inserts a single non-text value at index.
func (t *Text) InsertEmbed(txn *Transaction, index int, value any, attrs map[string]any) error {
	if err := t.b.prepare(txn); err != nil {
		return err
	}
	a, err := attrsFromGo(attrs)
	if err != nil {
		return err
	}
	if _, ok := value.(Shared); ok {
		return fmt.Errorf("%w: containers cannot be embedded in text", ErrUnsupportedValue)
	}
	v, err := ToValue(value)
	if err != nil {
		return err
	}
	return txn.insertFormatted(t.b, index, []content{embedContent{v}}, a)
}

// Format sets attrs on length positions starting at index. A nil attribute
// value removes the attribute.
func (t *Text) Format(txn *Transaction, index, length int, attrs map[string]any) error {
	if err := t.b.prepare(txn); err != nil {
		return err
	}
	a, err := attrsFromGo(attrs)
	if err != nil {
		return err
	}
	if err := checkRange(t.b, index, length); err != nil {
		return err
	}
	if length == 0 || len(a) == 0 {
		return nil
	}
	txn.formatText(t.b, index, length, a)
	return nil
}

// RemoveRange deletes length positions starting at index.
func (t *Text) RemoveRange(txn *Transaction, index, length int) error {
	if err := t.b.prepare(txn); err != nil {
		return err
	}
	if err := checkRange(t.b, index, length); err != nil {
		return err
	}
	txn.removeRange(t.b, index, length)
	return nil
}

// Diff yields the content as runs of equally formatted text, and embeds, each
// with the attributes in effect (nil when unformatted).
func (t *Text) Diff(txn ReadTxn) iter.Seq2[any, map[string]any] {
	t.b.check(txn)
	return textRuns(t.b)
}

func textRuns(b *branch) iter.Seq2[any, map[string]any] {
	return func(yield func(any, map[string]any) bool) {
		attrs := Attrs{}
		var run []rune
		flush := func() bool {
			if len(run) == 0 {
				return true
			}
			s := string(run)
			run = run[:0]
			return yield(s, attrs.toGo())
		}
		for it := b.start; it != nil; it = it.right {
			if it.deleted {
				continue
			}
			switch c := it.content.(type) {
			case stringContent:
				run = append(run, c.r)
			case formatContent:
				if !valuesEqual(attrs.get(c.key), c.v) {
					if !flush() {
						return
					}
					attrs.apply(c.key, c.v)
				}
			default:
				if !it.content.countable() {
					continue
				}
				if !flush() || !yield(valueOf(it), attrs.toGo()) {
					return
				}
			}
		}
		flush()
	}
}

// Observe calls fn for every committed change of this text.
func (t *Text) Observe(fn func(*TextEvent)) *Subscription {
	return observeShallow(t.b, fn)
}

// ObserveDeep calls fn with the events of this text and anything embedded in it.
func (t *Text) ObserveDeep(fn func([]Event)) *Subscription {
	return observeDeep(t.b, fn)
}

func checkRange(b *branch, index, length int) error {
	if index < 0 || length < 0 || index+length > b.length {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrIndexOutOfRange, index, index+length, b.length)
	}
	return nil
}

// textPos is a cursor between two items of a text, tracking the
// attributes in effect at that point.
type textPos struct {
	left, right *item
	index       int
	attrs       Attrs
}

func (p *textPos) forward() {
	r := p.right
	if !r.deleted {
		if f, ok := r.content.(formatContent); ok {
			p.attrs.apply(f.key, f.v)
		} else if r.content.countable() {
			p.index++
		}
	}
	p.left, p.right = r, r.right
}

func findTextPos(b *branch, index int) (*textPos, error) {
	if index < 0 || index > b.length {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, b.length)
	}
	pos := &textPos{right: b.start, attrs: Attrs{}}
	for pos.right != nil && index > 0 {
		if !pos.right.deleted && pos.right.content.countable() {
			index--
		}
		pos.forward()
	}
	return pos, nil
}

// insertFormatted inserts contents at index so that exactly attrs apply to
// them, restoring the surrounding formatting afterwards. Nil attrs inherit.
func (t *Transaction) insertFormatted(b *branch, index int, contents []content, attrs Attrs) error {
	pos, err := findTextPos(b, index)
	if err != nil {
		return err
	}
	if attrs == nil {
		attrs = pos.attrs.clone()
	}
	for k := range pos.attrs {
		if _, ok := attrs[k]; !ok {
			attrs[k] = Null{}
		}
	}
	t.minimizeAttributeChanges(pos, attrs)
	negated := t.insertAttributes(b, pos, attrs)
	for _, c := range contents {
		pos.right = t.insertItem(b, pos.left, pos.right, c)
		pos.forward()
	}
	t.insertNegatedAttributes(b, pos, negated)
	return nil
}

// minimizeAttributeChanges skips over markers that already set what attrs asks for.
func (t *Transaction) minimizeAttributeChanges(pos *textPos, attrs Attrs) {
	for pos.right != nil {
		r := pos.right
		if !r.deleted {
			f, ok := r.content.(formatContent)
			if !ok || !valuesEqual(attrs.get(f.key), f.v) {
				return
			}
		}
		pos.forward()
	}
}

// insertAttributes opens markers for attrs that differ from those in effect
// and returns the values to restore afterwards.
func (t *Transaction) insertAttributes(b *branch, pos *textPos, attrs Attrs) Attrs {
	negated := Attrs{}
	for _, k := range attrs.sortedKeys() {
		v := attrs[k]
		cur := pos.attrs.get(k)
		if valuesEqual(cur, v) {
			continue
		}
		negated[k] = cur
		pos.right = t.insertItem(b, pos.left, pos.right, formatContent{k, v})
		pos.forward()
	}
	return negated
}

func (t *Transaction) insertNegatedAttributes(b *branch, pos *textPos, negated Attrs) {
	for pos.right != nil {
		r := pos.right
		if !r.deleted {
			f, ok := r.content.(formatContent)
			if !ok {
				break
			}
			v, has := negated[f.key]
			if !has || !valuesEqual(v, f.v) {
				break
			}
			delete(negated, f.key)
		}
		pos.forward()
	}
	for _, k := range negated.sortedKeys() {
		pos.right = t.insertItem(b, pos.left, pos.right, formatContent{k, negated[k]})
		pos.forward()
	}
}

func (t *Transaction) formatText(b *branch, index, length int, attrs Attrs) {
	pos, _ := findTextPos(b, index)
	t.minimizeAttributeChanges(pos, attrs)
	negated := t.insertAttributes(b, pos, attrs)
loop:
	for pos.right != nil && (length > 0 || (len(negated) > 0 && (pos.right.deleted || isFormat(pos.right)))) {
		r := pos.right
		if !r.deleted {
			if f, ok := r.content.(formatContent); ok {
				if v, set := attrs[f.key]; set {
					if valuesEqual(v, f.v) {
						delete(negated, f.key)
					} else {
						if length == 0 {
							break loop
						}
						negated[f.key] = f.v
					}
					t.deleteItem(r)
				} else {
					pos.attrs.apply(f.key, f.v)
				}
			} else if r.content.countable() {
				length--
			}
		}
		pos.forward()
	}
	t.insertNegatedAttributes(b, pos, negated)
}

func isFormat(it *item) bool {
	_, ok := it.content.(formatContent)
	return ok
}

// removeRange deletes length countable items from index in any sequence.
func (t *Transaction) removeRange(b *branch, index, length int) {
	if length == 0 {
		return
	}
	pos, _ := findTextPos(b, index)
	for length > 0 && pos.right != nil {
		r := pos.right
		if !r.deleted && r.content.countable() {
			t.deleteItem(r)
			length--
		}
		pos.forward()
	}
}
