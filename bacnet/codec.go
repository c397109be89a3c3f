// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"fmt"
)

// Encoder builds a tag stream. The first error sticks and is reported by Bytes.
type Encoder struct {
	buf   []byte
	err   error
	depth []uint8
}

// Application appends v with its application tag.
func (e *Encoder) Application(v Value) {
	if e.err != nil {
		return
	}
	if v == nil {
		e.err = fmt.Errorf("%w: nil value", ErrValueOutOfRange)
		return
	}
	e.buf, e.err = AppendValue(e.buf, v, uint8(v.AppTag()), TagClassApplication)
}

// Context appends v with context tag n.
func (e *Encoder) Context(n uint8, v Value) {
	if e.err != nil {
		return
	}
	e.buf, e.err = AppendValue(e.buf, v, n, TagClassContext)
}

// Opening opens constructed data with context tag n.
func (e *Encoder) Opening(n uint8) {
	if e.err != nil {
		return
	}
	e.buf, e.err = AppendTag(e.buf, OpeningTag(n))
	e.depth = append(e.depth, n)
}

// Closing closes the innermost constructed data, which must have tag n.
func (e *Encoder) Closing(n uint8) {
	if e.err != nil {
		return
	}
	if len(e.depth) == 0 || e.depth[len(e.depth)-1] != n {
		e.err = fmt.Errorf("%w: closing tag %d", ErrUnbalancedConstructedData, n)
		return
	}
	e.depth = e.depth[:len(e.depth)-1]
	e.buf, e.err = AppendTag(e.buf, ClosingTag(n))
}

// Raw appends already encoded octets.
func (e *Encoder) Raw(b []byte) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, b...)
}

// Bytes returns the encoded stream or the first error.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.depth) != 0 {
		return nil, fmt.Errorf("%w: %d unclosed tags", ErrUnbalancedConstructedData, len(e.depth))
	}
	return e.buf, nil
}

// Decoder walks a tag stream.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder reading buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Done reports whether the stream is exhausted.
func (d *Decoder) Done() bool {
	return d.off >= len(d.buf)
}

// Offset returns the read position.
func (d *Decoder) Offset() int {
	return d.off
}

// Peek returns the next tag without consuming it.
func (d *Decoder) Peek() (Tag, error) {
	t, _, err := ReadTag(d.buf, d.off)
	return t, err
}

// Next consumes the next tag and returns it with its payload.
func (d *Decoder) Next() (Tag, []byte, error) {
	t, n, err := ReadTag(d.buf, d.off)
	if err != nil {
		return Tag{}, nil, err
	}
	start := d.off + n
	end := start + t.PayloadLength()
	d.off = end
	return t, d.buf[start:end], nil
}

// Application decodes the next element as an application-tagged primitive.
func (d *Decoder) Application() (Value, error) {
	t, payload, err := d.Next()
	if err != nil {
		return nil, err
	}
	return Decode(t, payload)
}

// ApplicationAs decodes the next element as an application primitive of kind.
func (d *Decoder) ApplicationAs(kind ApplicationTag) (Value, error) {
	t, payload, err := d.Next()
	if err != nil {
		return nil, err
	}
	if t.Class != TagClassApplication {
		return nil, fmt.Errorf("%w: context tag %d where %s expected", ErrTypeMismatch, t.Number, kind)
	}
	return DecodeAs(kind, t, payload)
}

// Context decodes the next element, which must be context tag n, as kind.
func (d *Decoder) Context(n uint8, kind ApplicationTag) (Value, error) {
	v, ok, err := d.OptionalContext(n, kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing context tag %d", ErrTypeMismatch, n)
	}
	return v, nil
}

// OptionalContext decodes context tag n as kind when it is next in the
// stream; otherwise it consumes nothing and reports false.
func (d *Decoder) OptionalContext(n uint8, kind ApplicationTag) (Value, bool, error) {
	if d.Done() {
		return nil, false, nil
	}
	t, err := d.Peek()
	if err != nil {
		return nil, false, err
	}
	if !t.IsContext(n) {
		return nil, false, nil
	}
	t, payload, err := d.Next()
	if err != nil {
		return nil, false, err
	}
	v, err := DecodeAs(kind, t, payload)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Opening consumes the opening tag n.
func (d *Decoder) Opening(n uint8) error {
	t, _, err := d.Next()
	if err != nil {
		return err
	}
	if !t.IsOpening(n) {
		return fmt.Errorf("%w: %s where opening[%d] expected", ErrTypeMismatch, t, n)
	}
	return nil
}

// AtClosing reports whether the next tag closes context tag n.
func (d *Decoder) AtClosing(n uint8) bool {
	if d.Done() {
		return false
	}
	t, err := d.Peek()
	return err == nil && t.IsClosing(n)
}

// Closing consumes the closing tag n.
func (d *Decoder) Closing(n uint8) error {
	if d.Done() {
		return fmt.Errorf("%w: missing closing[%d]", ErrUnbalancedConstructedData, n)
	}
	t, _, err := d.Next()
	if err != nil {
		return err
	}
	if !t.IsClosing(n) {
		return fmt.Errorf("%w: %s where closing[%d] expected", ErrUnbalancedConstructedData, t, n)
	}
	return nil
}

// Constructed returns the raw content between opening tag n and its
// matching closing tag, consuming both delimiters.
func (d *Decoder) Constructed(n uint8) ([]byte, error) {
	if err := d.Opening(n); err != nil {
		return nil, err
	}
	start := d.off
	depth := 0
	for {
		if d.Done() {
			return nil, fmt.Errorf("%w: missing closing[%d]", ErrUnbalancedConstructedData, n)
		}
		end := d.off
		t, _, err := d.Next()
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case TagOpening:
			depth++
		case TagClosing:
			if depth == 0 {
				if t.Number != n {
					return nil, fmt.Errorf("%w: closing[%d] inside opening[%d]", ErrUnbalancedConstructedData, t.Number, n)
				}
				return d.buf[start:end], nil
			}
			depth--
		}
	}
}
