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
	"math"
)

// ReadPropertyRequest is the service data of a ReadProperty request.
type ReadPropertyRequest struct {
	Object     ObjectIdentifier
	Property   PropertyIdentifier
	ArrayIndex *uint32
}

// Encode encodes the request.
func (r ReadPropertyRequest) Encode() ([]byte, error) {
	var e Encoder
	e.Context(0, r.Object)
	e.Context(1, Enumerated(r.Property))
	if r.ArrayIndex != nil {
		e.Context(2, Unsigned(*r.ArrayIndex))
	}
	return e.Bytes()
}

// DecodeReadPropertyRequest decodes ReadProperty service data.
func DecodeReadPropertyRequest(data []byte) (ReadPropertyRequest, error) {
	var r ReadPropertyRequest
	d := NewDecoder(data)
	obj, prop, idx, err := decodeObjectProperty(d)
	if err != nil {
		return r, err
	}
	r.Object, r.Property, r.ArrayIndex = obj, prop, idx
	return r, expectEnd(d)
}

// ReadPropertyAck is the service data of a ReadProperty Complex-ACK.
type ReadPropertyAck struct {
	Object     ObjectIdentifier
	Property   PropertyIdentifier
	ArrayIndex *uint32
	Values     []Value
}

// Encode encodes the acknowledgement.
func (a ReadPropertyAck) Encode() ([]byte, error) {
	var e Encoder
	e.Context(0, a.Object)
	e.Context(1, Enumerated(a.Property))
	if a.ArrayIndex != nil {
		e.Context(2, Unsigned(*a.ArrayIndex))
	}
	e.Opening(3)
	for _, v := range a.Values {
		e.Application(v)
	}
	e.Closing(3)
	return e.Bytes()
}

// DecodeReadPropertyAck decodes ReadProperty Complex-ACK service data.
func DecodeReadPropertyAck(data []byte) (ReadPropertyAck, error) {
	var a ReadPropertyAck
	d := NewDecoder(data)
	obj, prop, idx, err := decodeObjectProperty(d)
	if err != nil {
		return a, err
	}
	a.Object, a.Property, a.ArrayIndex = obj, prop, idx
	if a.Values, err = decodeValueList(d, 3); err != nil {
		return a, err
	}
	return a, expectEnd(d)
}

// WritePropertyRequest is the service data of a WriteProperty request.
type WritePropertyRequest struct {
	Object     ObjectIdentifier
	Property   PropertyIdentifier
	ArrayIndex *uint32
	Values     []Value
	// Priority is the command priority, 1 (highest) to 16.
	Priority *uint8
}

// Encode encodes the request.
func (w WritePropertyRequest) Encode() ([]byte, error) {
	if w.Priority != nil && (*w.Priority < 1 || *w.Priority > 16) {
		return nil, fmt.Errorf("%w: priority %d", ErrValueOutOfRange, *w.Priority)
	}
	var e Encoder
	e.Context(0, w.Object)
	e.Context(1, Enumerated(w.Property))
	if w.ArrayIndex != nil {
		e.Context(2, Unsigned(*w.ArrayIndex))
	}
	e.Opening(3)
	for _, v := range w.Values {
		e.Application(v)
	}
	e.Closing(3)
	if w.Priority != nil {
		e.Context(4, Unsigned(*w.Priority))
	}
	return e.Bytes()
}

// DecodeWritePropertyRequest decodes WriteProperty service data.
func DecodeWritePropertyRequest(data []byte) (WritePropertyRequest, error) {
	var w WritePropertyRequest
	d := NewDecoder(data)
	obj, prop, idx, err := decodeObjectProperty(d)
	if err != nil {
		return w, err
	}
	w.Object, w.Property, w.ArrayIndex = obj, prop, idx
	if w.Values, err = decodeValueList(d, 3); err != nil {
		return w, err
	}
	v, ok, err := d.OptionalContext(4, TagUnsignedInt)
	if err != nil {
		return w, err
	}
	if ok {
		p := uint64(v.(Unsigned))
		if p < 1 || p > 16 {
			return w, fmt.Errorf("%w: priority %d", ErrValueOutOfRange, p)
		}
		prio := uint8(p)
		w.Priority = &prio
	}
	return w, expectEnd(d)
}

// WhoIs is the service data of a Who-Is request. Low and High are both set
// or both nil.
type WhoIs struct {
	Low  *uint32
	High *uint32
}

// Encode encodes the request. A Who-Is without limits has no service data.
func (w WhoIs) Encode() ([]byte, error) {
	if (w.Low == nil) != (w.High == nil) {
		return nil, fmt.Errorf("%w: Who-Is needs both limits or neither", ErrValueOutOfRange)
	}
	if w.Low == nil {
		return nil, nil
	}
	if *w.Low > MaxInstance || *w.High > MaxInstance {
		return nil, fmt.Errorf("%w: device range %d-%d", ErrValueOutOfRange, *w.Low, *w.High)
	}
	var e Encoder
	e.Context(0, Unsigned(*w.Low))
	e.Context(1, Unsigned(*w.High))
	return e.Bytes()
}

// DecodeWhoIs decodes Who-Is service data.
func DecodeWhoIs(data []byte) (WhoIs, error) {
	var w WhoIs
	if len(data) == 0 {
		return w, nil
	}
	d := NewDecoder(data)
	low, err := decodeInstance(d, 0)
	if err != nil {
		return w, err
	}
	high, err := decodeInstance(d, 1)
	if err != nil {
		return w, err
	}
	w.Low, w.High = &low, &high
	return w, expectEnd(d)
}

// Matches reports whether a device instance falls in the requested range.
func (w WhoIs) Matches(instance uint32) bool {
	if w.Low == nil || w.High == nil {
		return true
	}
	return instance >= *w.Low && instance <= *w.High
}

// IAm is the service data of an I-Am request.
type IAm struct {
	Device        ObjectIdentifier
	MaxAPDULength uint32
	Segmentation  Segmentation
	VendorID      uint16
}

// Encode encodes the announcement.
func (i IAm) Encode() ([]byte, error) {
	if i.Device.Type != ObjectTypeDevice {
		return nil, fmt.Errorf("%w: I-Am for %s", ErrValueOutOfRange, i.Device)
	}
	var e Encoder
	e.Application(i.Device)
	e.Application(Unsigned(i.MaxAPDULength))
	e.Application(Enumerated(i.Segmentation))
	e.Application(Unsigned(i.VendorID))
	return e.Bytes()
}

// DecodeIAm decodes I-Am service data.
func DecodeIAm(data []byte) (IAm, error) {
	var i IAm
	d := NewDecoder(data)

	v, err := d.ApplicationAs(TagObjectID)
	if err != nil {
		return i, err
	}
	i.Device = v.(ObjectIdentifier)
	if i.Device.Type != ObjectTypeDevice {
		return i, fmt.Errorf("%w: I-Am for %s", ErrTypeMismatch, i.Device)
	}

	if v, err = d.ApplicationAs(TagUnsignedInt); err != nil {
		return i, err
	}
	if uint64(v.(Unsigned)) > math.MaxUint32 {
		return i, fmt.Errorf("%w: max APDU %d", ErrValueOutOfRange, v)
	}
	i.MaxAPDULength = uint32(v.(Unsigned))

	if v, err = d.ApplicationAs(TagEnumerated); err != nil {
		return i, err
	}
	if v.(Enumerated) > Enumerated(SegmentationNone) {
		return i, fmt.Errorf("%w: segmentation %d", ErrValueOutOfRange, v)
	}
	i.Segmentation = Segmentation(v.(Enumerated))

	if v, err = d.ApplicationAs(TagUnsignedInt); err != nil {
		return i, err
	}
	if uint64(v.(Unsigned)) > math.MaxUint16 {
		return i, fmt.Errorf("%w: vendor id %d", ErrValueOutOfRange, v)
	}
	i.VendorID = uint16(v.(Unsigned))
	return i, expectEnd(d)
}

// EncodeErrorPayload encodes the error class and code carried by an Error PDU.
func EncodeErrorPayload(err *BACnetError) ([]byte, error) {
	var e Encoder
	e.Application(Enumerated(err.Class))
	e.Application(Enumerated(err.Code))
	return e.Bytes()
}

// DecodeErrorPayload decodes the service data of an Error PDU.
func DecodeErrorPayload(data []byte) (*BACnetError, error) {
	d := NewDecoder(data)
	class, err := d.ApplicationAs(TagEnumerated)
	if err != nil {
		return nil, err
	}
	code, err := d.ApplicationAs(TagEnumerated)
	if err != nil {
		return nil, err
	}
	if err := expectEnd(d); err != nil {
		return nil, err
	}
	return NewBACnetError(ErrorClass(class.(Enumerated)), ErrorCode(code.(Enumerated))), nil
}

// ReadPropertyHandler serves ReadProperty from store.
func ReadPropertyHandler(store PropertyStore) ConfirmedHandler {
	return func(req ConfirmedRequest) ([]byte, error) {
		rp, err := DecodeReadPropertyRequest(req.Data)
		if err != nil {
			return nil, err
		}
		values, err := store.Resolve(rp.Object, rp.Property)
		if err != nil {
			return nil, err
		}
		if rp.ArrayIndex != nil {
			if values, err = arrayElement(values, *rp.ArrayIndex); err != nil {
				return nil, err
			}
		}
		return ReadPropertyAck{
			Object:     rp.Object,
			Property:   rp.Property,
			ArrayIndex: rp.ArrayIndex,
			Values:     values,
		}.Encode()
	}
}

// WritePropertyHandler serves WriteProperty through w.
func WritePropertyHandler(w PropertyWriter) ConfirmedHandler {
	return func(req ConfirmedRequest) ([]byte, error) {
		wp, err := DecodeWritePropertyRequest(req.Data)
		if err != nil {
			return nil, err
		}
		return nil, w.WriteProperty(wp)
	}
}

// arrayElement selects one element of an array property. Index 0 is the
// element count.
func arrayElement(values []Value, index uint32) ([]Value, error) {
	switch {
	case index == 0:
		return []Value{Unsigned(len(values))}, nil
	case uint64(index) > uint64(len(values)):
		return nil, NewBACnetError(ErrorClassProperty, ErrorCodeInvalidArrayIndex)
	default:
		return values[index-1 : index], nil
	}
}

func decodeObjectProperty(d *Decoder) (ObjectIdentifier, PropertyIdentifier, *uint32, error) {
	v, err := d.Context(0, TagObjectID)
	if err != nil {
		return ObjectIdentifier{}, 0, nil, err
	}
	obj := v.(ObjectIdentifier)

	if v, err = d.Context(1, TagEnumerated); err != nil {
		return obj, 0, nil, err
	}
	prop := PropertyIdentifier(v.(Enumerated))

	v, ok, err := d.OptionalContext(2, TagUnsignedInt)
	if err != nil || !ok {
		return obj, prop, nil, err
	}
	if uint64(v.(Unsigned)) > math.MaxUint32 {
		return obj, prop, nil, fmt.Errorf("%w: array index %d", ErrValueOutOfRange, v)
	}
	idx := uint32(v.(Unsigned))
	return obj, prop, &idx, nil
}

func decodeInstance(d *Decoder, tag uint8) (uint32, error) {
	v, err := d.Context(tag, TagUnsignedInt)
	if err != nil {
		return 0, err
	}
	if uint64(v.(Unsigned)) > MaxInstance {
		return 0, fmt.Errorf("%w: device instance %d", ErrValueOutOfRange, v)
	}
	return uint32(v.(Unsigned)), nil
}

// decodeValueList reads the application values enclosed by context tag n.
func decodeValueList(d *Decoder, n uint8) ([]Value, error) {
	if err := d.Opening(n); err != nil {
		return nil, err
	}
	var values []Value
	for !d.AtClosing(n) {
		if d.Done() {
			return nil, fmt.Errorf("%w: missing closing[%d]", ErrUnbalancedConstructedData, n)
		}
		v, err := d.Application()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, d.Closing(n)
}

func expectEnd(d *Decoder) error {
	if !d.Done() {
		t, err := d.Peek()
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: unexpected %s at offset %d", ErrTypeMismatch, t, d.Offset())
	}
	return nil
}
