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

// SegmentCapacity returns how many service data octets fit in one segment
// of a pduType APDU limited to maxAPDU octets.
func SegmentCapacity(pduType PDUType, maxAPDU int) int {
	hdr := segmentedComplexAckHeaderLen
	if pduType == PDUTypeConfirmedRequest {
		hdr = segmentedConfirmedHeaderLen
	}
	return maxAPDU - hdr
}

// NeedsSegmentation reports whether a unsegmented a would exceed maxAPDU.
func NeedsSegmentation(a *APDU, maxAPDU int) bool {
	return a.headerLen()+len(a.Data) > maxAPDU
}

// Segment splits the service data of tmpl into segment APDUs no larger than
// maxAPDU. Each segment copies the header of tmpl, carries sequence numbers
// 0, 1, ... modulo 256 and the proposed window, and all but the last have
// MoreFollows set. maxSegments of 0 means no limit.
func Segment(tmpl *APDU, maxAPDU int, window uint8, maxSegments int) ([]*APDU, error) {
	if tmpl.Type != PDUTypeConfirmedRequest && tmpl.Type != PDUTypeComplexAck {
		return nil, fmt.Errorf("%w: %s cannot be segmented", ErrSegmentationNotSupported, tmpl.Type)
	}
	if window == 0 || window > maxWindowSize {
		return nil, fmt.Errorf("%w: window size %d", ErrValueOutOfRange, window)
	}
	capacity := SegmentCapacity(tmpl.Type, maxAPDU)
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: max APDU %d leaves no room for data", ErrValueOutOfRange, maxAPDU)
	}

	count := (len(tmpl.Data) + capacity - 1) / capacity
	if count == 0 {
		count = 1
	}
	if maxSegments > 0 && count > maxSegments {
		return nil, fmt.Errorf("%w: %d segments, peer accepts %d", ErrBufferOverflow, count, maxSegments)
	}

	segs := make([]*APDU, count)
	for i := range segs {
		start := i * capacity
		end := start + capacity
		if end > len(tmpl.Data) {
			end = len(tmpl.Data)
		}
		seg := *tmpl
		seg.Segmented = true
		seg.MoreFollows = i < count-1
		seg.SequenceNumber = uint8(i)
		seg.WindowSize = window
		seg.Data = tmpl.Data[start:end]
		segs[i] = &seg
	}
	return segs, nil
}

// Reassemble joins a complete, in-order run of segments. Sequence numbers
// must start at 0 and increase by one modulo 256, and only the last
// segment may have MoreFollows cleared.
func Reassemble(segs []*APDU) ([]byte, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrSegmentSequence)
	}
	var out []byte
	for i, seg := range segs {
		if seg.SequenceNumber != uint8(i) {
			return nil, fmt.Errorf("%w: segment %d where %d expected", ErrSegmentSequence, seg.SequenceNumber, uint8(i))
		}
		last := i == len(segs)-1
		if seg.MoreFollows == last {
			return nil, fmt.Errorf("%w: more-follows=%t on segment %d of %d", ErrSegmentSequence, seg.MoreFollows, i, len(segs))
		}
		out = append(out, seg.Data...)
	}
	return out, nil
}

// segmentSender tracks the transmit window of an outbound segmented message.
// Indexes are absolute; sequence numbers are their low 8 bits.
type segmentSender struct {
	segments []*APDU
	window   int
	base     int // first unacknowledged segment
	sent     int // segments transmitted so far
}

// newSegmentSender starts with a window of one segment: the proposed
// window only travels in the segments, and the receiver answers the first
// one with the actual window size it will use.
func newSegmentSender(segs []*APDU) *segmentSender {
	return &segmentSender{segments: segs, window: 1}
}

// nextWindow returns the segments from base to the end of the window and
// marks them transmitted. Called again after a timeout it yields the same
// unacknowledged window.
func (s *segmentSender) nextWindow() []*APDU {
	end := s.base + s.window
	if end > len(s.segments) {
		end = len(s.segments)
	}
	if end > s.sent {
		s.sent = end
	}
	return s.segments[s.base:end]
}

// fill returns the segments inside the window that have not been
// transmitted yet and marks them transmitted.
func (s *segmentSender) fill() []*APDU {
	end := s.base + s.window
	if end > len(s.segments) {
		end = len(s.segments)
	}
	if end <= s.sent {
		return nil
	}
	segs := s.segments[s.sent:end]
	s.sent = end
	return segs
}

// ack applies a Segment-ACK. It reports whether every segment is
// acknowledged. An ack for a segment not yet sent fails with
// ErrSegmentSequence; a stale ack changes nothing.
func (s *segmentSender) ack(seq uint8, actualWindow uint8) (bool, error) {
	rel := int(seq - uint8(s.base-1))
	switch {
	case rel >= 1 && rel <= s.sent-s.base:
		s.base += rel
	case rel == 0 || rel > 255-s.window:
		// Acknowledges a segment before base, a duplicate.
	default:
		return false, fmt.Errorf("%w: ack for unsent segment %d", ErrSegmentSequence, seq)
	}
	if actualWindow >= 1 && actualWindow <= maxWindowSize {
		s.window = int(actualWindow)
	}
	return s.done(), nil
}

// allSent reports whether the final segment has been transmitted.
func (s *segmentSender) allSent() bool {
	return s.sent == len(s.segments)
}

func (s *segmentSender) done() bool {
	return s.base >= len(s.segments)
}

// segmentResult tells the caller how to answer a received segment.
type segmentResult struct {
	ack       bool
	nak       bool
	ackSeq    uint8
	complete  bool
	duplicate bool
}

// segmentReceiver reassembles an inbound segmented message. Segments out
// of order but inside the current window are held until the gap fills.
type segmentReceiver struct {
	window      int
	maxSegments int
	windowStart int // absolute index of the first segment of the window
	expected    int // next in-order absolute index
	last        int // absolute index of the final segment, -1 until seen
	pending     map[int][]byte
	data        []byte
}

func newSegmentReceiver(window uint8, maxSegments int) *segmentReceiver {
	if window == 0 {
		window = 1
	}
	return &segmentReceiver{
		window:      int(window),
		maxSegments: maxSegments,
		last:        -1,
		pending:     make(map[int][]byte),
	}
}

// accept takes one segment. Duplicates are absorbed and re-acknowledged; a
// segment beyond the current window fails with ErrSegmentSequence.
func (r *segmentReceiver) accept(seq uint8, more bool, data []byte) (segmentResult, error) {
	rel := int(seq - uint8(r.windowStart))
	if rel >= r.window {
		// Anything in the half of the sequence space behind the window is
		// a retransmission of a segment already taken.
		back := int(uint8(r.windowStart) - seq)
		if back >= 1 && back <= 128 {
			return r.result(true, false), nil
		}
		return segmentResult{}, fmt.Errorf("%w: segment %d outside window [%d,+%d)",
			ErrSegmentSequence, seq, uint8(r.windowStart), r.window)
	}

	idx := r.windowStart + rel
	if r.maxSegments > 0 && idx >= r.maxSegments {
		return segmentResult{}, fmt.Errorf("%w: segment %d exceeds %d accepted", ErrBufferOverflow, idx, r.maxSegments)
	}
	if idx < r.expected {
		return r.result(true, false), nil
	}
	if _, held := r.pending[idx]; held {
		return r.result(false, false), nil
	}
	if !more {
		if r.last >= 0 && r.last != idx {
			return segmentResult{}, fmt.Errorf("%w: second final segment %d", ErrSegmentSequence, seq)
		}
		r.last = idx
	}

	if idx != r.expected {
		r.pending[idx] = append([]byte(nil), data...)
		// Ask for retransmission from the gap.
		r.windowStart = r.expected
		return r.result(false, true), nil
	}

	r.data = append(r.data, data...)
	r.expected++
	for {
		next, ok := r.pending[r.expected]
		if !ok {
			break
		}
		delete(r.pending, r.expected)
		r.data = append(r.data, next...)
		r.expected++
	}

	if r.complete() {
		res := r.result(false, false)
		res.ack = true
		res.complete = true
		return res, nil
	}
	if r.expected-r.windowStart >= r.window {
		r.windowStart = r.expected
		return r.result(false, false).withAck(), nil
	}
	return r.result(false, false), nil
}

// acked moves the window to the first segment not yet received in order,
// where the sender resumes after a Segment-ACK.
func (r *segmentReceiver) acked() {
	r.windowStart = r.expected
}

func (r *segmentReceiver) result(duplicate, nak bool) segmentResult {
	return segmentResult{
		ack:       duplicate || nak,
		nak:       nak,
		ackSeq:    uint8(r.expected - 1),
		duplicate: duplicate,
	}
}

func (res segmentResult) withAck() segmentResult {
	res.ack = true
	return res
}

func (r *segmentReceiver) complete() bool {
	return r.last >= 0 && r.expected > r.last
}

// bytes returns the reassembled service data.
func (r *segmentReceiver) bytes() []byte {
	return r.data
}
