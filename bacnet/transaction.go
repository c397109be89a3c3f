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
	"time"
)

// PeerAddress identifies a peer for the transport collaborator. The engine
// only compares addresses for equality.
type PeerAddress string

// TransactionState is the state of a confirmed-service transaction.
type TransactionState uint8

const (
	StateIdle TransactionState = iota
	StateAwaitingSegmentAck
	StateAwaitingReply
	StateReassemblingSegments
	StateComplete
	StateAborted
	StateTimedOut
)

func (s TransactionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSegmentAck:
		return "awaiting-segment-ack"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateReassemblingSegments:
		return "reassembling-segments"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	case StateTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether s ends a transaction.
func (s TransactionState) Terminal() bool {
	return s == StateComplete || s == StateAborted || s == StateTimedOut
}

// Response is the outcome of a confirmed request delivered to its caller.
// Err is nil on success; otherwise it is a *BACnetError, *RejectError or
// *AbortError from the peer, or wraps ErrRequestTimedOut.
type Response struct {
	Peer     PeerAddress
	InvokeID uint8
	Service  ConfirmedServiceChoice
	// Data is the Complex-ACK service data, nil for a Simple-ACK.
	Data    []byte
	Err     error
	Latency time.Duration
}

// ResponseFunc receives the outcome of a confirmed request exactly once.
type ResponseFunc func(Response)

// txKey identifies a transaction. The invoke id space of a peer is split
// between requests we sent (server false) and requests we serve.
type txKey struct {
	peer     PeerAddress
	invokeID uint8
	server   bool
}

// transaction is one entry of the engine's transaction table.
type transaction struct {
	key     txKey
	state   TransactionState
	service uint8
	npdu    *NPDU

	// Unsegmented request or response, kept for retransmission.
	frame []byte
	// Segmented transfer state
	sender   *segmentSender
	receiver *segmentReceiver
	template *APDU

	retries  int
	deadline time.Duration
	started  time.Duration
	callback ResponseFunc

	// Server side: what the requester accepts, and the cached reply
	// retransmitted when a duplicate request arrives during the grace window.
	peerMaxAPDU     int
	peerMaxSegments int
	peerSegAccepted bool
	cached          [][]byte
}

// transactionTable holds the transactions of one engine, plus the invoke
// ids quarantined after a transaction ended.
type transactionTable struct {
	txs        map[txKey]*transaction
	quarantine map[txKey]time.Duration
	nextID     map[PeerAddress]uint8
}

func newTransactionTable() *transactionTable {
	return &transactionTable{
		txs:        make(map[txKey]*transaction),
		quarantine: make(map[txKey]time.Duration),
		nextID:     make(map[PeerAddress]uint8),
	}
}

// allocate picks the next invoke id for peer, skipping ids that are in use
// or quarantined. Allocation is monotonic with wraparound.
func (t *transactionTable) allocate(peer PeerAddress) (uint8, error) {
	start := t.nextID[peer]
	for i := 0; i < 256; i++ {
		id := start + uint8(i)
		key := txKey{peer: peer, invokeID: id}
		if _, busy := t.txs[key]; busy {
			continue
		}
		if _, held := t.quarantine[key]; held {
			continue
		}
		t.nextID[peer] = id + 1
		return id, nil
	}
	return 0, fmt.Errorf("%w: peer %s", ErrNoInvokeID, peer)
}

func (t *transactionTable) get(key txKey) (*transaction, bool) {
	tx, ok := t.txs[key]
	return tx, ok
}

func (t *transactionTable) put(tx *transaction) {
	t.txs[tx.key] = tx
}

// release removes a client transaction and quarantines its id until expiry.
func (t *transactionTable) release(key txKey, expiry time.Duration) {
	delete(t.txs, key)
	if !key.server {
		t.quarantine[key] = expiry
	}
}

func (t *transactionTable) quarantined(key txKey) bool {
	_, ok := t.quarantine[key]
	return ok
}

// expire drops quarantine entries whose grace window has elapsed.
func (t *transactionTable) expire(now time.Duration) {
	for key, until := range t.quarantine {
		if now >= until {
			delete(t.quarantine, key)
		}
	}
}

// active counts non-terminal transactions.
func (t *transactionTable) active() int {
	n := 0
	for _, tx := range t.txs {
		if !tx.state.Terminal() {
			n++
		}
	}
	return n
}

// nextDeadline returns the earliest timer of any transaction or quarantine entry.
func (t *transactionTable) nextDeadline() (time.Duration, bool) {
	var (
		min   time.Duration
		found bool
	)
	consider := func(d time.Duration) {
		if !found || d < min {
			min = d
			found = true
		}
	}
	for _, tx := range t.txs {
		consider(tx.deadline)
	}
	for _, until := range t.quarantine {
		consider(until)
	}
	return min, found
}
