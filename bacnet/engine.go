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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Sender transmits an encoded NPDU to a peer. It is the transport
// collaborator of the Engine.
type Sender interface {
	Send(peer PeerAddress, npdu []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(peer PeerAddress, npdu []byte) error

// Send calls f.
func (f SenderFunc) Send(peer PeerAddress, npdu []byte) error {
	return f(peer, npdu)
}

// ConfirmedRequest is an inbound confirmed service request.
type ConfirmedRequest struct {
	Peer PeerAddress
	// Source is the requester's network address when it sits behind a router.
	Source   *NetworkAddress
	InvokeID uint8
	Service  ConfirmedServiceChoice
	Data     []byte
}

// ConfirmedHandler serves a confirmed request. A nil ack with a nil error
// is answered with a Simple-ACK, a non-nil ack with a Complex-ACK. Errors of
// type *BACnetError, *RejectError and *AbortError produce the matching PDU;
// decoding errors produce a Reject.
type ConfirmedHandler func(req ConfirmedRequest) (ack []byte, err error)

// UnconfirmedRequest is an inbound unconfirmed service request.
type UnconfirmedRequest struct {
	Peer    PeerAddress
	Source  *NetworkAddress
	Service UnconfirmedServiceChoice
	Data    []byte
}

// UnconfirmedHandler serves an unconfirmed request.
type UnconfirmedHandler func(req UnconfirmedRequest)

// NetworkMessageHandler receives network layer messages, which the engine
// does not interpret.
type NetworkMessageHandler func(peer PeerAddress, npdu *NPDU)

// Request describes an outbound confirmed request.
type Request struct {
	Peer        PeerAddress
	Destination *NetworkAddress
	Priority    NetworkPriority
	Service     ConfirmedServiceChoice
	Data        []byte
	// MaxAPDU is the largest APDU the peer accepts, 0 for the local maximum.
	MaxAPDU int
	// MaxSegments is the number of segments the peer accepts, 0 if unknown.
	MaxSegments int
}

// Engine correlates confirmed requests with their replies, drives
// retransmission and segmentation, and dispatches inbound requests to
// handlers.
//
// The engine performs no I/O and reads no clock: received buffers come in
// through Receive, elapsed time through Advance, and outbound buffers leave
// through the Sender. Callbacks and handlers run synchronously inside those
// calls. An Engine is not safe for concurrent use; callers serialize access.
type Engine struct {
	opts    *options
	sender  Sender
	logger  *slog.Logger
	metrics *Metrics

	now   time.Duration
	table *transactionTable

	confirmed   map[ConfirmedServiceChoice]ConfirmedHandler
	unconfirmed map[UnconfirmedServiceChoice]UnconfirmedHandler
	network     NetworkMessageHandler
}

// NewEngine creates an engine sending through sender.
func NewEngine(sender Sender, opts ...Option) *Engine {
	return newEngine(sender, buildOptions(opts))
}

func newEngine(sender Sender, o *options) *Engine {
	e := &Engine{
		opts:        o,
		sender:      sender,
		logger:      o.logger,
		metrics:     NewMetrics(),
		table:       newTransactionTable(),
		confirmed:   make(map[ConfirmedServiceChoice]ConfirmedHandler),
		unconfirmed: make(map[UnconfirmedServiceChoice]UnconfirmedHandler),
	}
	if o.store != nil {
		e.HandleConfirmed(ServiceReadProperty, ReadPropertyHandler(o.store))
		if w, ok := o.store.(PropertyWriter); ok {
			e.HandleConfirmed(ServiceWriteProperty, WritePropertyHandler(w))
		}
	}
	if o.hasDevice {
		e.HandleUnconfirmed(ServiceWhoIs, e.answerWhoIs)
	}
	return e
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Now returns the engine clock: the sum of all durations passed to Advance.
func (e *Engine) Now() time.Duration {
	return e.now
}

// HandleConfirmed registers the handler for a confirmed service.
func (e *Engine) HandleConfirmed(service ConfirmedServiceChoice, h ConfirmedHandler) {
	e.confirmed[service] = h
}

// HandleUnconfirmed registers the handler for an unconfirmed service.
func (e *Engine) HandleUnconfirmed(service UnconfirmedServiceChoice, h UnconfirmedHandler) {
	e.unconfirmed[service] = h
}

// HandleNetworkMessages registers the receiver of network layer messages.
func (e *Engine) HandleNetworkMessages(h NetworkMessageHandler) {
	e.network = h
}

// SendConfirmed sends a confirmed request to a peer on the local network.
func (e *Engine) SendConfirmed(peer PeerAddress, service ConfirmedServiceChoice, data []byte, cb ResponseFunc) (uint8, error) {
	return e.Submit(Request{Peer: peer, Service: service, Data: data}, cb)
}

// Submit sends a confirmed request and returns its invoke id. cb receives
// the outcome exactly once, unless the transaction is cancelled.
func (e *Engine) Submit(req Request, cb ResponseFunc) (uint8, error) {
	id, err := e.table.allocate(req.Peer)
	if err != nil {
		return 0, err
	}

	apdu := &APDU{
		Type:                      PDUTypeConfirmedRequest,
		SegmentedResponseAccepted: e.opts.segmentation.CanReceive(),
		MaxSegments:               MaxSegmentsForCount(e.opts.maxSegments),
		MaxAPDU:                   MaxAPDUForLength(e.opts.maxAPDULength),
		InvokeID:                  id,
		Service:                   uint8(req.Service),
		Data:                      req.Data,
	}
	npdu := &NPDU{Version: NPDUVersion, ExpectingReply: true, Priority: req.Priority}
	if req.Destination != nil {
		dst := *req.Destination
		npdu.Destination = &dst
		npdu.HopCount = DefaultHopCount
	}

	limit := req.MaxAPDU
	if limit <= 0 {
		limit = e.opts.maxAPDULength
	}

	tx := &transaction{
		key:      txKey{peer: req.Peer, invokeID: id},
		service:  apdu.Service,
		npdu:     npdu,
		retries:  e.opts.retries,
		started:  e.now,
		callback: cb,
	}

	if NeedsSegmentation(apdu, limit) {
		if !e.opts.segmentation.CanTransmit() {
			return 0, fmt.Errorf("%w: %d octets of service data exceed %d", ErrSegmentationNotSupported, len(req.Data), limit)
		}
		segs, err := Segment(apdu, limit, e.opts.proposedWindowSize, req.MaxSegments)
		if err != nil {
			return 0, err
		}
		tx.template = apdu
		tx.sender = newSegmentSender(segs)
		tx.state = StateAwaitingSegmentAck
		tx.deadline = e.now + e.opts.segmentTimeout
		e.table.put(tx)
		if err := e.sendWindow(tx); err != nil {
			delete(e.table.txs, tx.key)
			return 0, err
		}
	} else {
		frame, err := encodeFrame(npdu, apdu)
		if err != nil {
			return 0, err
		}
		tx.frame = frame
		tx.state = StateAwaitingReply
		tx.deadline = e.now + e.opts.apduTimeout
		e.table.put(tx)
		if err := e.transmit(req.Peer, frame); err != nil {
			delete(e.table.txs, tx.key)
			return 0, err
		}
	}

	e.metrics.RequestsSent.Inc()
	e.updateActive()
	e.logger.Debug("confirmed request sent",
		slog.String("peer", string(req.Peer)),
		slog.Uint64("invoke_id", uint64(id)),
		slog.String("service", req.Service.String()),
		slog.String("state", tx.state.String()))
	return id, nil
}

// SendUnconfirmed sends an unconfirmed request. dest addresses a remote
// network and may be nil; BroadcastNetwork reaches every network.
func (e *Engine) SendUnconfirmed(peer PeerAddress, dest *NetworkAddress, service UnconfirmedServiceChoice, data []byte) error {
	npdu := &NPDU{Version: NPDUVersion}
	if dest != nil {
		d := *dest
		npdu.Destination = &d
		npdu.HopCount = DefaultHopCount
	}
	frame, err := encodeFrame(npdu, &APDU{Type: PDUTypeUnconfirmedRequest, Service: uint8(service), Data: data})
	if err != nil {
		return err
	}
	if service == ServiceWhoIs {
		e.metrics.WhoIsSent.Inc()
	}
	return e.transmit(peer, frame)
}

// Cancel drops an outstanding request. Its callback is not invoked and late
// replies are treated as stray. The invoke id is reused only after the
// duplicate grace window.
func (e *Engine) Cancel(peer PeerAddress, invokeID uint8) error {
	key := txKey{peer: peer, invokeID: invokeID}
	tx, ok := e.table.get(key)
	if !ok {
		return fmt.Errorf("%w: invoke id %d to %s", ErrUnknownTransaction, invokeID, peer)
	}
	if tx.state == StateAwaitingSegmentAck || tx.state == StateReassemblingSegments {
		e.sendAbort(tx, AbortReasonOther)
	}
	tx.callback = nil
	e.table.release(key, e.now+e.opts.gracePeriod)
	e.updateActive()
	e.logger.Debug("transaction cancelled",
		slog.String("peer", string(peer)),
		slog.Uint64("invoke_id", uint64(invokeID)))
	return nil
}

// State returns the state of a transaction. server selects requests
// received from peer rather than sent to it.
func (e *Engine) State(peer PeerAddress, invokeID uint8, server bool) (TransactionState, bool) {
	tx, ok := e.table.get(txKey{peer: peer, invokeID: invokeID, server: server})
	if !ok {
		return StateIdle, false
	}
	return tx.state, true
}

// Pending returns the number of transactions that have not finished.
func (e *Engine) Pending() int {
	return e.table.active()
}

// NextTimeout returns the time until the next timer fires.
func (e *Engine) NextTimeout() (time.Duration, bool) {
	next, ok := e.table.nextDeadline()
	if !ok {
		return 0, false
	}
	if next < e.now {
		return 0, true
	}
	return next - e.now, true
}

// Advance moves the engine clock forward by d and fires every timer that
// falls due, in deadline order.
func (e *Engine) Advance(d time.Duration) {
	target := e.now + d
	for {
		next, ok := e.table.nextDeadline()
		if !ok || next > target {
			break
		}
		if next > e.now {
			e.now = next
		}
		e.table.expire(e.now)
		for _, tx := range e.due() {
			if cur, ok := e.table.get(tx.key); ok && cur == tx {
				e.fire(tx)
			}
		}
	}
	e.now = target
	e.table.expire(e.now)
}

func (e *Engine) due() []*transaction {
	var due []*transaction
	for _, tx := range e.table.txs {
		if tx.deadline <= e.now {
			due = append(due, tx)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		if due[i].key.peer != due[j].key.peer {
			return due[i].key.peer < due[j].key.peer
		}
		return due[i].key.invokeID < due[j].key.invokeID
	})
	return due
}

func (e *Engine) fire(tx *transaction) {
	switch tx.state {
	case StateAwaitingReply:
		if tx.retries > 0 {
			tx.retries--
			e.metrics.Retransmissions.Inc()
			e.logger.Debug("retransmitting request",
				slog.String("peer", string(tx.key.peer)),
				slog.Uint64("invoke_id", uint64(tx.key.invokeID)),
				slog.Int("retries_left", tx.retries))
			if tx.sender != nil {
				// A segmented request is resent from its first segment.
				tx.sender = newSegmentSender(tx.sender.segments)
				tx.state = StateAwaitingSegmentAck
				tx.deadline = e.now + e.opts.segmentTimeout
				_ = e.sendWindow(tx)
				return
			}
			tx.deadline = e.now + e.opts.apduTimeout
			_ = e.transmit(tx.key.peer, tx.frame)
			return
		}
		e.metrics.RequestsTimedOut.Inc()
		e.finish(tx, StateTimedOut, Response{
			Err: fmt.Errorf("%w: invoke id %d to %s after %d retries",
				ErrRequestTimedOut, tx.key.invokeID, tx.key.peer, e.opts.retries),
		})

	case StateAwaitingSegmentAck:
		if tx.retries > 0 {
			tx.retries--
			e.metrics.Retransmissions.Inc()
			e.logger.Debug("retransmitting segment window",
				slog.String("peer", string(tx.key.peer)),
				slog.Uint64("invoke_id", uint64(tx.key.invokeID)),
				slog.Int("retries_left", tx.retries))
			tx.deadline = e.now + e.opts.segmentTimeout
			_ = e.sendWindow(tx)
			return
		}
		if !tx.key.server {
			e.metrics.RequestsTimedOut.Inc()
		}
		e.abort(tx, AbortReasonTsmTimeout, nil)

	case StateReassemblingSegments:
		e.abort(tx, AbortReasonTsmTimeout, nil)

	default:
		// Grace window of a finished server transaction elapsed.
		delete(e.table.txs, tx.key)
	}
}

// Receive processes one NPDU received from peer. Malformed input is
// reported through the returned error; it never disturbs transactions
// other than the one it addresses.
func (e *Engine) Receive(peer PeerAddress, buf []byte) error {
	e.metrics.BytesReceived.Add(int64(len(buf)))

	npdu, apduBuf, err := DecodeNPDU(buf)
	if err != nil {
		e.metrics.MalformedReceived.Inc()
		e.logger.Debug("dropping malformed NPDU", slog.String("peer", string(peer)), slog.String("error", err.Error()))
		return err
	}
	if npdu.NetworkMessage {
		if e.network != nil {
			e.network(peer, npdu)
		}
		return nil
	}

	apdu, err := DecodeAPDU(apduBuf)
	if err != nil {
		e.metrics.MalformedReceived.Inc()
		e.abortMalformed(peer, apduBuf, err)
		return err
	}

	switch apdu.Type {
	case PDUTypeConfirmedRequest:
		e.receiveRequest(peer, npdu, apdu)
	case PDUTypeUnconfirmedRequest:
		e.receiveUnconfirmed(peer, npdu, apdu)
	case PDUTypeSegmentAck:
		e.receiveSegmentAck(peer, apdu)
	case PDUTypeAbort:
		e.receiveAbort(peer, apdu)
	default:
		e.receiveReply(peer, apdu)
	}
	return nil
}

// abortMalformed aborts the transaction a malformed APDU belongs to, if any.
func (e *Engine) abortMalformed(peer PeerAddress, apduBuf []byte, cause error) {
	pduType, id, ok := peekInvokeID(apduBuf)
	if !ok {
		e.logger.Debug("dropping malformed APDU", slog.String("peer", string(peer)), slog.String("error", cause.Error()))
		return
	}
	// server is set when the PDU belongs to a request we serve.
	server := pduType == PDUTypeConfirmedRequest
	if pduType == PDUTypeSegmentAck || pduType == PDUTypeAbort {
		server = apduBuf[0]&pduFlagServer == 0
	}
	tx, ok := e.table.get(txKey{peer: peer, invokeID: id, server: server})
	if !ok || tx.state.Terminal() {
		e.logger.Debug("dropping malformed APDU", slog.String("peer", string(peer)), slog.String("error", cause.Error()))
		return
	}
	e.abort(tx, AbortReasonOther, cause)
}

func (e *Engine) stray(peer PeerAddress, apdu *APDU) {
	e.metrics.StrayReceived.Inc()
	e.logger.Debug("dropping stray APDU", slog.String("peer", string(peer)), slog.String("apdu", apdu.String()))
}

func (e *Engine) receiveReply(peer PeerAddress, apdu *APDU) {
	tx, ok := e.table.get(txKey{peer: peer, invokeID: apdu.InvokeID})
	if !ok || (apdu.Type != PDUTypeReject && apdu.Service != tx.service) {
		e.stray(peer, apdu)
		return
	}
	if tx.state == StateReassemblingSegments && !(apdu.Type == PDUTypeComplexAck && apdu.Segmented) {
		e.abort(tx, AbortReasonInvalidApduInThisState, nil)
		return
	}

	switch apdu.Type {
	case PDUTypeSimpleAck:
		e.finish(tx, StateComplete, Response{})
	case PDUTypeComplexAck:
		if apdu.Segmented {
			e.receiveResponseSegment(tx, apdu)
			return
		}
		e.finish(tx, StateComplete, Response{Data: append([]byte(nil), apdu.Data...)})
	case PDUTypeError:
		e.metrics.ErrorsReceived.Inc()
		bacErr, err := DecodeErrorPayload(apdu.Data)
		if err != nil {
			e.finish(tx, StateComplete, Response{Err: err})
			return
		}
		e.finish(tx, StateComplete, Response{Err: bacErr})
	case PDUTypeReject:
		e.metrics.RejectsReceived.Inc()
		e.finish(tx, StateAborted, Response{Err: &RejectError{InvokeID: apdu.InvokeID, Reason: RejectReason(apdu.Reason)}})
	}
}

func (e *Engine) receiveResponseSegment(tx *transaction, apdu *APDU) {
	if tx.receiver == nil {
		if !e.opts.segmentation.CanReceive() {
			e.abort(tx, AbortReasonSegmentationNotSupported, nil)
			return
		}
		if apdu.SequenceNumber != 0 {
			e.abort(tx, AbortReasonInvalidApduInThisState,
				fmt.Errorf("%w: first segment numbered %d", ErrSegmentSequence, apdu.SequenceNumber))
			return
		}
		tx.receiver = newSegmentReceiver(min(apdu.WindowSize, e.opts.proposedWindowSize), e.opts.maxSegments)
		tx.state = StateReassemblingSegments
	}
	first := apdu.SequenceNumber == 0 && tx.receiver.expected == 0
	if !e.acceptSegment(tx, apdu, first) {
		return
	}
	data := tx.receiver.bytes()
	if err := ValidateTagStream(data); err != nil {
		e.abort(tx, AbortReasonOther, err)
		return
	}
	e.finish(tx, StateComplete, Response{Data: data})
}

// acceptSegment feeds a received segment to the transaction's receiver and
// answers with a Segment-ACK when one is due. It reports whether the
// message is complete.
func (e *Engine) acceptSegment(tx *transaction, apdu *APDU, forceAck bool) bool {
	e.metrics.SegmentsReceived.Inc()
	res, err := tx.receiver.accept(apdu.SequenceNumber, apdu.MoreFollows, apdu.Data)
	if err != nil {
		reason := AbortReasonInvalidApduInThisState
		if errors.Is(err, ErrBufferOverflow) {
			reason = AbortReasonBufferOverflow
		}
		e.abort(tx, reason, err)
		return false
	}
	tx.deadline = e.now + 4*e.opts.segmentTimeout
	if res.duplicate {
		e.logger.Debug("duplicate segment",
			slog.String("peer", string(tx.key.peer)),
			slog.Uint64("invoke_id", uint64(tx.key.invokeID)),
			slog.Uint64("sequence", uint64(apdu.SequenceNumber)))
	}
	if res.ack || forceAck {
		tx.receiver.acked()
		ack := &APDU{
			Type:           PDUTypeSegmentAck,
			NegativeAck:    res.nak,
			Server:         tx.key.server,
			InvokeID:       tx.key.invokeID,
			SequenceNumber: res.ackSeq,
			WindowSize:     uint8(tx.receiver.window),
		}
		if frame, err := encodeFrame(ackHeader(tx.npdu), ack); err == nil {
			_ = e.transmit(tx.key.peer, frame)
		}
	}
	return res.complete
}

func (e *Engine) receiveSegmentAck(peer PeerAddress, apdu *APDU) {
	// A Segment-ACK sent by a server acknowledges our request segments.
	key := txKey{peer: peer, invokeID: apdu.InvokeID, server: !apdu.Server}
	tx, ok := e.table.get(key)
	if !ok || tx.state != StateAwaitingSegmentAck {
		e.stray(peer, apdu)
		return
	}

	base := tx.sender.base
	done, err := tx.sender.ack(apdu.SequenceNumber, apdu.WindowSize)
	if err != nil {
		e.logger.Debug("ignoring segment-ack", slog.String("peer", string(peer)), slog.String("error", err.Error()))
		return
	}
	if done {
		if tx.key.server {
			e.finish(tx, StateComplete, Response{})
			return
		}
		tx.state = StateAwaitingReply
		tx.retries = e.opts.retries
		tx.deadline = e.now + e.opts.apduTimeout
		return
	}
	if apdu.NegativeAck {
		tx.retries = e.opts.retries
		tx.deadline = e.now + e.opts.segmentTimeout
		_ = e.sendWindow(tx)
		return
	}
	if tx.sender.base != base {
		tx.retries = e.opts.retries
		tx.deadline = e.now + e.opts.segmentTimeout
		_ = e.sendSegments(tx, tx.sender.fill())
	}
}

func (e *Engine) receiveAbort(peer PeerAddress, apdu *APDU) {
	key := txKey{peer: peer, invokeID: apdu.InvokeID, server: !apdu.Server}
	tx, ok := e.table.get(key)
	if !ok || tx.state.Terminal() {
		e.stray(peer, apdu)
		return
	}
	if !tx.key.server {
		e.metrics.AbortsReceived.Inc()
	}
	e.finish(tx, StateAborted, Response{
		Err: &AbortError{InvokeID: apdu.InvokeID, Server: apdu.Server, Reason: AbortReason(apdu.Reason)},
	})
}

func (e *Engine) receiveUnconfirmed(peer PeerAddress, npdu *NPDU, apdu *APDU) {
	e.metrics.UnconfirmedReceived.Inc()
	service := UnconfirmedServiceChoice(apdu.Service)
	if service == ServiceIAm {
		e.metrics.IAmReceived.Inc()
	}
	h, ok := e.unconfirmed[service]
	if !ok {
		e.logger.Debug("no handler for unconfirmed service",
			slog.String("peer", string(peer)), slog.String("service", service.String()))
		return
	}
	h(UnconfirmedRequest{Peer: peer, Source: npdu.Source, Service: service, Data: apdu.Data})
}

func (e *Engine) receiveRequest(peer PeerAddress, npdu *NPDU, apdu *APDU) {
	key := txKey{peer: peer, invokeID: apdu.InvokeID, server: true}
	if tx, ok := e.table.get(key); ok {
		// A finished transaction only answers repeats of the same service;
		// anything else reuses the invoke id for a new request.
		if !tx.state.Terminal() || tx.service == apdu.Service {
			e.receiveDuplicate(tx, apdu)
			return
		}
		delete(e.table.txs, key)
	}

	e.metrics.RequestsReceived.Inc()
	tx := &transaction{
		key:             key,
		state:           StateAwaitingReply,
		service:         apdu.Service,
		npdu:            npdu.Reply(),
		started:         e.now,
		deadline:        e.now + e.opts.apduTimeout,
		peerMaxAPDU:     apdu.MaxAPDU.Length(),
		peerMaxSegments: apdu.MaxSegments.Count(),
		peerSegAccepted: apdu.SegmentedResponseAccepted,
	}
	e.table.put(tx)
	e.updateActive()

	if !apdu.Segmented {
		e.dispatch(tx, apdu.Data)
		return
	}
	if !e.opts.segmentation.CanReceive() {
		e.abort(tx, AbortReasonSegmentationNotSupported, nil)
		return
	}
	if apdu.SequenceNumber != 0 {
		e.abort(tx, AbortReasonInvalidApduInThisState,
			fmt.Errorf("%w: first segment numbered %d", ErrSegmentSequence, apdu.SequenceNumber))
		return
	}
	tx.receiver = newSegmentReceiver(min(apdu.WindowSize, e.opts.proposedWindowSize), e.opts.maxSegments)
	tx.state = StateReassemblingSegments
	if e.acceptSegment(tx, apdu, true) {
		e.dispatch(tx, tx.receiver.bytes())
	}
}

// receiveDuplicate handles a request whose invoke id is already known.
func (e *Engine) receiveDuplicate(tx *transaction, apdu *APDU) {
	switch {
	case tx.state == StateReassemblingSegments && apdu.Segmented:
		if e.acceptSegment(tx, apdu, false) {
			e.dispatch(tx, tx.receiver.bytes())
		}
	case tx.state.Terminal() && len(tx.cached) > 0 && (!apdu.Segmented || apdu.SequenceNumber == 0):
		e.metrics.DuplicatesAbsorbed.Inc()
		e.logger.Debug("answering duplicate request from cache",
			slog.String("peer", string(tx.key.peer)),
			slog.Uint64("invoke_id", uint64(tx.key.invokeID)))
		for _, frame := range tx.cached {
			_ = e.transmit(tx.key.peer, frame)
		}
	default:
		e.metrics.DuplicatesAbsorbed.Inc()
		e.logger.Debug("ignoring duplicate request",
			slog.String("peer", string(tx.key.peer)),
			slog.Uint64("invoke_id", uint64(tx.key.invokeID)),
			slog.String("state", tx.state.String()))
	}
}

func (e *Engine) dispatch(tx *transaction, data []byte) {
	service := ConfirmedServiceChoice(tx.service)
	h, ok := e.confirmed[service]
	if !ok {
		e.reply(tx, StateAborted, &APDU{Type: PDUTypeReject, InvokeID: tx.key.invokeID, Reason: uint8(RejectReasonUnrecognizedService)})
		return
	}
	tx.state = StateAwaitingReply
	ack, err := h(ConfirmedRequest{
		Peer:     tx.key.peer,
		Source:   tx.npdu.Destination,
		InvokeID: tx.key.invokeID,
		Service:  service,
		Data:     data,
	})
	e.respond(tx, ack, err)
}

func (e *Engine) respond(tx *transaction, ack []byte, err error) {
	if err != nil {
		var (
			bacErr *BACnetError
			rejErr *RejectError
			abrErr *AbortError
		)
		switch {
		case errors.As(err, &bacErr):
			e.replyError(tx, bacErr)
		case errors.As(err, &rejErr):
			e.reply(tx, StateAborted, &APDU{Type: PDUTypeReject, InvokeID: tx.key.invokeID, Reason: uint8(rejErr.Reason)})
		case errors.As(err, &abrErr):
			e.abort(tx, abrErr.Reason, nil)
		case errors.Is(err, ErrUnsupportedCharacterSet):
			e.replyError(tx, NewBACnetError(ErrorClassProperty, ErrorCodeCharacterSetNotSupported))
		default:
			if reason, ok := rejectReasonFor(err); ok {
				e.reply(tx, StateAborted, &APDU{Type: PDUTypeReject, InvokeID: tx.key.invokeID, Reason: uint8(reason)})
				return
			}
			e.logger.Warn("confirmed handler failed",
				slog.String("service", ConfirmedServiceChoice(tx.service).String()),
				slog.String("error", err.Error()))
			e.replyError(tx, NewBACnetError(ErrorClassDevice, ErrorCodeOther))
		}
		return
	}

	if ack == nil {
		e.reply(tx, StateComplete, &APDU{Type: PDUTypeSimpleAck, InvokeID: tx.key.invokeID, Service: tx.service})
		return
	}

	apdu := &APDU{Type: PDUTypeComplexAck, InvokeID: tx.key.invokeID, Service: tx.service, Data: ack}
	limit := min(tx.peerMaxAPDU, e.opts.maxAPDULength)
	if !NeedsSegmentation(apdu, limit) {
		e.reply(tx, StateComplete, apdu)
		return
	}
	if !tx.peerSegAccepted || !e.opts.segmentation.CanTransmit() {
		e.abort(tx, AbortReasonSegmentationNotSupported, nil)
		return
	}
	segs, err := Segment(apdu, limit, e.opts.proposedWindowSize, tx.peerMaxSegments)
	if err != nil {
		e.abort(tx, AbortReasonBufferOverflow, err)
		return
	}
	tx.receiver = nil
	tx.template = apdu
	tx.sender = newSegmentSender(segs)
	tx.state = StateAwaitingSegmentAck
	tx.retries = e.opts.retries
	tx.deadline = e.now + e.opts.segmentTimeout
	_ = e.sendWindow(tx)
}

func (e *Engine) replyError(tx *transaction, bacErr *BACnetError) {
	data, err := EncodeErrorPayload(bacErr)
	if err != nil {
		e.abort(tx, AbortReasonOther, err)
		return
	}
	e.reply(tx, StateComplete, &APDU{Type: PDUTypeError, InvokeID: tx.key.invokeID, Service: tx.service, Data: data})
}

// reply sends a single-frame answer to a served request and keeps it for
// duplicates.
func (e *Engine) reply(tx *transaction, state TransactionState, apdu *APDU) {
	frame, err := encodeFrame(tx.npdu, apdu)
	if err != nil {
		e.abort(tx, AbortReasonOther, err)
		return
	}
	tx.cached = [][]byte{frame}
	_ = e.transmit(tx.key.peer, frame)
	e.finish(tx, state, Response{})
}

// abort ends a transaction locally and notifies the peer, best effort.
func (e *Engine) abort(tx *transaction, reason AbortReason, cause error) {
	frame := e.sendAbort(tx, reason)
	if tx.key.server && frame != nil {
		tx.cached = [][]byte{frame}
	}
	e.logger.Warn("transaction aborted",
		slog.String("peer", string(tx.key.peer)),
		slog.Uint64("invoke_id", uint64(tx.key.invokeID)),
		slog.Bool("server", tx.key.server),
		slog.String("reason", reason.String()))

	var err error = &AbortError{InvokeID: tx.key.invokeID, Server: tx.key.server, Reason: reason}
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	e.finish(tx, StateAborted, Response{Err: err})
}

func (e *Engine) sendAbort(tx *transaction, reason AbortReason) []byte {
	apdu := &APDU{Type: PDUTypeAbort, Server: tx.key.server, InvokeID: tx.key.invokeID, Reason: uint8(reason)}
	frame, err := encodeFrame(ackHeader(tx.npdu), apdu)
	if err != nil {
		return nil
	}
	e.metrics.AbortsSent.Inc()
	_ = e.transmit(tx.key.peer, frame)
	return frame
}

// finish moves tx to a terminal state. Client transactions leave the table
// and report to their caller; served ones stay for the grace window.
func (e *Engine) finish(tx *transaction, state TransactionState, resp Response) {
	tx.state = state
	tx.sender = nil
	tx.receiver = nil
	if tx.key.server {
		tx.deadline = e.now + e.opts.gracePeriod
		e.updateActive()
		return
	}

	e.table.release(tx.key, e.now+e.opts.gracePeriod)
	e.updateActive()

	latency := e.now - tx.started
	if resp.Err == nil {
		e.metrics.RequestsSucceeded.Inc()
		e.metrics.RequestLatency.Record(latency)
	} else {
		e.metrics.RequestsFailed.Inc()
	}

	cb := tx.callback
	tx.callback = nil
	if cb == nil {
		return
	}
	resp.Peer = tx.key.peer
	resp.InvokeID = tx.key.invokeID
	resp.Service = ConfirmedServiceChoice(tx.service)
	resp.Latency = latency
	cb(resp)
}

func (e *Engine) sendWindow(tx *transaction) error {
	return e.sendSegments(tx, tx.sender.nextWindow())
}

func (e *Engine) sendSegments(tx *transaction, segs []*APDU) error {
	header := segmentHeader(tx.npdu)
	for _, seg := range segs {
		frame, err := encodeFrame(header, seg)
		if err != nil {
			return err
		}
		e.metrics.SegmentsSent.Inc()
		if err := e.transmit(tx.key.peer, frame); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) transmit(peer PeerAddress, frame []byte) error {
	if err := e.sender.Send(peer, frame); err != nil {
		e.logger.Warn("send failed", slog.String("peer", string(peer)), slog.String("error", err.Error()))
		return err
	}
	e.metrics.BytesSent.Add(int64(len(frame)))
	return nil
}

func (e *Engine) updateActive() {
	e.metrics.ActiveTransactions.Set(int64(e.table.active()))
}

func (e *Engine) answerWhoIs(req UnconfirmedRequest) {
	whoIs, err := DecodeWhoIs(req.Data)
	if err != nil {
		e.logger.Debug("malformed Who-Is", slog.String("peer", string(req.Peer)), slog.String("error", err.Error()))
		return
	}
	if !whoIs.Matches(e.opts.deviceInstance) {
		return
	}
	if err := e.SendIAm(req.Peer, req.Source); err != nil {
		e.logger.Warn("sending I-Am", slog.String("peer", string(req.Peer)), slog.String("error", err.Error()))
	}
}

// SendIAm announces the local device configured with WithDevice to peer.
func (e *Engine) SendIAm(peer PeerAddress, dest *NetworkAddress) error {
	if !e.opts.hasDevice {
		return fmt.Errorf("%w: no local device configured", ErrDeviceNotFound)
	}
	iam := IAm{
		Device:        NewObjectIdentifier(ObjectTypeDevice, e.opts.deviceInstance),
		MaxAPDULength: uint32(e.opts.maxAPDULength),
		Segmentation:  e.opts.segmentation,
		VendorID:      e.opts.vendorID,
	}
	data, err := iam.Encode()
	if err != nil {
		return err
	}
	return e.SendUnconfirmed(peer, dest, ServiceIAm, data)
}

func rejectReasonFor(err error) (RejectReason, bool) {
	switch {
	case errors.Is(err, ErrTypeMismatch):
		return RejectReasonInvalidParameterDataType, true
	case errors.Is(err, ErrMalformedTag), errors.Is(err, ErrTruncatedData),
		errors.Is(err, ErrUnbalancedConstructedData), errors.Is(err, ErrMalformedBitString):
		return RejectReasonInvalidTag, true
	case errors.Is(err, ErrValueOutOfRange):
		return RejectReasonParameterOutOfRange, true
	}
	return 0, false
}

func encodeFrame(npdu *NPDU, apdu *APDU) ([]byte, error) {
	body, err := apdu.Encode()
	if err != nil {
		return nil, err
	}
	return npdu.Encode(body)
}

// segmentHeader is the NPDU header for segments, which solicit a Segment-ACK.
func segmentHeader(n *NPDU) *NPDU {
	h := *n
	h.ExpectingReply = true
	return &h
}

// ackHeader is the NPDU header for Segment-ACK and Abort PDUs sent within
// a transaction: same route, no reply expected.
func ackHeader(n *NPDU) *NPDU {
	h := *n
	h.ExpectingReply = false
	return &h
}
