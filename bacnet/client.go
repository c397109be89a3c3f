package bacnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/bacstack/bacnet/internal/transport"
)

// ConnectionState represents the client connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// tickInterval is how often the client feeds wall-clock time to the engine.
const tickInterval = 25 * time.Millisecond

// DeviceInfo describes a device that answered Who-Is or was added by hand.
type DeviceInfo struct {
	ObjectID ObjectIdentifier
	// Address is the B/IP address ("ip:port") of the device or of the
	// router in front of it.
	Address string
	// Network is the device's remote network address, nil on the local network.
	Network       *NetworkAddress
	MaxAPDULength int
	Segmentation  Segmentation
	VendorID      uint16
}

// Client is a BACnet/IP node. It owns the UDP socket and the goroutines
// that feed received datagrams and elapsed time to an Engine, and offers
// blocking request methods on top of it.
type Client struct {
	opts      *options
	transport *transport.UDPTransport

	state atomic.Int32

	// mu serializes all access to the engine.
	mu     sync.Mutex
	engine *Engine

	devicesMu sync.RWMutex
	devices   map[uint32]*DeviceInfo

	logger *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
	closed chan struct{}
}

// NewClient creates a new BACnet/IP client. WithDevice and
// WithPropertyStore turn it into a server answering Who-Is, ReadProperty
// and WriteProperty.
func NewClient(opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	if o.bbmdAddress != "" {
		if _, err := netip.ParseAddrPort(o.bbmdAddress); err != nil {
			return nil, fmt.Errorf("BBMD address: %w", err)
		}
	}
	if _, err := netip.ParseAddr(o.broadcastAddress); err != nil {
		return nil, fmt.Errorf("broadcast address: %w", err)
	}

	c := &Client{
		opts:    o,
		devices: make(map[uint32]*DeviceInfo),
		logger:  o.logger,
	}

	local := o.localAddress
	if local == "" || !hasPort(local) {
		local = net.JoinHostPort(local, strconv.Itoa(o.port))
	}
	c.transport = transport.NewUDPTransport(local)
	c.transport.SetWriteTimeout(o.apduTimeout)

	c.engine = newEngine(SenderFunc(c.send), o)
	c.engine.HandleUnconfirmed(ServiceIAm, c.handleIAm)

	return c, nil
}

func hasPort(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// Connect opens the socket and starts the receive and timer loops.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	if err := c.transport.Open(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("open transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = group
	c.closed = make(chan struct{})

	group.Go(func() error { return c.receiveLoop(runCtx) })
	group.Go(func() error { return c.timerLoop(runCtx) })
	if c.opts.bbmdAddress != "" {
		if err := c.registerForeignDevice(ctx); err != nil {
			c.logger.Warn("failed to register as foreign device", slog.String("error", err.Error()))
		}
		group.Go(func() error { return c.renewLoop(runCtx) })
	}

	c.state.Store(int32(StateConnected))
	c.logger.Info("connected", slog.String("local_addr", c.transport.LocalAddr().String()))
	return nil
}

// Close stops the loops and closes the socket. Requests still waiting
// fail with ErrConnectionClosed.
func (c *Client) Close() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return nil
	}

	c.cancel()
	close(c.closed)
	err := c.group.Wait()

	if cerr := c.transport.Close(); cerr != nil {
		return fmt.Errorf("close transport: %w", cerr)
	}

	c.logger.Info("disconnected")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// LocalAddr returns the bound "ip:port", empty before Connect.
func (c *Client) LocalAddr() string {
	addr := c.transport.LocalAddr()
	if !addr.IsValid() {
		return ""
	}
	return addr.String()
}

// Metrics returns the engine metrics
func (c *Client) Metrics() *Metrics {
	return c.engine.Metrics()
}

// Engine calls fn with exclusive access to the client's engine, for
// registering handlers or reading transaction state.
func (c *Client) Engine(fn func(e *Engine)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.engine)
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, from, err := c.transport.ReceiveWithTimeout(100 * time.Millisecond)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if c.transport.IsClosed() || errors.Is(err, transport.ErrNotOpen) {
				return nil
			}
			c.logger.Debug("receive error", slog.String("error", err.Error()))
			continue
		}
		c.handleDatagram(data, from)
	}
}

func (c *Client) timerLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.mu.Lock()
			c.engine.Advance(now.Sub(last))
			c.mu.Unlock()
			last = now
		}
	}
}

func (c *Client) renewLoop(ctx context.Context) error {
	interval := c.opts.foreignDeviceTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.registerForeignDevice(ctx); err != nil {
				c.logger.Warn("failed to renew foreign device registration", slog.String("error", err.Error()))
			}
		}
	}
}

// handleDatagram unwraps BVLC and hands the NPDU to the engine.
func (c *Client) handleDatagram(data []byte, from netip.AddrPort) {
	if from == c.transport.LocalAddr() {
		return
	}

	bvlc, err := DecodeBVLC(data)
	if err != nil {
		c.logger.Debug("invalid BVLC", slog.String("from", from.String()), slog.String("error", err.Error()))
		return
	}
	if bvlc.NPDU == nil {
		if bvlc.Function == BVLCResult && bvlc.Result != 0 {
			c.logger.Warn("BVLC-Result NAK", slog.String("from", from.String()), slog.Uint64("code", uint64(bvlc.Result)))
		}
		return
	}

	peer := from
	if bvlc.Function == BVLCForwardedNPDU {
		peer = bvlc.Origin
	}

	c.mu.Lock()
	err = c.engine.Receive(PeerAddress(peer.String()), bvlc.NPDU)
	c.mu.Unlock()
	if err != nil {
		c.logger.Debug("dropped datagram", slog.String("from", peer.String()), slog.String("error", err.Error()))
	}
}

// send is the engine's Sender: it wraps the NPDU in BVLC and writes it.
// The broadcast peer goes out as Original-Broadcast, or through the BBMD
// when registered as a foreign device.
func (c *Client) send(peer PeerAddress, npdu []byte) error {
	function := BVLCOriginalUnicastNPDU
	target := string(peer)
	if peer == c.broadcastPeer() {
		function = BVLCOriginalBroadcastNPDU
		if c.opts.bbmdAddress != "" {
			function = BVLCDistributeBroadcastToNetwork
			target = c.opts.bbmdAddress
		}
	}

	addr, err := netip.ParseAddrPort(target)
	if err != nil {
		return fmt.Errorf("peer address %q: %w", target, err)
	}
	frame, err := EncodeBVLC(function, npdu)
	if err != nil {
		return err
	}
	return c.transport.Send(context.Background(), addr, frame)
}

func (c *Client) broadcastPeer() PeerAddress {
	return PeerAddress(net.JoinHostPort(c.opts.broadcastAddress, strconv.Itoa(c.opts.port)))
}

func (c *Client) registerForeignDevice(ctx context.Context) error {
	addr, err := netip.ParseAddrPort(c.opts.bbmdAddress)
	if err != nil {
		return fmt.Errorf("BBMD address: %w", err)
	}
	ttl := uint16(c.opts.foreignDeviceTTL / time.Second)
	if err := c.transport.Send(ctx, addr, EncodeRegisterForeignDevice(ttl)); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	c.logger.Info("registered as foreign device",
		slog.String("bbmd", addr.String()),
		slog.Duration("ttl", c.opts.foreignDeviceTTL),
	)
	return nil
}

// handleIAm records the announcing device. It runs under c.mu.
func (c *Client) handleIAm(req UnconfirmedRequest) {
	iam, err := DecodeIAm(req.Data)
	if err != nil {
		c.logger.Debug("invalid I-Am", slog.String("peer", string(req.Peer)), slog.String("error", err.Error()))
		return
	}

	dev := &DeviceInfo{
		ObjectID:      iam.Device,
		Address:       string(req.Peer),
		MaxAPDULength: int(iam.MaxAPDULength),
		Segmentation:  iam.Segmentation,
		VendorID:      iam.VendorID,
	}
	if req.Source != nil {
		src := *req.Source
		dev.Network = &src
	}

	c.devicesMu.Lock()
	c.devices[iam.Device.Instance] = dev
	c.devicesMu.Unlock()

	c.logger.Debug("device discovered",
		slog.Uint64("device_id", uint64(iam.Device.Instance)),
		slog.String("address", dev.Address),
		slog.Uint64("vendor_id", uint64(iam.VendorID)),
	)
}

// AddDevice registers a device reachable at addr ("ip:port" or "ip")
// without discovery.
func (c *Client) AddDevice(deviceID uint32, addr string) error {
	if !hasPort(addr) {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	if _, err := netip.ParseAddrPort(addr); err != nil {
		return fmt.Errorf("device address: %w", err)
	}

	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	c.devices[deviceID] = &DeviceInfo{
		ObjectID:      NewObjectIdentifier(ObjectTypeDevice, deviceID),
		Address:       addr,
		MaxAPDULength: MaxAPDULength,
		Segmentation:  SegmentationNone,
	}
	return nil
}

// GetDevice returns information about a known device
func (c *Client) GetDevice(deviceID uint32) (*DeviceInfo, bool) {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()
	dev, ok := c.devices[deviceID]
	return dev, ok
}

// WhoIs broadcasts a Who-Is and collects I-Am answers until the discovery
// timeout or ctx ends. Devices are returned ordered by instance.
func (c *Client) WhoIs(ctx context.Context, opts ...DiscoverOption) ([]*DeviceInfo, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	options := defaultDiscoverOptions()
	for _, opt := range opts {
		opt(options)
	}

	whoIs := WhoIs{Low: options.LowLimit, High: options.HighLimit}
	data, err := whoIs.Encode()
	if err != nil {
		return nil, err
	}
	var dest *NetworkAddress
	if options.Network != nil {
		dest = &NetworkAddress{Net: *options.Network}
	}

	c.mu.Lock()
	err = c.engine.SendUnconfirmed(c.broadcastPeer(), dest, ServiceWhoIs, data)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send Who-Is: %w", err)
	}

	timer := time.NewTimer(options.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-c.closed:
		return nil, ErrConnectionClosed
	}

	c.devicesMu.RLock()
	devices := make([]*DeviceInfo, 0, len(c.devices))
	for id, dev := range c.devices {
		if whoIs.Matches(id) {
			devices = append(devices, dev)
		}
	}
	c.devicesMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ObjectID.Instance < devices[j].ObjectID.Instance
	})
	return devices, nil
}

// Announce broadcasts an I-Am for the local device.
func (c *Client) Announce() error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.SendIAm(c.broadcastPeer(), nil)
}

// resolveDevice returns a known device, discovering it when needed.
func (c *Client) resolveDevice(ctx context.Context, deviceID uint32) (*DeviceInfo, error) {
	if dev, ok := c.GetDevice(deviceID); ok {
		return dev, nil
	}
	if _, err := c.WhoIs(ctx, WithDeviceRange(deviceID, deviceID), WithDiscoveryTimeout(2*time.Second)); err != nil {
		return nil, err
	}
	if dev, ok := c.GetDevice(deviceID); ok {
		return dev, nil
	}
	return nil, fmt.Errorf("%w: device %d", ErrDeviceNotFound, deviceID)
}

// request submits a confirmed request and blocks until the engine reports
// its outcome or ctx ends, in which case the transaction is cancelled.
func (c *Client) request(ctx context.Context, dev *DeviceInfo, service ConfirmedServiceChoice, data []byte) ([]byte, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	done := make(chan Response, 1)
	peer := PeerAddress(dev.Address)

	c.mu.Lock()
	id, err := c.engine.Submit(Request{
		Peer:        peer,
		Destination: dev.Network,
		Service:     service,
		Data:        data,
		MaxAPDU:     dev.MaxAPDULength,
	}, func(r Response) { done <- r })
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.Data, r.Err
	case <-c.closed:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		c.mu.Lock()
		_ = c.engine.Cancel(peer, id)
		c.mu.Unlock()
		select {
		case r := <-done:
			return r.Data, r.Err
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrTransactionCancelled, ctx.Err())
	}
}

// ReadProperty reads a property from a BACnet object
func (c *Client) ReadProperty(ctx context.Context, deviceID uint32, objectID ObjectIdentifier, propertyID PropertyIdentifier, opts ...ReadOption) ([]Value, error) {
	options := &ReadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	dev, err := c.resolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	data, err := ReadPropertyRequest{
		Object:     objectID,
		Property:   propertyID,
		ArrayIndex: options.ArrayIndex,
	}.Encode()
	if err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, dev, ServiceReadProperty, data)
	if err != nil {
		return nil, err
	}

	ack, err := DecodeReadPropertyAck(resp)
	if err != nil {
		return nil, fmt.Errorf("decode ReadProperty ack: %w", err)
	}
	return ack.Values, nil
}

// WriteProperty writes a property of a BACnet object
func (c *Client) WriteProperty(ctx context.Context, deviceID uint32, objectID ObjectIdentifier, propertyID PropertyIdentifier, value Value, opts ...WriteOption) error {
	options := &WriteOptions{}
	for _, opt := range opts {
		opt(options)
	}

	dev, err := c.resolveDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	data, err := WritePropertyRequest{
		Object:     objectID,
		Property:   propertyID,
		ArrayIndex: options.ArrayIndex,
		Values:     []Value{value},
		Priority:   options.Priority,
	}.Encode()
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	_, err = c.request(ctx, dev, ServiceWriteProperty, data)
	return err
}

// GetObjectList reads the object-list of a device, falling back to reading
// it element by element when the whole list does not fit in one reply.
func (c *Client) GetObjectList(ctx context.Context, deviceID uint32) ([]ObjectIdentifier, error) {
	device := NewObjectIdentifier(ObjectTypeDevice, deviceID)

	values, err := c.ReadProperty(ctx, deviceID, device, PropertyObjectList)
	if err != nil {
		var abortErr *AbortError
		if !errors.As(err, &abortErr) || abortErr.Reason != AbortReasonSegmentationNotSupported {
			return nil, err
		}
		if values, err = c.readObjectListElements(ctx, deviceID, device); err != nil {
			return nil, err
		}
	}

	list := make([]ObjectIdentifier, 0, len(values))
	for _, v := range values {
		if oid, ok := v.(ObjectIdentifier); ok {
			list = append(list, oid)
		}
	}
	return list, nil
}

func (c *Client) readObjectListElements(ctx context.Context, deviceID uint32, device ObjectIdentifier) ([]Value, error) {
	count, err := c.ReadProperty(ctx, deviceID, device, PropertyObjectList, WithArrayIndex(0))
	if err != nil {
		return nil, err
	}
	if len(count) != 1 {
		return nil, fmt.Errorf("%w: object-list length", ErrTypeMismatch)
	}
	n, ok := count[0].(Unsigned)
	if !ok {
		return nil, fmt.Errorf("%w: object-list length is %s", ErrTypeMismatch, count[0].AppTag())
	}

	values := make([]Value, 0, min(uint64(n), 1024))
	for i := uint32(1); uint64(i) <= uint64(n); i++ {
		v, err := c.ReadProperty(ctx, deviceID, device, PropertyObjectList, WithArrayIndex(i))
		if err != nil {
			return nil, err
		}
		values = append(values, v...)
	}
	return values, nil
}
