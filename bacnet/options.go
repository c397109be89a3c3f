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
	"log/slog"
	"time"
)

// options holds configuration shared by the Engine and the Client
type options struct {
	// Transaction timers
	apduTimeout    time.Duration
	segmentTimeout time.Duration
	retries        int
	gracePeriod    time.Duration

	// APDU configuration
	maxAPDULength      int
	segmentation       Segmentation
	proposedWindowSize uint8
	maxSegments        int

	// Local device, answered on Who-Is and ReadProperty
	deviceInstance uint32
	hasDevice      bool
	vendorID       uint16
	store          PropertyStore

	// BACnet/IP
	localAddress     string
	port             int
	broadcastAddress string

	// Foreign device registration
	bbmdAddress      string
	foreignDeviceTTL time.Duration

	logger *slog.Logger
}

// defaultOptions returns the standard defaults
func defaultOptions() *options {
	return &options{
		apduTimeout:        3 * time.Second,
		segmentTimeout:     2 * time.Second,
		retries:            3,
		maxAPDULength:      MaxAPDULength,
		segmentation:       SegmentationNone,
		proposedWindowSize: 1,
		port:               DefaultPort,
		broadcastAddress:   "255.255.255.255",
		foreignDeviceTTL:   60 * time.Second,
		logger:             slog.Default(),
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.apduTimeout <= 0 {
		o.apduTimeout = defaultOptions().apduTimeout
	}
	if o.segmentTimeout <= 0 {
		o.segmentTimeout = defaultOptions().segmentTimeout
	}
	if o.maxSegments > 0 {
		// Only the advertised class is enforced.
		o.maxSegments = MaxSegmentsForCount(o.maxSegments).Count()
	}
	if o.gracePeriod <= 0 {
		o.gracePeriod = o.apduTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Option is a functional option for configuring the Engine and Client
type Option func(*options)

// WithTimeout sets the APDU timeout, the time to wait for a reply before retransmitting
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.apduTimeout = d
	}
}

// WithSegmentTimeout sets the time to wait for a Segment-ACK
func WithSegmentTimeout(d time.Duration) Option {
	return func(o *options) {
		o.segmentTimeout = d
	}
}

// WithRetries sets the number of retransmissions before a request times out
func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithDuplicateGrace sets how long a finished transaction's invoke id stays
// reserved to absorb late duplicates. Defaults to the APDU timeout.
func WithDuplicateGrace(d time.Duration) Option {
	return func(o *options) {
		o.gracePeriod = d
	}
}

// WithMaxAPDULength sets the maximum APDU length accepted
func WithMaxAPDULength(length int) Option {
	return func(o *options) {
		o.maxAPDULength = MaxAPDUForLength(length).Length()
	}
}

// WithSegmentation sets the segmentation capability
func WithSegmentation(seg Segmentation) Option {
	return func(o *options) {
		o.segmentation = seg
	}
}

// WithProposedWindowSize sets the window size for segmented transfers (1-127)
func WithProposedWindowSize(size uint8) Option {
	return func(o *options) {
		if size >= 1 && size <= maxWindowSize {
			o.proposedWindowSize = size
		}
	}
}

// WithMaxSegments sets how many segments of a message are accepted, 0 for
// no limit. The count is rounded down to a power of two between 2 and 64.
func WithMaxSegments(n int) Option {
	return func(o *options) {
		o.maxSegments = n
	}
}

// WithDevice makes the engine answer Who-Is for the given device instance
func WithDevice(instance uint32, vendorID uint16) Option {
	return func(o *options) {
		o.deviceInstance = instance
		o.vendorID = vendorID
		o.hasDevice = true
	}
}

// WithPropertyStore serves ReadProperty and WriteProperty from store
func WithPropertyStore(store PropertyStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLocalAddress sets the local address to bind to
func WithLocalAddress(addr string) Option {
	return func(o *options) {
		o.localAddress = addr
	}
}

// WithPort sets the UDP port, 47808 by default
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithBroadcastAddress sets the address used for local broadcasts
func WithBroadcastAddress(addr string) Option {
	return func(o *options) {
		o.broadcastAddress = addr
	}
}

// WithBBMD registers the client as a foreign device with the BBMD at addr
// ("ip:port") and routes broadcasts through it. The registration is renewed
// at half the time-to-live.
func WithBBMD(addr string, ttl time.Duration) Option {
	return func(o *options) {
		o.bbmdAddress = addr
		o.foreignDeviceTTL = ttl
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// DiscoverOptions holds configuration for device discovery
type DiscoverOptions struct {
	// Range limits for WhoIs
	LowLimit  *uint32
	HighLimit *uint32

	// Timeout for discovery
	Timeout time.Duration

	// Network to search, nil for the local network
	Network *uint16
}

// DiscoverOption is a functional option for discovery
type DiscoverOption func(*DiscoverOptions)

func defaultDiscoverOptions() *DiscoverOptions {
	return &DiscoverOptions{
		Timeout: 3 * time.Second,
	}
}

// WithDeviceRange sets the device instance range for discovery
func WithDeviceRange(low, high uint32) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.LowLimit = &low
		o.HighLimit = &high
	}
}

// WithDiscoveryTimeout sets how long to collect I-Am answers
func WithDiscoveryTimeout(d time.Duration) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Timeout = d
	}
}

// WithTargetNetwork directs the Who-Is to a remote network, 0xFFFF for all
func WithTargetNetwork(net uint16) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Network = &net
	}
}

// ReadOptions holds configuration for read operations
type ReadOptions struct {
	ArrayIndex *uint32
}

// ReadOption is a functional option for read operations
type ReadOption func(*ReadOptions)

// WithArrayIndex sets the array index for reading array properties
func WithArrayIndex(index uint32) ReadOption {
	return func(o *ReadOptions) {
		o.ArrayIndex = &index
	}
}

// WriteOptions holds configuration for write operations
type WriteOptions struct {
	ArrayIndex *uint32
	Priority   *uint8
}

// WriteOption is a functional option for write operations
type WriteOption func(*WriteOptions)

// WithWriteArrayIndex sets the array index for writing array properties
func WithWriteArrayIndex(index uint32) WriteOption {
	return func(o *WriteOptions) {
		o.ArrayIndex = &index
	}
}

// WithPriority sets the priority for writing (1-16, where 1 is highest)
func WithPriority(priority uint8) WriteOption {
	return func(o *WriteOptions) {
		if priority >= 1 && priority <= 16 {
			o.Priority = &priority
		}
	}
}
