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

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacstack/bacnet"
)

var (
	scanTimeout   time.Duration
	scanLowLimit  uint32
	scanHighLimit uint32
	scanNetwork   uint16
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BACnet devices on the network",
	Long: `Scan discovers BACnet devices by sending Who-Is broadcast requests.

Examples:
  # Discover all devices
  edgeo-bacnet scan

  # Discover devices with instance IDs 1-100
  edgeo-bacnet scan --low 1 --high 100

  # Discover with extended timeout
  edgeo-bacnet scan --scan-timeout 10s`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 5*time.Second, "Discovery timeout")
	scanCmd.Flags().Uint32Var(&scanLowLimit, "low", 0, "Low limit for device instance range (0 = no limit)")
	scanCmd.Flags().Uint32Var(&scanHighLimit, "high", 0, "High limit for device instance range (0 = no limit)")
	scanCmd.Flags().Uint16Var(&scanNetwork, "network", 0, "Target network number (0 = local, 65535 = all)")
}

func runScan(cmd *cobra.Command, args []string) error {
	client, err := createClient()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout")+scanTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "Scanning for BACnet devices...")

	// Build discovery options
	discoverOpts := []bacnet.DiscoverOption{
		bacnet.WithDiscoveryTimeout(scanTimeout),
	}

	if scanLowLimit > 0 || scanHighLimit > 0 {
		low := scanLowLimit
		high := scanHighLimit
		if high == 0 {
			high = 0x3FFFFF // Max device instance
		}
		discoverOpts = append(discoverOpts, bacnet.WithDeviceRange(low, high))
	}

	if scanNetwork > 0 {
		discoverOpts = append(discoverOpts, bacnet.WithTargetNetwork(scanNetwork))
	}

	devices, err := client.WhoIs(ctx, discoverOpts...)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "No devices found")
		return nil
	}

	headers := []string{"DEVICE ID", "ADDRESS", "NETWORK", "VENDOR", "SEGMENTATION", "MAX APDU"}
	rows := make([][]string, 0, len(devices))
	records := make([]scanRecord, 0, len(devices))
	for _, dev := range devices {
		network := "local"
		if dev.Network != nil {
			network = dev.Network.String()
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(dev.ObjectID.Instance), 10),
			dev.Address,
			network,
			strconv.FormatUint(uint64(dev.VendorID), 10),
			dev.Segmentation.String(),
			strconv.Itoa(dev.MaxAPDULength),
		})
		records = append(records, scanRecord{
			DeviceID:     dev.ObjectID.Instance,
			Address:      dev.Address,
			Network:      network,
			VendorID:     dev.VendorID,
			Segmentation: dev.Segmentation.String(),
			MaxAPDU:      dev.MaxAPDULength,
		})
	}

	if err := NewFormatter(outputFormat()).Print(headers, rows, records); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nFound %d device(s)\n", len(devices))
	return nil
}

type scanRecord struct {
	DeviceID     uint32 `json:"device_id"`
	Address      string `json:"address"`
	Network      string `json:"network"`
	VendorID     uint16 `json:"vendor_id"`
	Segmentation string `json:"segmentation"`
	MaxAPDU      int    `json:"max_apdu"`
}
