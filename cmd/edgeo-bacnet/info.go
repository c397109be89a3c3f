package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/bacstack/bacnet"
)

const wildcardInstance = 4194303

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display device information",
	Long: `Info retrieves and displays detailed information about a BACnet device.

Examples:
  # Get device info
  edgeo-bacnet info -d 1234

  # Get info in JSON format
  edgeo-bacnet info -d 1234 -o json`,

	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	deviceID, err := requireDevice()
	if err != nil {
		return err
	}

	client, err := createClient()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestBudget()*4)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	// Read device properties
	instance := deviceID
	if instance == 0 {
		// Only the host is known; address the device object by wildcard.
		instance = wildcardInstance
	}
	deviceOID := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, instance)

	info := make(map[string][]bacnet.Value)

	// Properties to read
	properties := []struct {
		name string
		prop bacnet.PropertyIdentifier
	}{
		{"Object Name", bacnet.PropertyObjectName},
		{"Vendor Name", bacnet.PropertyVendorName},
		{"Vendor ID", bacnet.PropertyVendorIdentifier},
		{"Model Name", bacnet.PropertyModelName},
		{"Firmware Revision", bacnet.PropertyFirmwareRevision},
		{"Application Software", bacnet.PropertyApplicationSoftwareVersion},
		{"Protocol Version", bacnet.PropertyProtocolVersion},
		{"Protocol Revision", bacnet.PropertyProtocolRevision},
		{"System Status", bacnet.PropertySystemStatus},
		{"Description", bacnet.PropertyDescription},
		{"Location", bacnet.PropertyLocation},
		{"Max APDU Length", bacnet.PropertyMaxApduLengthAccepted},
		{"Segmentation", bacnet.PropertySegmentationSupported},
		{"Database Revision", bacnet.PropertyDatabaseRevision},
	}

	for _, p := range properties {
		readCtx, readCancel := context.WithTimeout(ctx, requestBudget())
		val, err := client.ReadProperty(readCtx, deviceID, deviceOID, p.prop)
		readCancel()

		if err == nil {
			info[p.name] = val
		}
	}

	// Get object count
	readCtx, readCancel := context.WithTimeout(ctx, requestBudget())
	objCount, err := client.ReadProperty(readCtx, deviceID, deviceOID, bacnet.PropertyObjectList, bacnet.WithArrayIndex(0))
	readCancel()
	if err == nil {
		info["Object Count"] = objCount
	}

	order := []string{
		"Object Name",
		"Description",
		"Location",
		"Vendor Name",
		"Vendor ID",
		"Model Name",
		"Firmware Revision",
		"Application Software",
		"Protocol Version",
		"Protocol Revision",
		"System Status",
		"Max APDU Length",
		"Segmentation",
		"Object Count",
		"Database Revision",
	}

	f := NewFormatter(outputFormat())
	if outputFormat() == string(FormatJSON) {
		doc := map[string]interface{}{
			"device_id": deviceID,
			"timestamp": time.Now().Format(time.RFC3339),
		}
		for key, val := range info {
			doc[key] = jsonValues(val)
		}
		return f.PrintJSON(doc)
	}

	pairs := make(map[string]interface{}, len(info))
	for key, val := range info {
		pairs[key] = formatValues(val)
	}
	f.Printf("\n=== Device %d ===\n\n", deviceID)
	f.PrintKeyValue(pairs, order)
	f.Println()
	return nil
}
