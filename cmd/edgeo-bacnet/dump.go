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
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/bacstack/bacnet"
)

var (
	dumpFile       string
	dumpProperties []string
	dumpObjects    []string
	dumpAll        bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump all objects and properties from a device",
	Long: `Dump reads all objects and their properties from a BACnet device.

The object list is read in one piece when both sides support segmentation,
and element by element otherwise.

Examples:
  # Dump all objects to stdout
  edgeo-bacnet dump -d 1234

  # Dump to a JSON file
  edgeo-bacnet dump -d 1234 -f device_backup.json -o json

  # Dump specific object types
  edgeo-bacnet dump -d 1234 --objects analog-input,analog-output

  # Dump specific properties
  edgeo-bacnet dump -d 1234 --props present-value,object-name,description`,

	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFile, "file", "f", "", "Output file (default: stdout)")
	dumpCmd.Flags().StringSliceVar(&dumpProperties, "props", []string{"present-value", "object-name", "description", "units", "status-flags"}, "Properties to read")
	dumpCmd.Flags().StringSliceVar(&dumpObjects, "objects", nil, "Object types to include (default: all)")
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "Dump all common properties (may be slow)")
}

type DumpObject struct {
	ObjectID   string                 `json:"object_id"`
	ObjectType string                 `json:"object_type"`
	Instance   uint32                 `json:"instance"`
	Properties map[string]interface{} `json:"properties"`
}

type DumpResult struct {
	DeviceID  uint32       `json:"device_id"`
	Timestamp time.Time    `json:"timestamp"`
	Objects   []DumpObject `json:"objects"`
}

var commonProperties = []bacnet.PropertyIdentifier{
	bacnet.PropertyObjectName,
	bacnet.PropertyPresentValue,
	bacnet.PropertyDescription,
	bacnet.PropertyStatusFlags,
	bacnet.PropertyEventState,
	bacnet.PropertyReliability,
	bacnet.PropertyOutOfService,
	bacnet.PropertyUnits,
	bacnet.PropertyPriorityArray,
	bacnet.PropertyRelinquishDefault,
	bacnet.PropertyCOVIncrement,
	bacnet.PropertyHighLimit,
	bacnet.PropertyLowLimit,
}

func runDump(cmd *cobra.Command, args []string) error {
	deviceID, err := requireDevice()
	if err != nil {
		return err
	}

	props := commonProperties
	if !dumpAll {
		props = make([]bacnet.PropertyIdentifier, 0, len(dumpProperties))
		for _, name := range dumpProperties {
			prop, err := parsePropertyIdentifier(name)
			if err != nil {
				return err
			}
			props = append(props, prop)
		}
	}

	types := make(map[bacnet.ObjectType]bool, len(dumpObjects))
	for _, name := range dumpObjects {
		objType, ok := bacnet.ParseObjectType(name)
		if !ok {
			return fmt.Errorf("unknown object type: %s", name)
		}
		types[objType] = true
	}

	client, err := createClient()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	fmt.Fprintln(os.Stderr, "Retrieving object list...")

	objects, err := client.GetObjectList(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("get object list: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Found %d objects\n", len(objects))

	if len(types) > 0 {
		filtered := objects[:0]
		for _, obj := range objects {
			if types[obj.Type] {
				filtered = append(filtered, obj)
			}
		}
		objects = filtered
		fmt.Fprintf(os.Stderr, "Filtered to %d objects\n", len(objects))
	}

	result := DumpResult{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Objects:   make([]DumpObject, 0, len(objects)),
	}

	for i, obj := range objects {
		fmt.Fprintf(os.Stderr, "\rReading object %d/%d: %s", i+1, len(objects), obj.String())

		dumpObj := DumpObject{
			ObjectID:   obj.String(),
			ObjectType: obj.Type.String(),
			Instance:   obj.Instance,
			Properties: make(map[string]interface{}),
		}

		for _, prop := range props {
			readCtx, readCancel := context.WithTimeout(ctx, requestBudget())
			values, err := client.ReadProperty(readCtx, deviceID, obj, prop)
			readCancel()

			if err != nil {
				logger.Debug("skipping property", "object", obj, "property", prop, "error", err)
				continue
			}

			dumpObj.Properties[prop.String()] = values
		}

		result.Objects = append(result.Objects, dumpObj)
	}

	fmt.Fprintln(os.Stderr, "\nDump complete")

	f := NewFormatter(outputFormat())
	if dumpFile != "" {
		out, err := os.Create(dumpFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
		f.SetWriter(out)
	}

	return outputDump(f, result, props)
}

func outputDump(f *Formatter, result DumpResult, props []bacnet.PropertyIdentifier) error {
	switch OutputFormat(outputFormat()) {
	case FormatJSON:
		for _, obj := range result.Objects {
			for name, v := range obj.Properties {
				obj.Properties[name] = jsonValues(v.([]bacnet.Value))
			}
		}
		return f.PrintJSON(result)

	case FormatCSV:
		headers := []string{"object_id", "object_type", "instance"}
		for _, prop := range props {
			headers = append(headers, prop.String())
		}
		rows := make([][]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			row := []string{obj.ObjectID, obj.ObjectType, strconv.FormatUint(uint64(obj.Instance), 10)}
			for _, prop := range props {
				cell := ""
				if v, ok := obj.Properties[prop.String()]; ok {
					cell = formatValues(v.([]bacnet.Value))
				}
				row = append(row, cell)
			}
			rows = append(rows, row)
		}
		return f.PrintCSV(headers, rows)

	default:
		f.Printf("Device %d - %d objects\n", result.DeviceID, len(result.Objects))
		f.Printf("Timestamp: %s\n\n", result.Timestamp.Format(time.RFC3339))

		for _, obj := range result.Objects {
			f.Printf("=== %s ===\n", obj.ObjectID)
			names := make([]string, 0, len(obj.Properties))
			for name := range obj.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				f.Printf("  %-25s: %s\n", name, formatValues(obj.Properties[name].([]bacnet.Value)))
			}
			f.Println()
		}
		return nil
	}
}
