package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacstack/bacnet"
)

var (
	serveInstance uint32
	serveVendorID uint16
	serveName     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a BACnet device serving an object table",
	Long: `Serve answers Who-Is, ReadProperty and WriteProperty for a local
device whose objects are listed under "objects" in the config file:

  objects:
    - object: analog-value:1
      name: Setpoint
      properties:
        present-value: 21.5
        units: {type: enum, value: 62}
    - object: binary-value:1
      name: Enable
      properties:
        present-value: {type: enum, value: 0}

Untyped numbers become real or unsigned values, text becomes a character
string. Use {type, value} for anything else (see "write --help" for types).

Examples:
  edgeo-bacnet serve --instance 4001 --config device.yaml`,

	RunE: runServe,
}

func init() {
	serveCmd.Flags().Uint32Var(&serveInstance, "instance", 4001, "Device instance")
	serveCmd.Flags().Uint16Var(&serveVendorID, "vendor", 0, "Vendor identifier")
	serveCmd.Flags().StringVar(&serveName, "name", "edgeo-bacnet", "Device object name")
}

// objectConfig is one entry of the "objects" config key.
type objectConfig struct {
	Object     string                 `mapstructure:"object"`
	Name       string                 `mapstructure:"name"`
	Properties map[string]interface{} `mapstructure:"properties"`
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveInstance >= bacnet.MaxInstance {
		return fmt.Errorf("device instance must be below %d", bacnet.MaxInstance)
	}

	var objects []objectConfig
	if err := viper.UnmarshalKey("objects", &objects); err != nil {
		return fmt.Errorf("objects config: %w", err)
	}

	store, err := buildStore(serveInstance, serveVendorID, serveName, objects)
	if err != nil {
		return err
	}

	opts, err := clientOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		bacnet.WithDevice(serveInstance, serveVendorID),
		bacnet.WithPropertyStore(store),
	)

	client, err := bacnet.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	if err := client.Announce(); err != nil {
		logger.Warn("announce failed", "error", err)
	}

	logger.Info("serving device",
		"instance", serveInstance,
		"objects", len(store.Objects()),
	)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	<-ctx.Done()

	m := client.Metrics().Snapshot()
	logger.Info("stopped",
		"requests_received", m.RequestsReceived,
		"duplicates_absorbed", m.DuplicatesAbsorbed,
	)
	return nil
}

// buildStore creates the device object and the configured objects.
func buildStore(instance uint32, vendorID uint16, name string, objects []objectConfig) (*bacnet.MemoryStore, error) {
	store := bacnet.NewMemoryStore()

	device := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, instance)
	store.AddObject(device, name)
	store.Set(device, bacnet.PropertyVendorIdentifier, bacnet.Unsigned(vendorID))
	store.Set(device, bacnet.PropertyVendorName, bacnet.NewCharacterString("Edgeo SCADA"))
	store.Set(device, bacnet.PropertyModelName, bacnet.NewCharacterString("edgeo-bacnet"))
	store.Set(device, bacnet.PropertyFirmwareRevision, bacnet.NewCharacterString(version))
	store.Set(device, bacnet.PropertyApplicationSoftwareVersion, bacnet.NewCharacterString(version))
	store.Set(device, bacnet.PropertyProtocolVersion, bacnet.Unsigned(1))
	store.Set(device, bacnet.PropertyProtocolRevision, bacnet.Unsigned(14))
	store.Set(device, bacnet.PropertySystemStatus, bacnet.Enumerated(0))
	store.Set(device, bacnet.PropertyMaxApduLengthAccepted, bacnet.Unsigned(bacnet.MaxAPDULength))
	seg, err := parseSegmentation(viper.GetString("segmentation"))
	if err != nil {
		return nil, err
	}
	store.Set(device, bacnet.PropertySegmentationSupported, bacnet.Enumerated(seg))
	store.Set(device, bacnet.PropertyApduTimeout, bacnet.Unsigned(viper.GetDuration("timeout").Milliseconds()))
	store.Set(device, bacnet.PropertyNumberOfApduRetries, bacnet.Unsigned(viper.GetInt("retries")))
	store.Set(device, bacnet.PropertyDatabaseRevision, bacnet.Unsigned(1))

	for _, obj := range objects {
		oid, err := parseObjectIdentifier(obj.Object)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", obj.Object, err)
		}
		if oid.Type == bacnet.ObjectTypeDevice {
			return nil, fmt.Errorf("object %q: the device object is built in", obj.Object)
		}
		objName := obj.Name
		if objName == "" {
			objName = oid.String()
		}
		store.AddObject(oid, objName)

		// Sorted for deterministic error reporting.
		names := make([]string, 0, len(obj.Properties))
		for n := range obj.Properties {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			pid, err := parsePropertyIdentifier(n)
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", oid, err)
			}
			values, err := configValues(obj.Properties[n])
			if err != nil {
				return nil, fmt.Errorf("object %s property %s: %w", oid, pid, err)
			}
			store.Set(oid, pid, values...)
		}
	}
	return store, nil
}

// configValues converts a config entry into property values. Lists become
// array properties.
func configValues(raw interface{}) ([]bacnet.Value, error) {
	if list, ok := raw.([]interface{}); ok {
		values := make([]bacnet.Value, 0, len(list))
		for _, item := range list {
			v, err := configValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	}
	v, err := configValue(raw)
	if err != nil {
		return nil, err
	}
	return []bacnet.Value{v}, nil
}

func configValue(raw interface{}) (bacnet.Value, error) {
	switch v := raw.(type) {
	case nil:
		return bacnet.Null{}, nil
	case bool:
		return bacnet.Boolean(v), nil
	case int:
		if v < 0 {
			return bacnet.Signed(v), nil
		}
		return bacnet.Unsigned(v), nil
	case int64:
		if v < 0 {
			return bacnet.Signed(v), nil
		}
		return bacnet.Unsigned(v), nil
	case uint64:
		return bacnet.Unsigned(v), nil
	case float64:
		return bacnet.Real(v), nil
	case string:
		return bacnet.NewCharacterString(v), nil
	case map[string]interface{}:
		kind, _ := v["type"].(string)
		if kind == "" {
			return nil, fmt.Errorf("typed value needs a type")
		}
		return parseTypedValue(kind, fmt.Sprint(v["value"]))
	}
	return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
}
