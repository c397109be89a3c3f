package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacstack/bacnet"
)

var (
	watchObject   string
	watchProperty string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a property for changes",
	Long: `Watch polls a BACnet property and prints every change.

Examples:
  # Poll present value every second
  edgeo-bacnet watch -d 1234 -O analog-input:1 -P present-value --interval 1s

  # Print every sample, changed or not
  edgeo-bacnet watch -d 1234 -O analog-input:1 -v`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchObject, "object", "O", "", "Object type and instance (e.g., analog-input:1)")
	watchCmd.Flags().StringVarP(&watchProperty, "property", "P", "present-value", "Property identifier")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Polling interval")

	watchCmd.MarkFlagRequired("object")
}

type watchSample struct {
	Time     string      `json:"time"`
	Object   string      `json:"object"`
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
	Changed  bool        `json:"changed"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	deviceID, err := requireDevice()
	if err != nil {
		return err
	}

	objectID, err := parseObjectIdentifier(watchObject)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}

	propID, err := parsePropertyIdentifier(watchProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}

	client, err := createClient()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	fmt.Fprintf(os.Stderr, "Watching %s.%s on device %d\n", objectID.String(), propID.String(), deviceID)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	f := NewFormatter(outputFormat())
	var last string
	first := true
	for {
		readCtx, readCancel := context.WithTimeout(ctx, requestBudget())
		values, err := client.ReadProperty(readCtx, deviceID, objectID, propID)
		readCancel()

		switch {
		case ctx.Err() != nil:
			fmt.Fprintln(os.Stderr, "\nStopping watch...")
			return nil
		case err != nil:
			logger.Warn("read failed", "error", err)
		default:
			text := formatValues(values)
			changed := first || text != last
			if changed || viper.GetBool("verbose") {
				printSample(f, time.Now(), objectID, propID, values, changed)
			}
			last, first = text, false
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nStopping watch...")
			return nil
		case <-ticker.C:
		}
	}
}

func printSample(f *Formatter, t time.Time, objectID bacnet.ObjectIdentifier, propID bacnet.PropertyIdentifier, values []bacnet.Value, changed bool) {
	switch OutputFormat(outputFormat()) {
	case FormatJSON:
		f.PrintJSON(watchSample{
			Time:     t.Format(time.RFC3339Nano),
			Object:   objectID.String(),
			Property: propID.String(),
			Value:    jsonValues(values),
			Changed:  changed,
		})
	case FormatCSV:
		f.Printf("%s,%s,%s,%s,%v\n", t.Format(time.RFC3339Nano), objectID, propID, formatValues(values), changed)
	default:
		marker := " "
		if changed {
			marker = "*"
		}
		f.Printf("[%s] %s %s.%s = %s\n", t.Format("15:04:05.000"), marker, objectID, propID, formatValues(values))
	}
}
