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
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/bacstack/bacnet"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-bacnet",
	Short: "BACnet/IP client, server and telegram decoder",
	Long: `edgeo-bacnet talks to BACnet/IP devices and decodes BACnet telegrams.

Examples:
  # Discover devices on the network
  edgeo-bacnet scan

  # Read a property from a device
  edgeo-bacnet read -d 1234 -O analog-input:1 -P present-value

  # Write a value to a device
  edgeo-bacnet write -d 1234 -O analog-output:1 -P present-value --value 75.5 --type real

  # Decode a captured datagram
  edgeo-bacnet decode 810b000c0120ffff00ff1008

  # Serve the object table from the config file
  edgeo-bacnet serve --instance 4001`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelInfo
		if viper.GetBool("verbose") {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-bacnet.yaml)")
	flags.StringP("host", "H", "", "Target device address, skips discovery (ip or ip:port)")
	flags.IntP("port", "p", bacnet.DefaultPort, "BACnet/IP port")
	flags.Uint32P("device", "d", 0, "Target device instance")
	flags.DurationP("timeout", "t", 3*time.Second, "APDU timeout")
	flags.Int("retries", 3, "Number of retransmissions")
	flags.StringP("output", "o", "table", "Output format (table, json, csv, raw)")
	flags.BoolP("verbose", "v", false, "Enable verbose output")
	flags.String("local", "", "Local address to bind to (e.g., 0.0.0.0:47808)")
	flags.String("broadcast", "255.255.255.255", "Broadcast address for Who-Is")
	flags.String("bbmd", "", "BBMD address (ip:port) for foreign device registration")
	flags.Duration("bbmd-ttl", 60*time.Second, "BBMD registration TTL")
	flags.String("segmentation", "both", "Segmentation support (both, transmit, receive, none)")
	flags.Uint8("window", 4, "Proposed window size for segmented transfers")

	for _, name := range []string{
		"host", "port", "device", "timeout", "retries", "output", "verbose",
		"local", "broadcast", "bbmd", "bbmd-ttl", "segmentation", "window",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-bacnet")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BACNET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func parseSegmentation(s string) (bacnet.Segmentation, error) {
	switch s {
	case "both":
		return bacnet.SegmentationBoth, nil
	case "transmit":
		return bacnet.SegmentationTransmit, nil
	case "receive":
		return bacnet.SegmentationReceive, nil
	case "none":
		return bacnet.SegmentationNone, nil
	}
	return 0, fmt.Errorf("unknown segmentation %q", s)
}

// clientOptions builds the library options from flags, environment and
// config file.
func clientOptions() ([]bacnet.Option, error) {
	seg, err := parseSegmentation(viper.GetString("segmentation"))
	if err != nil {
		return nil, err
	}

	opts := []bacnet.Option{
		bacnet.WithTimeout(viper.GetDuration("timeout")),
		bacnet.WithRetries(viper.GetInt("retries")),
		bacnet.WithPort(viper.GetInt("port")),
		bacnet.WithBroadcastAddress(viper.GetString("broadcast")),
		bacnet.WithSegmentation(seg),
		bacnet.WithProposedWindowSize(uint8(viper.GetUint("window"))),
		bacnet.WithLogger(logger),
	}
	if local := viper.GetString("local"); local != "" {
		opts = append(opts, bacnet.WithLocalAddress(local))
	}
	if bbmd := viper.GetString("bbmd"); bbmd != "" {
		opts = append(opts, bacnet.WithBBMD(bbmd, viper.GetDuration("bbmd-ttl")))
	}
	return opts, nil
}

// createClient creates a client and, when --host is given, registers the
// target device at that address so no discovery is needed.
func createClient() (*bacnet.Client, error) {
	opts, err := clientOptions()
	if err != nil {
		return nil, err
	}
	client, err := bacnet.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	if host := viper.GetString("host"); host != "" {
		if err := client.AddDevice(targetDevice(), host); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func targetDevice() uint32 {
	return viper.GetUint32("device")
}

func requireDevice() (uint32, error) {
	id := targetDevice()
	if id == 0 && viper.GetString("host") == "" {
		return 0, fmt.Errorf("device instance is required (-d or --device)")
	}
	return id, nil
}

func outputFormat() string {
	return viper.GetString("output")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgeo-bacnet version %s\n", version)
	},
}
