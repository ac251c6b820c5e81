// Copyright 2025 ankohanse
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
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ankohanse/xcom-go/xcom"
)

var (
	cfgFile    string
	listenAddr string
	port       int
	dstAddr    uint32
	timeout    time.Duration
	retries    int
	voltage    string
	connectFor time.Duration
	outputFmt  string
	verbose    bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xcom-lan",
	Short: "A Studer Xcom-LAN client CLI",
	Long: `xcom-lan talks to Studer-Innotec devices (Xtender, VarioTrack,
VarioString, BSP) through an Xcom-LAN gateway.

The gateway dials out: this tool listens on a TCP port and waits for the
Moxa adapter, configured in TCP-client mode, to connect to it. Point the
adapter's destination at this machine before running a command.

Examples:
  # Wait for the gateway, then find devices on the bus
  xcom-lan scan

  # Read battery voltage from the first Xtender
  xcom-lan read --nr 3000 --dst 101

  # Limit the AC input current on all Xtenders at once
  xcom-lan write --nr 1107 --value 12.0 --dst 100

  # Browse the parameter dictionary without a gateway
  xcom-lan menu --family xt`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelInfo
		if verbose {
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

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.xcom-lan.yaml)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Local address to listen on (default all interfaces)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", xcom.DefaultPort, "TCP port the gateway dials into")
	rootCmd.PersistentFlags().Uint32VarP(&dstAddr, "dst", "d", 101, "Destination device address")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "Per-attempt response timeout")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 3, "Number of attempts per request")
	rootCmd.PersistentFlags().StringVar(&voltage, "voltage", "240", "Grid voltage variant of the dictionary (240 or 120)")
	rootCmd.PersistentFlags().DurationVarP(&connectFor, "wait", "w", 30*time.Second, "How long to wait for the gateway to connect")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, raw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("dst", rootCmd.PersistentFlags().Lookup("dst"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("retries", rootCmd.PersistentFlags().Lookup("retries"))
	viper.BindPFlag("voltage", rootCmd.PersistentFlags().Lookup("voltage"))
	viper.BindPFlag("wait", rootCmd.PersistentFlags().Lookup("wait"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(familiesCmd)
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
		viper.SetConfigName(".xcom-lan")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("XCOM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadDataset loads the dictionary for the configured grid voltage.
func loadDataset() (*xcom.Dataset, error) {
	switch voltage {
	case "120", "120 Vac":
		return xcom.DatasetForVoltage(xcom.Voltage120)
	case "240", "240 Vac":
		return xcom.DatasetForVoltage(xcom.Voltage240)
	default:
		return nil, fmt.Errorf("unknown voltage %q (use 240 or 120)", voltage)
	}
}

// createServer builds a server from the current configuration.
func createServer() (*xcom.Server, error) {
	ds, err := loadDataset()
	if err != nil {
		return nil, err
	}

	return xcom.NewServer(
		xcom.WithListenAddr(listenAddr),
		xcom.WithPort(port),
		xcom.WithTimeout(timeout),
		xcom.WithRetries(retries),
		xcom.WithDataset(ds),
		xcom.WithLogger(logger),
	)
}

// startAndAwaitGateway starts the server and blocks until the gateway has
// dialed in, the wait budget runs out, or ctx is cancelled.
func startAndAwaitGateway(ctx context.Context, srv *xcom.Server) error {
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Listening on %s, waiting for the gateway to connect...\n", srv.LocalAddr())

	deadline := time.Now().Add(connectFor)
	for !srv.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("gateway did not connect within %s", connectFor)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("xcom-lan version 1.0.0")
	},
}
