package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/meter-simulator/register"
)

const defaultTable = "register_table_PM2120.json"

var (
	cfgFile string

	// Global flags
	tablePath string
	outputFmt string
	verbose   bool
	noColor   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "metersim",
	Short: "A Modbus TCP power meter simulator",
	Long: `metersim simulates a PM2120-style power meter on Modbus TCP.

It builds a holding register map from a descriptor table, fills it with
synthetic measurements on a fixed interval, and exposes two pump registers
and a water level register that can be changed over Modbus or HTTP.

Features:
  - Read Holding Registers (FC03) and Write Single Register (FC06)
  - Swapped-word FLOAT32, INT64 and DATETIME encodings
  - HTTP control API with Prometheus metrics
  - Configuration file and environment support

Examples:
  # Serve the default table on port 5020 with the HTTP API on :3000
  metersim -T register_table_PM2120.json

  # Regenerate every 5 seconds as unit 7
  metersim --interval 5s --device-id 7

  # Read every descriptor back from a running simulator
  metersim probe -H 192.168.1.100 -p 5020

  # Show the register layout of a table
  metersim table -T examples/register_table_pm2120.yaml`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
	},
	RunE: runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.metersim.yaml)")

	// Table and output flags
	rootCmd.PersistentFlags().StringVarP(&tablePath, "table", "T", defaultTable, "Descriptor table file (.json, .yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	// Bind to viper
	viper.BindPFlag("table", rootCmd.PersistentFlags().Lookup("table"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	addServeFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(tableCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".metersim")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("METERSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadTable reads the descriptor table named by --table.
func loadTable() ([]register.Descriptor, error) {
	path := viper.GetString("table")
	table, err := register.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
