package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/meter-simulator/modbus"
	"github.com/edgeo-scada/meter-simulator/register"
)

var probeCmd = &cobra.Command{
	Use:     "probe",
	Aliases: []string{"p"},
	Short:   "Read every descriptor from a running simulator",
	Long: `Connect to a simulator (or a real meter) over Modbus TCP and read each
descriptor of the table with Read Holding Registers (FC03).

Descriptor address N is requested at Modbus address N-1, and the words are
decoded with the meter word order (FLOAT32 low word first, INT64 natural
order, DATETIME high word first).`,
	Example: `  metersim probe -H 192.168.1.100 -p 5020
  metersim probe -T examples/register_table_pm2120.yaml -o json`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringP("host", "H", "localhost", "Modbus server host")
	probeCmd.Flags().IntP("port", "p", modbus.DefaultPort, "Modbus server port")
	probeCmd.Flags().Uint8P("unit", "u", 1, "Modbus unit ID")
	probeCmd.Flags().DurationP("timeout", "t", modbus.DefaultTimeout, "Per-request timeout")

	viper.BindPFlag("probe.host", probeCmd.Flags().Lookup("host"))
	viper.BindPFlag("probe.port", probeCmd.Flags().Lookup("port"))
	viper.BindPFlag("probe.unit", probeCmd.Flags().Lookup("unit"))
	viper.BindPFlag("probe.timeout", probeCmd.Flags().Lookup("timeout"))
}

// ProbeResult is one decoded descriptor read over Modbus.
type ProbeResult struct {
	Address     uint32            `json:"address"`
	Wire        uint16            `json:"wire_address"`
	DataType    register.DataType `json:"data_type"`
	Words       []uint16          `json:"words,omitempty"`
	Value       interface{}       `json:"value,omitempty"`
	Display     string            `json:"display,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description"`
	Error       string            `json:"error,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	table, err := loadTable()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", viper.GetString("probe.host"), viper.GetInt("probe.port"))
	client, err := modbus.NewClient(addr,
		modbus.WithUnitID(modbus.UnitID(viper.GetUint("probe.unit"))),
		modbus.WithTimeout(viper.GetDuration("probe.timeout")),
		modbus.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	start := time.Now()
	results := probe(ctx, client, table)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if err := outputProbe(results); err != nil {
		return err
	}
	if outputFmt == "table" {
		outputInfo("%d of %d descriptors read from %s in %v", len(results)-failed, len(results), addr, time.Since(start).Round(time.Millisecond))
	}
	if failed == len(results) {
		return fmt.Errorf("no descriptor could be read from %s", addr)
	}
	return nil
}

func probe(ctx context.Context, client *modbus.Client, table []register.Descriptor) []ProbeResult {
	results := make([]ProbeResult, 0, len(table))
	for _, d := range table {
		r := ProbeResult{
			Address:     d.Address,
			DataType:    d.DataType,
			Unit:        d.Unit,
			Description: d.Description,
		}

		wire, ok := wireAddress(d)
		if !ok {
			r.Error = "address outside the Modbus range"
			results = append(results, r)
			continue
		}
		r.Wire = wire

		words, err := client.ReadHoldingRegisters(ctx, wire, uint16(d.Width()))
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Words = words
			r.Value, r.Display = register.DecodeValue(d.DataType, words)
		}
		results = append(results, r)
	}
	return results
}

// wireAddress returns the Modbus address for descriptor d, one below its
// device address.
func wireAddress(d register.Descriptor) (uint16, bool) {
	if d.Address == 0 || uint64(d.Address)-1+uint64(d.Width()) > 1<<16 {
		return 0, false
	}
	return uint16(d.Address - 1), true
}
