package main

import (
	"github.com/spf13/cobra"

	"github.com/edgeo-scada/meter-simulator/register"
)

var tableCmd = &cobra.Command{
	Use:     "table",
	Aliases: []string{"layout"},
	Short:   "Show the register layout built from a descriptor table",
	Long: `Load a descriptor table and print the register layout the simulator would
serve: store index, device address, Modbus address and width for every
descriptor, followed by the pump and water level control registers.`,
	Example: `  metersim table -T register_table_PM2120.json
  metersim table -T examples/register_table_pm2120.yaml -o csv`,
	RunE: runTable,
}

// LayoutRow describes one allocated descriptor or control register.
type LayoutRow struct {
	Index       int               `json:"index"`
	Address     uint32            `json:"address"`
	Wire        int               `json:"wire_address"`
	Width       int               `json:"width"`
	DataType    register.DataType `json:"data_type"`
	Rule        string            `json:"rule,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description"`
}

func runTable(cmd *cobra.Command, args []string) error {
	table, err := loadTable()
	if err != nil {
		return err
	}

	layout := register.Build(table)
	for _, c := range layout.Collisions() {
		outputWarning("address %d allocated twice (index %d replaced by %d)", c.Address, c.PreviousIndex, c.Index)
	}
	return outputLayout(layoutRows(table, layout), layout.Total())
}

func layoutRows(table []register.Descriptor, layout *register.Layout) []LayoutRow {
	rows := make([]LayoutRow, 0, len(table)+len(register.ControlAddresses))
	for _, d := range table {
		idx, _ := layout.Index(d.Address)
		rows = append(rows, LayoutRow{
			Index:       idx,
			Address:     d.Address,
			Wire:        int(d.Address) - 1,
			Width:       d.Width(),
			DataType:    d.DataType,
			Rule:        ruleString(d.Generation),
			Unit:        d.Unit,
			Description: d.Description,
		})
	}

	names := map[uint32]string{
		register.AddrPump1:      "Pump 1",
		register.AddrPump2:      "Pump 2",
		register.AddrWaterLevel: "Water level",
	}
	for _, addr := range register.ControlAddresses {
		idx, _ := layout.Index(addr)
		rows = append(rows, LayoutRow{
			Index:       idx,
			Address:     addr,
			Wire:        int(addr) - 1,
			Width:       1,
			DataType:    register.TypeInt16U,
			Rule:        "control",
			Description: names[addr],
		})
	}
	return rows
}
