package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/edgeo-scada/meter-simulator/register"
)

// Color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorYellow, "WARN")+" "+msg)
}

func outputInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorCyan, "INFO") + " " + msg)
}

func ruleString(r register.GenerationRule) string {
	if r.Type == "" {
		return ""
	}
	if len(r.Params) == 0 {
		return string(r.Type)
	}
	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	return fmt.Sprintf("%s(%s)", r.Type, strings.Join(params, ", "))
}

func wordsString(words []uint16) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%04X", w)
	}
	return strings.Join(parts, " ")
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputProbe(results []ProbeResult) error {
	switch outputFmt {
	case "json":
		return outputJSON(results)
	case "csv":
		return outputProbeCSV(results)
	default:
		return outputProbeTable(results)
	}
}

func outputProbeTable(results []ProbeResult) error {
	fmt.Printf("\n%s (%d descriptors)\n", color(colorBold, "Meter readings"), len(results))
	fmt.Println(strings.Repeat("-", 80))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTYPE\tWORDS\tVALUE\tUNIT\tDESCRIPTION")
	fmt.Fprintln(w, "-------\t----\t-----\t-----\t----\t-----------")

	for _, r := range results {
		value := color(colorGreen, r.Display)
		if r.Error != "" {
			value = color(colorRed, r.Error)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Address, r.DataType, wordsString(r.Words), value, r.Unit, r.Description)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func outputProbeCSV(results []ProbeResult) error {
	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"address", "wire_address", "data_type", "words", "value", "unit", "description", "error"})
	for _, r := range results {
		w.Write([]string{
			strconv.FormatUint(uint64(r.Address), 10),
			strconv.Itoa(int(r.Wire)),
			string(r.DataType),
			wordsString(r.Words),
			r.Display,
			r.Unit,
			r.Description,
			r.Error,
		})
	}
	w.Flush()
	return w.Error()
}

func outputLayout(rows []LayoutRow, total int) error {
	switch outputFmt {
	case "json":
		return outputJSON(map[string]interface{}{
			"total":     total,
			"registers": rows,
		})
	case "csv":
		return outputLayoutCSV(rows)
	default:
		return outputLayoutTable(rows, total)
	}
}

func outputLayoutTable(rows []LayoutRow, total int) error {
	fmt.Printf("\n%s (%d registers)\n", color(colorBold, "Register layout"), total)
	fmt.Println(strings.Repeat("-", 80))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tADDRESS\tMODBUS\tWIDTH\tTYPE\tRULE\tUNIT\tDESCRIPTION")
	fmt.Fprintln(w, "-----\t-------\t------\t-----\t----\t----\t----\t-----------")

	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.Index, r.Address, r.Wire, r.Width, r.DataType, r.Rule, r.Unit, r.Description)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func outputLayoutCSV(rows []LayoutRow) error {
	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"index", "address", "wire_address", "width", "data_type", "rule", "unit", "description"})
	for _, r := range rows {
		w.Write([]string{
			strconv.Itoa(r.Index),
			strconv.FormatUint(uint64(r.Address), 10),
			strconv.Itoa(r.Wire),
			strconv.Itoa(r.Width),
			string(r.DataType),
			r.Rule,
			r.Unit,
			r.Description,
		})
	}
	w.Flush()
	return w.Error()
}
