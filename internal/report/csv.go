package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// PositionHeader is the first row of every per-position CSV table.
var PositionHeader = []string{"position", "one_rate", "flip_rate", "majority", "unstable"}

// WritePositionsCSV writes one row per bit position of the device. The
// flip_rate column is empty when the device has a single sample.
func WritePositionsCSV(w io.Writer, d *Device) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PositionHeader); err != nil {
		return err
	}
	for _, p := range d.Positions {
		flip := ""
		if p.FlipRate != nil {
			flip = formatRate(*p.FlipRate)
		}
		row := []string{
			strconv.Itoa(p.Index),
			formatRate(p.OneRate),
			flip,
			strconv.Itoa(int(p.Majority)),
			strconv.FormatBool(p.Unstable),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("position %d: %w", p.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// PositionsFileName names a device's CSV table inside the output directory.
func PositionsFileName(deviceID string) string {
	return "positions_" + deviceID + ".csv"
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
