package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"sramprint/internal/quality"
)

// WriteText renders a human-readable summary of r.
func WriteText(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "sramprint report %s (%s)\n", r.RunID, r.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(bw, "data: %s  bits: %d  devices: %d  hash: %s\n", r.DataDir, r.BitLength, len(r.Devices), r.Algorithm)

	for i := range r.Devices {
		writeDevice(bw, &r.Devices[i])
	}

	bw.WriteString("\nDataset\n")
	writeDist(bw, fmt.Sprintf("Inter-HD (sample %d)", r.RepresentativeIndex), r.InterHD)
	writeDist(bw, "Inter-HD (all pairs)", r.InterHDCross)
	if b := r.PooledBalance; b != nil {
		fmt.Fprintf(bw, "  %-22s global %.4f  always-0 %d  always-1 %d  balanced %d/%d\n",
			"Pooled bit balance", b.GlobalOneRate, b.AlwaysZero, b.AlwaysOne, b.Balanced, b.Positions)
	}

	for _, d := range r.Debias {
		fmt.Fprintf(bw, "\nDebias %s (%d bits)\n", d.Method, d.BitLength)
		for _, dev := range d.Devices {
			label := dev.ID
			if dev.MaskFlips > 0 {
				label = fmt.Sprintf("%s (%d flips)", dev.ID, dev.MaskFlips)
			}
			fmt.Fprintf(bw, "  %s\n", label)
			writeDist(bw, "  Hamming weight", dev.HammingWeight)
			writeDist(bw, "  Intra-HD", dev.IntraHD)
		}
		writeDist(bw, "Inter-HD", d.InterHD)
	}

	if len(r.FingerprintDistances) > 0 {
		bw.WriteString("\nReference distances\n")
		for _, p := range r.FingerprintDistances {
			fmt.Fprintf(bw, "  %s - %s  %.4f\n", p.A, p.B, p.Distance)
		}
	}

	if len(r.Errors) > 0 {
		bw.WriteString("\nErrors\n")
		for _, e := range r.Errors {
			if e.Device != "" {
				fmt.Fprintf(bw, "  %s [%s]: %s\n", e.Metric, e.Device, e.Message)
			} else {
				fmt.Fprintf(bw, "  %s: %s\n", e.Metric, e.Message)
			}
		}
	}

	return bw.Flush()
}

func writeDevice(w *bufio.Writer, d *Device) {
	fmt.Fprintf(w, "\nDevice %s: %d samples", d.ID, d.Samples)
	if d.SkippedLines > 0 {
		fmt.Fprintf(w, ", %d malformed lines skipped", d.SkippedLines)
	}
	if d.EmptyFiles > 0 {
		fmt.Fprintf(w, ", %d empty captures", d.EmptyFiles)
	}
	if d.Rejected > 0 {
		fmt.Fprintf(w, ", %d rejected", d.Rejected)
	}
	w.WriteString("\n")

	writeDist(w, "Hamming weight", d.HammingWeight)
	writeDist(w, "Intra-HD", d.IntraHD)
	if b := d.Balance; b != nil {
		fmt.Fprintf(w, "  %-22s global %.4f  always-0 %d  always-1 %d  balanced %d/%d\n",
			"Bit balance", b.GlobalOneRate, b.AlwaysZero, b.AlwaysOne, b.Balanced, b.Positions)
	}
	if f := d.Flips; f != nil {
		fmt.Fprintf(w, "  %-22s mean %.4f  max %.4f  stable %d  <%.2f %d  <%.2f %d  unstable %d\n",
			"Flip rate", f.Mean, f.Max, f.PerfectlyStable, 0.05, f.VeryStable, 0.10, f.Stable, f.Unstable)
	}
	if d.MaskedBits > 0 {
		fmt.Fprintf(w, "  %-22s %d positions\n", "Masked", d.MaskedBits)
	}
	if n := d.Noisy; n != nil {
		fmt.Fprintf(w, "  %-22s %d positions\n", fmt.Sprintf("Noisy (t=%.2f)", n.Threshold), n.Positions)
		writeDist(w, "  Hamming weight", n.HammingWeight)
		writeDist(w, "  Intra-HD", n.IntraHD)
	}
	if fp := d.Fingerprint; fp != nil {
		fmt.Fprintf(w, "  %-22s %s %s%s\n", "Fingerprint", fp.Algorithm, fp.Digest, matchNote(fp))
		if fp.HexDump != "" {
			for _, line := range strings.Split(fp.HexDump, "\r\n") {
				fmt.Fprintf(w, "    %s\n", strings.TrimRight(line, " "))
			}
		}
	}
}

func matchNote(fp *FingerprintResult) string {
	switch {
	case fp.Matches == nil:
		return ""
	case *fp.Matches:
		return "  (matches stored)"
	default:
		return "  (CHANGED since last run)"
	}
}

func writeDist(w *bufio.Writer, label string, d *quality.Distribution) {
	if d == nil {
		return
	}
	fmt.Fprintf(w, "  %-22s mean %.4f  std %.4f  min %.4f  max %.4f\n", label, d.Mean, d.Std, d.Min, d.Max)
}
