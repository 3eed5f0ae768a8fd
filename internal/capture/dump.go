// Package capture reads and writes the text hex dumps streamed by the SRAM
// capture firmware.
//
// Each captured byte is rendered as two hexadecimal characters followed by a
// single space, with a CRLF after every 16 bytes. Lines that do not follow
// that shape are skipped and reported, never fatal.
package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// BytesPerLine is the number of bytes the firmware writes per dump line.
const BytesPerLine = 16

// maxLineBytes bounds how much of one line is kept. Garbage emitted before
// the firmware starts dumping can be long and contain no newline; anything
// longer is skipped as a malformed line without being buffered.
const maxLineBytes = 64 << 10

// MalformedLineError describes one dump line that was skipped.
type MalformedLineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("capture: line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Dump is the result of parsing one capture.
type Dump struct {
	Data    []byte
	Lines   int
	Skipped []MalformedLineError
}

// SkippedLines returns the number of lines that were dropped.
func (d *Dump) SkippedLines() int {
	return len(d.Skipped)
}

// Parse reads a hex dump. It only fails when r fails; malformed lines are
// collected on the returned Dump.
func Parse(r io.Reader) (*Dump, error) {
	br := bufio.NewReader(r)

	d := &Dump{}
	for {
		raw, oversized, err := readLine(br)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read capture: %w", err)
		}
		if len(raw) == 0 && !oversized && err == io.EOF {
			return d, nil
		}
		d.Lines++

		line := bytes.TrimRight(raw, "\r\n ")
		var decoded []byte
		reason := ""
		switch {
		case oversized:
			reason = fmt.Sprintf("line longer than %d bytes", maxLineBytes)
		case len(line) == 0:
		default:
			decoded, reason = parseLine(line)
		}
		if reason != "" {
			d.Skipped = append(d.Skipped, MalformedLineError{
				Line:   d.Lines,
				Text:   excerpt(line),
				Reason: reason,
			})
		} else {
			d.Data = append(d.Data, decoded...)
		}
		if err == io.EOF {
			return d, nil
		}
	}
}

// readLine returns the next line including its terminator. A line longer
// than maxLineBytes is drained and reported as oversized with only its first
// maxLineBytes kept.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineBytes {
				oversized = true
				line = append(line, chunk[:maxLineBytes-len(line)]...)
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, oversized, err
	}
}

// ParseFile parses the dump stored at path.
func ParseFile(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// parseLine decodes "XX XX ... XX" with trailing whitespace already removed.
func parseLine(line []byte) ([]byte, string) {
	// n tokens of 2 chars separated by single spaces: 3n-1 bytes.
	if (len(line)+1)%3 != 0 {
		return nil, "unexpected line length"
	}
	n := (len(line) + 1) / 3
	if n > BytesPerLine {
		return nil, fmt.Sprintf("%d bytes on one line", n)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		off := i * 3
		if i > 0 && line[off-1] != ' ' {
			return nil, "missing separator"
		}
		if _, err := hex.Decode(out[i:i+1], line[off:off+2]); err != nil {
			return nil, "invalid hex digit"
		}
	}
	return out, ""
}

func excerpt(line []byte) string {
	const max = 48
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}

// Write renders data in the firmware's dump format.
func Write(w io.Writer, data []byte) error {
	bw := bufio.NewWriter(w)
	var pair [2]byte
	for i := range data {
		hex.Encode(pair[:], data[i:i+1])
		bw.Write(bytes.ToUpper(pair[:]))
		bw.WriteByte(' ')
		if (i+1)%BytesPerLine == 0 {
			bw.WriteString("\r\n")
		}
	}
	return bw.Flush()
}

// Format is Write into a string.
func Format(data []byte) string {
	var buf bytes.Buffer
	_ = Write(&buf, data)
	return buf.String()
}
