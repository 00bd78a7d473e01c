package ffmpeg

import (
	"bytes"
	"regexp"
)

// ProgressFunc receives the completed fraction of the current operation.
type ProgressFunc func(fraction float64)

var timeRegex = regexp.MustCompile(`time=\s*(-?[0-9]+:[0-9]+:[0-9.]+)`)

// ProgressFromLine extracts the time= field of an ffmpeg stats line and
// divides it by total. The result is clamped to 0..1.
func ProgressFromLine(line string, total float64) (float64, bool) {
	m := timeRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	if total <= 0 {
		return 0, true
	}

	fraction := ParseDuration(m[1]) / total
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	return fraction, true
}

// scanLinesOrCR splits on \n or \r. ffmpeg rewrites its stats line in place
// with carriage returns.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last n lines of process output for error reports.
type tail struct {
	lines []string
	n     int
}

func (t *tail) add(line string) {
	if len(t.lines) == t.n {
		t.lines = append(t.lines[:0], t.lines[1:]...)
	}
	t.lines = append(t.lines, line)
}

func (t *tail) String() string {
	var b bytes.Buffer
	for i, l := range t.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}
