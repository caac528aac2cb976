package render

import (
	"regexp"
	"strconv"
	"strings"
)

// ffmpeg status lines carry the elapsed stream time as hh:mm:ss.cc.
var timePattern = regexp.MustCompile(`time=(\d{2}:\d{2}:\d{2}\.\d{2})`)

// maxReportablePct is the ceiling while the process is still running.
// 100 is written only together with the completed status, after the
// artifact is verified.
const maxReportablePct = 99

// Progress turns ffmpeg stderr lines into a monotonic percentage. Lines
// that do not carry a parsable timestamp are ignored. Every parsable
// timestamp reports, even when the percentage did not move: the reported
// value is clamped to the running maximum, and the per-line report keeps
// the caller's cancel check alive through the capped plateau at the end
// of an encode.
type Progress struct {
	totalSec float64
	lastPct  int
}

func NewProgress(totalSec float64) *Progress {
	return &Progress{totalSec: totalSec, lastPct: -1}
}

// Observe parses one stderr line. ok reports whether the line carried a
// parsable timestamp; pct is the clamped monotonic percentage.
func (p *Progress) Observe(line string) (pct int, ok bool) {
	if p.totalSec <= 0 {
		return 0, false
	}
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	elapsed, ok := parseClock(m[1])
	if !ok {
		return 0, false
	}

	pct = int(elapsed / p.totalSec * 100)
	if pct > maxReportablePct {
		pct = maxReportablePct
	}
	if pct > p.lastPct {
		p.lastPct = pct
	}
	return p.lastPct, true
}

// parseClock converts "hh:mm:ss.cc" to seconds.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	sec, errS := strconv.ParseFloat(parts[2], 64)
	if errH != nil || errM != nil || errS != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + sec, true
}
