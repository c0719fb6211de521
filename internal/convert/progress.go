package convert

import (
	"strconv"
	"strings"
	"time"
)

// Progress is a conversion progress report.
type Progress struct {
	Fraction float64       // 0..1, held below 1 until ffmpeg exits
	Speed    float64       // multiple of real time, 0 when unknown
	ETA      time.Duration // 0 when unknown
}

// ProgressFunc receives conversion progress.
type ProgressFunc func(Progress)

// progressParser folds ffmpeg `-progress` key=value lines into reports.
type progressParser struct {
	duration float64 // seconds
	outUs    int64
}

// feed consumes one line and reports whether it produced a new report.
func (p *progressParser) feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || p.duration <= 0 {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return Progress{}, false
		}
		p.outUs = us
		return Progress{Fraction: p.fraction()}, true
	case "speed":
		value = strings.TrimSuffix(value, "x")
		if value == "" || value == "N/A" {
			return Progress{}, false
		}
		speed, err := strconv.ParseFloat(value, 64)
		if err != nil || speed <= 0 {
			return Progress{}, false
		}
		remaining := p.duration * (1 - float64(p.outUs)/(p.duration*1e6))
		if remaining < 0 {
			remaining = 0
		}
		eta := time.Duration(remaining / speed * float64(time.Second))
		return Progress{Fraction: p.fraction(), Speed: speed, ETA: eta}, true
	}
	return Progress{}, false
}

func (p *progressParser) fraction() float64 {
	f := float64(p.outUs) / (p.duration * 1e6)
	if f > 0.99 {
		f = 0.99
	}
	return f
}
