package models

import (
	"fmt"
	"math"
	"time"
)

// Interval is a candle interval code understood by the exchange provider.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval2h:  2 * time.Hour,
	Interval4h:  4 * time.Hour,
	Interval6h:  6 * time.Hour,
	Interval8h:  8 * time.Hour,
}

// ParseInterval validates an interval code.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// Duration returns the wall-clock span of one candle at this interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Valid reports whether the interval is a known code.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Candle is one OHLCV bar. The interval is context, not stored on the entity.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Typical is the typical price used by the VWAP calculation.
func (c Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Validate checks the OHLCV shape invariants.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("candle at %s has non-finite or negative field", c.Timestamp)
		}
	}
	if c.High < math.Max(c.Open, c.Close) {
		return fmt.Errorf("candle at %s: high %.8g below body", c.Timestamp, c.High)
	}
	if c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("candle at %s: low %.8g above body", c.Timestamp, c.Low)
	}
	return nil
}

// VWAP computes the volume-weighted average price over the given candles
// using the typical price. When total volume is zero it falls back to the
// arithmetic mean of closes. Returns 0 for an empty slice.
func VWAP(candles []Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var weighted, volume float64
	for _, c := range candles {
		weighted += c.Typical() * c.Volume
		volume += c.Volume
	}
	if volume == 0 {
		var sum float64
		for _, c := range candles {
			sum += c.Close
		}
		return sum / float64(len(candles))
	}
	return weighted / volume
}

// Frame describes a backtest timeframe: a finite ordered sequence of tick
// instants spaced by Interval.
type Frame struct {
	Name     string    `yaml:"name"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Interval Interval  `yaml:"interval"`
}

// Validate checks frame ordering and interval.
func (f Frame) Validate() error {
	if !f.Start.Before(f.End) {
		return fmt.Errorf("frame %q: start %s is not before end %s", f.Name, f.Start, f.End)
	}
	if !f.Interval.Valid() {
		return fmt.Errorf("frame %q: invalid interval %q", f.Name, f.Interval)
	}
	return nil
}

// Timestamps materializes the tick instants of the frame, inclusive of Start,
// exclusive of any instant at or past End.
func (f Frame) Timestamps() []time.Time {
	step := f.Interval.Duration()
	var out []time.Time
	for t := f.Start; t.Before(f.End); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}
