// Package util holds formatting, file and host helpers shared across dovetail.
package util

import (
	"fmt"
	"math"
	"time"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
)

// FormatBytes formats bytes with appropriate binary units (B, KiB, MiB, GiB).
func FormatBytes(bytes uint64) string {
	bf := float64(bytes)
	switch {
	case bf >= GiB:
		return fmt.Sprintf("%.2f GiB", bf/GiB)
	case bf >= MiB:
		return fmt.Sprintf("%.2f MiB", bf/MiB)
	case bf >= KiB:
		return fmt.Sprintf("%.2f KiB", bf/KiB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatBytesReadable formats bytes as megabytes with one decimal.
func FormatBytesReadable(bytes uint64) string {
	return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MiB))
}

// FormatDuration formats seconds as HH:MM:SS.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		return "??:??:??"
	}

	totalSecs := int64(seconds)
	hours := totalSecs / 3600
	minutes := (totalSecs % 3600) / 60
	secs := totalSecs % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// FormatElapsed formats a duration for stage timings: "850ms", "12.4s" or "01:02:03".
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return FormatDuration(d.Seconds())
	}
}

// CalculateSizeReduction calculates the percentage size reduction.
// Returns positive values for size reduction, negative for size increase.
func CalculateSizeReduction(inputSize, outputSize uint64) float64 {
	if inputSize == 0 {
		return 0
	}
	return (float64(inputSize) - float64(outputSize)) / float64(inputSize) * 100
}

// FormatSizeChange renders a reduction percentage as "-42%", "+8%" or "0%".
func FormatSizeChange(reduction float64) string {
	switch {
	case reduction > 0:
		return fmt.Sprintf("-%.0f%%", reduction)
	case reduction < 0:
		return fmt.Sprintf("+%.0f%%", -reduction)
	default:
		return "0%"
	}
}

// FormatRatio renders a compression or speed ratio as "2.35x", or "-" when unknown.
func FormatRatio(r float64) string {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2fx", r)
}
