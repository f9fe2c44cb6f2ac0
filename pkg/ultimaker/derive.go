package ultimaker

import (
	"math"
	"time"
)

// Job states that mean a print has finished even when the printer still
// reports status "printing". The firmware keeps the stale status until the
// build plate is cleared.
var completedJobStates = map[string]bool{
	"finished":     true,
	"done":         true,
	"complete":     true,
	"success":      true,
	"wait_cleanup": true,
}

const progressComplete = 0.999

// CorrectedActivity returns a self-consistent activity value for the
// snapshot. A raw status of "printing" is demoted to "idle" when the job
// state says the print is over, progress is effectively 1.0, or there is no
// job data at all.
func CorrectedActivity(snap Snapshot) string {
	status := snap.GetString(KeyStatus)
	if status == "" {
		return StatusUnknown
	}
	if status != StatusPrinting {
		return status
	}

	state, hasState := snap.Lookup(KeyState)
	if !hasState {
		return StatusIdle
	}
	if stateStr, ok := state.(string); ok && completedJobStates[stateStr] {
		return StatusIdle
	}
	if progress, ok := snap.GetFloat(KeyProgress); ok && progress >= progressComplete {
		return StatusIdle
	}
	return StatusPrinting
}

// ProgressPercent converts the 0.0-1.0 progress fraction to a percentage
// rounded to the given number of decimals.
func ProgressPercent(snap Snapshot, decimals int) float64 {
	progress, _ := snap.GetFloat(KeyProgress)
	return RoundTo(progress*100, decimals)
}

// TimeRemaining returns the remaining print time in seconds, never negative.
func TimeRemaining(snap Snapshot) float64 {
	total, _ := snap.GetFloat("time_total")
	elapsed, _ := snap.GetFloat("time_elapsed")
	if total <= 0 || elapsed > total {
		return 0
	}
	return total - elapsed
}

// ETA returns the projected completion time with seconds zeroed out, based
// on the supplied wall clock. It reports false when the job carries no
// usable time data.
func ETA(snap Snapshot, now time.Time) (time.Time, bool) {
	total, _ := snap.GetFloat("time_total")
	elapsed, _ := snap.GetFloat("time_elapsed")
	if total == 0 || elapsed == 0 {
		return time.Time{}, false
	}
	eta := now.UTC().Add(time.Duration(total-elapsed) * time.Second)
	return eta.Truncate(time.Minute), true
}

// FirmwareUpdateAvailable reports whether the installed firmware differs
// from the latest published version. Empty versions compare as "no update"
// so a failed firmware-latest fetch never raises a false positive.
func FirmwareUpdateAvailable(installed, latest string) bool {
	if installed == "" || latest == "" {
		return false
	}
	return installed != latest
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
