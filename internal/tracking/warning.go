package tracking

import (
	"time"

	"github.com/ssukumar/GlobalInvigoration/internal/clock"
	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

// SpeedWarningMonitor raises a flag when the pointer has not switched walls
// within the threshold.
type SpeedWarningMonitor struct {
	clock     clock.Clock
	threshold time.Duration
	onChange  func(bool)

	active  records.Wall
	warning bool
	timer   clock.Timer
	gen     uint64
}

// NewSpeedWarningMonitor returns a disarmed monitor. onChange, when set, is
// called on every flag flip.
func NewSpeedWarningMonitor(c clock.Clock, threshold time.Duration, onChange func(bool)) *SpeedWarningMonitor {
	return &SpeedWarningMonitor{clock: c, threshold: threshold, onChange: onChange, active: records.WallNone}
}

// OnWallEnter re-arms the debounce when the pointer reaches a wall other than
// the last active one. The neutral zone is not a wall.
func (m *SpeedWarningMonitor) OnWallEnter(wall records.Wall) {
	if wall == records.WallNone || wall == m.active {
		return
	}
	m.active = wall
	m.disarm()
	m.set(false)

	gen := m.gen
	m.timer = m.clock.AfterFunc(m.threshold, func() {
		if gen != m.gen {
			return
		}
		m.timer = nil
		m.set(true)
	})
}

// OnPhaseChange disarms the timer and clears the flag.
func (m *SpeedWarningMonitor) OnPhaseChange() {
	m.disarm()
	m.active = records.WallNone
	m.set(false)
}

// Warning reports the current flag.
func (m *SpeedWarningMonitor) Warning() bool {
	return m.warning
}

// Armed reports whether a debounce timer is pending.
func (m *SpeedWarningMonitor) Armed() bool {
	return m.timer != nil
}

func (m *SpeedWarningMonitor) disarm() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *SpeedWarningMonitor) set(value bool) {
	if m.warning == value {
		return
	}
	m.warning = value
	if m.onChange != nil {
		m.onChange(value)
	}
}
