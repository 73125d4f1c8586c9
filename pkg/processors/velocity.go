package processors

import (
	"time"
	"unicode/utf8"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/scheduler"
)

// VelocityTracker samples how many runes the source buffer grew by during
// the last interval.
type VelocityTracker struct {
	env      Env
	interval time.Duration
	prev     int
	rate     int
	task     *scheduler.Task
}

func NewVelocityTracker(env Env, interval time.Duration) *VelocityTracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &VelocityTracker{env: env.withDefaults(), interval: interval}
}

// Rate returns the latest sample in runes per interval. It is zero while
// the tracker is stopped.
func (v *VelocityTracker) Rate() int { return v.rate }

func (v *VelocityTracker) Running() bool { return v.task != nil }

func (v *VelocityTracker) Start() {
	if v.task != nil {
		return
	}
	v.prev = utf8.RuneCountInString(v.env.Buffer.Text())
	v.schedule()
}

func (v *VelocityTracker) Stop() {
	if v.task != nil {
		v.task.Cancel()
		v.task = nil
	}
	v.rate = 0
}

func (v *VelocityTracker) schedule() {
	v.task = v.env.Sched.After(v.interval, v.sample)
}

func (v *VelocityTracker) sample() {
	cur := utf8.RuneCountInString(v.env.Buffer.Text())
	v.rate = cur - v.prev
	if v.rate < 0 {
		v.rate = 0
	}
	v.prev = cur
	v.env.record(metrics.EventVelocitySample, float64(v.rate), nil)
	v.schedule()
}
