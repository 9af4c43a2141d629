package node

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

const (
	DefaultBlinkCount  = 6
	DefaultBlinkPeriod = 150 * time.Millisecond
)

// LED is the node's status indicator. The epoch loop drives it ON while
// STABLE; transitions are logged.
type LED struct {
	on   atomic.Bool
	logf gossip.LogFunc
}

func NewLED(logf gossip.LogFunc) *LED {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &LED{logf: logf}
}

func (l *LED) Set(on bool) {
	if l.on.Swap(on) != on {
		if on {
			l.logf("LED on")
		} else {
			l.logf("LED off")
		}
	}
}

func (l *LED) On() bool { return l.on.Load() }

// BlinkSink answers a clone alert by logging it and blinking the indicator.
// The blink runs on its own goroutine so the epoch loop never waits on it.
type BlinkSink struct {
	indicator gossip.Indicator
	count     int
	period    time.Duration
	sleep     func(time.Duration)
	logf      gossip.LogFunc

	wg     sync.WaitGroup
	alerts atomic.Int32
}

func NewBlinkSink(indicator gossip.Indicator, logf gossip.LogFunc) *BlinkSink {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &BlinkSink{
		indicator: indicator,
		count:     DefaultBlinkCount,
		period:    DefaultBlinkPeriod,
		sleep:     time.Sleep,
		logf:      logf,
	}
}

func (b *BlinkSink) SignalAlert(alert gossip.Alert) {
	b.alerts.Add(1)
	b.logf("CLONE ALERT: %s", alert)
	if b.indicator == nil || b.count <= 0 {
		return
	}
	// an indicator that reports its state is left as the blink found it
	wasOn := false
	if r, ok := b.indicator.(interface{ On() bool }); ok {
		wasOn = r.On()
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for i := 0; i < b.count; i++ {
			b.indicator.Set(true)
			b.sleep(b.period)
			b.indicator.Set(false)
			b.sleep(b.period)
		}
		if wasOn {
			b.indicator.Set(true)
		}
	}()
}

// Alerts is the number of alerts signalled.
func (b *BlinkSink) Alerts() int { return int(b.alerts.Load()) }

// Wait blocks until every running blink has finished.
func (b *BlinkSink) Wait() { b.wg.Wait() }
