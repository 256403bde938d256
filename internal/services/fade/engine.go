package fade

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

const channels = 512

// Target holds the input port frames being faded. dmx.Service implements
// it.
type Target interface {
	InputFrame(port int) ([]byte, error)
	SetAllChannels(port int, values []byte) error
}

// portFade is one running cross-fade of a whole frame.
type portFade struct {
	start    []float64
	end      []float64
	begin    time.Time
	duration time.Duration
	easing   Easing
}

// Engine steps cross-fades at a fixed rate. A new fade on a port replaces
// the running one and starts from its last interpolated values.
type Engine struct {
	mu sync.Mutex

	target Target
	log    logrus.FieldLogger
	now    func() time.Time

	fades map[int]*portFade
	// Interpolated values of the running fade per port
	current map[int][]float64

	updateRate time.Duration // default 25ms = 40Hz
	stopChan   chan struct{}
	running    bool
	wg         sync.WaitGroup
}

// NewEngine creates a fade engine for target.
func NewEngine(target Target, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		target:     target,
		log:        log.WithField("module", "fade"),
		now:        time.Now,
		fades:      make(map[int]*portFade),
		current:    make(map[int][]float64),
		updateRate: 25 * time.Millisecond,
	}
}

// Start starts the update loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.wg.Add(1)
	go e.updateLoop(e.stopChan)
}

// Stop stops the update loop. Running fades freeze where they are.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) updateLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.updateRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.step(e.now())
		}
	}
}

// step writes the interpolated frame of every running fade.
func (e *Engine) step(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for port, f := range e.fades {
		progress := 1.0
		if f.duration > 0 {
			progress = float64(now.Sub(f.begin)) / float64(f.duration)
		}

		cur := e.current[port]
		frame := make([]byte, len(f.end))
		for i := range f.end {
			v := f.end[i]
			if progress < 1 {
				v = Interpolate(f.start[i], f.end[i], progress, f.easing)
			}
			cur[i] = v
			frame[i] = byte(clamp(int(math.Round(v)), 0, 255))
		}
		if err := e.target.SetAllChannels(port, frame); err != nil {
			e.log.WithError(err).WithField("port", port).Warn("fade aborted")
			progress = 1
		}
		if progress >= 1 {
			delete(e.fades, port)
			delete(e.current, port)
		}
	}
}

// FadeTo fades the leading channels of an input port to values. Channels
// past len(values) keep their level. A non-positive duration applies the
// values at once.
func (e *Engine) FadeTo(port int, values []byte, duration time.Duration, easing Easing) error {
	if len(values) > channels {
		return fmt.Errorf("%w: %d channels", node.ErrArg, len(values))
	}
	if easing == "" {
		easing = EasingInOutSine
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	frame, err := e.target.InputFrame(port)
	if err != nil {
		return err
	}
	if duration <= 0 {
		delete(e.fades, port)
		delete(e.current, port)
		return e.target.SetAllChannels(port, values)
	}

	start := make([]float64, len(frame))
	if cur, ok := e.current[port]; ok {
		copy(start, cur)
	} else {
		for i, v := range frame {
			start[i] = float64(v)
		}
	}
	end := make([]float64, len(frame))
	copy(end, start)
	for i, v := range values {
		end[i] = float64(v)
	}

	e.fades[port] = &portFade{
		start:    start,
		end:      end,
		begin:    e.now(),
		duration: duration,
		easing:   easing,
	}
	e.current[port] = append([]float64(nil), start...)
	return nil
}

// FadeToBlack fades every channel of port to zero.
func (e *Engine) FadeToBlack(port int, duration time.Duration, easing Easing) error {
	return e.FadeTo(port, make([]byte, channels), duration, easing)
}

// Cancel stops the fade on port, leaving the last written frame.
func (e *Engine) Cancel(port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fades, port)
	delete(e.current, port)
}

// IsRunning returns whether the update loop runs.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ActiveFadeCount returns the number of running fades.
func (e *Engine) ActiveFadeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fades)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
