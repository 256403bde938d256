package fade

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

var _ Target = (*dmx.Service)(nil)

type fakeTarget struct {
	mu     sync.Mutex
	frames map[int][]byte
	writes int
	fail   bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{frames: map[int][]byte{}}
}

func (f *fakeTarget) InputFrame(port int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if port < 0 || port >= node.MaxPorts {
		return nil, node.ErrArg
	}
	out := make([]byte, channels)
	copy(out, f.frames[port])
	return out, nil
}

func (f *fakeTarget) SetAllChannels(port int, values []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	frame := f.frames[port]
	if frame == nil {
		frame = make([]byte, channels)
		f.frames[port] = frame
	}
	copy(frame, values)
	f.writes++
	return nil
}

func (f *fakeTarget) channel(port, ch int) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames[port] == nil {
		return 0
	}
	return f.frames[port][ch]
}

func createTestEngine() (*Engine, *fakeTarget, *time.Time) {
	target := newFakeTarget()
	log := logrus.New()
	log.SetOutput(io.Discard)
	engine := NewEngine(target, log)
	now := time.Unix(1000, 0)
	engine.now = func() time.Time { return now }
	return engine, target, &now
}

func TestNewEngine(t *testing.T) {
	engine, _, _ := createTestEngine()
	if engine.updateRate != 25*time.Millisecond {
		t.Errorf("Default update rate = %v, want 25ms", engine.updateRate)
	}
	if engine.ActiveFadeCount() != 0 {
		t.Error("New engine should have no active fades")
	}
}

func TestEngineStartStop(t *testing.T) {
	engine, _, _ := createTestEngine()

	if engine.IsRunning() {
		t.Error("Engine should not be running initially")
	}
	engine.Start()
	engine.Start()
	if !engine.IsRunning() {
		t.Error("Engine should be running after Start()")
	}
	engine.Stop()
	engine.Stop()
	if engine.IsRunning() {
		t.Error("Engine should not be running after Stop()")
	}
	engine.Start()
	engine.Stop()
}

func TestFadeTo(t *testing.T) {
	engine, target, now := createTestEngine()
	begin := *now

	if err := engine.FadeTo(0, []byte{200, 100}, time.Second, EasingLinear); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	if engine.ActiveFadeCount() != 1 {
		t.Fatalf("Expected 1 active fade, got %d", engine.ActiveFadeCount())
	}

	engine.step(begin.Add(500 * time.Millisecond))
	if got := target.channel(0, 0); got != 100 {
		t.Errorf("Channel 1 mid-fade = %d, want 100", got)
	}
	if got := target.channel(0, 1); got != 50 {
		t.Errorf("Channel 2 mid-fade = %d, want 50", got)
	}

	engine.step(begin.Add(2 * time.Second))
	if got := target.channel(0, 0); got != 200 {
		t.Errorf("Channel 1 after fade = %d, want 200", got)
	}
	if engine.ActiveFadeCount() != 0 {
		t.Error("Fade should be removed when complete")
	}
}

func TestFadeRetargetsFromInterpolatedValue(t *testing.T) {
	engine, target, now := createTestEngine()
	begin := *now

	if err := engine.FadeTo(1, []byte{200}, time.Second, EasingLinear); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	engine.step(begin.Add(250 * time.Millisecond))

	// Restart from 50 towards 0.
	*now = begin.Add(250 * time.Millisecond)
	if err := engine.FadeTo(1, []byte{0}, time.Second, EasingLinear); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	engine.step(now.Add(500 * time.Millisecond))
	if got := target.channel(1, 0); got != 25 {
		t.Errorf("Channel after retarget = %d, want 25", got)
	}
	if engine.ActiveFadeCount() != 1 {
		t.Errorf("Expected one fade per port, got %d", engine.ActiveFadeCount())
	}
}

func TestFadeImmediate(t *testing.T) {
	engine, target, _ := createTestEngine()

	if err := engine.FadeTo(2, []byte{7, 8}, 0, ""); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	if target.channel(2, 1) != 8 {
		t.Error("Zero duration should apply values at once")
	}
	if engine.ActiveFadeCount() != 0 {
		t.Error("Zero duration should not start a fade")
	}
}

func TestFadeToBlackAndCancel(t *testing.T) {
	engine, target, now := createTestEngine()
	if err := target.SetAllChannels(0, []byte{255, 255}); err != nil {
		t.Fatal(err)
	}

	if err := engine.FadeToBlack(0, time.Second, EasingInOutSine); err != nil {
		t.Fatalf("FadeToBlack failed: %v", err)
	}
	engine.step(now.Add(500 * time.Millisecond))
	if got := target.channel(0, 0); got != 128 {
		t.Errorf("Sine midpoint = %d, want 128", got)
	}

	engine.Cancel(0)
	engine.step(now.Add(time.Second))
	if got := target.channel(0, 0); got != 128 {
		t.Errorf("Cancelled fade should leave the last frame, got %d", got)
	}
}

func TestFadeErrors(t *testing.T) {
	engine, target, now := createTestEngine()

	if err := engine.FadeTo(9, []byte{1}, time.Second, EasingLinear); !errors.Is(err, node.ErrArg) {
		t.Errorf("Expected ErrArg for a bad port, got %v", err)
	}
	if err := engine.FadeTo(0, make([]byte, 513), time.Second, EasingLinear); !errors.Is(err, node.ErrArg) {
		t.Errorf("Expected ErrArg for an oversized frame, got %v", err)
	}

	if err := engine.FadeTo(0, []byte{100}, time.Second, EasingLinear); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	target.fail = true
	engine.step(now.Add(100 * time.Millisecond))
	if engine.ActiveFadeCount() != 0 {
		t.Error("A failing target should abort the fade")
	}
}

func TestFadeOnService(t *testing.T) {
	n, err := node.New(node.StyleNode)
	if err != nil {
		t.Fatal(err)
	}
	svc := dmx.NewService(n, dmx.Config{}, nil, nil)
	engine := NewEngine(svc, nil)

	if err := engine.FadeTo(3, []byte{40}, 0, EasingLinear); err != nil {
		t.Fatalf("FadeTo failed: %v", err)
	}
	frame, err := svc.InputFrame(3)
	if err != nil {
		t.Fatal(err)
	}
	if frame[0] != 40 {
		t.Errorf("Expected 40, got %d", frame[0])
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ value, want int }{{-5, 0}, {100, 100}, {300, 255}}
	for _, tt := range tests {
		if got := clamp(tt.value, 0, 255); got != tt.want {
			t.Errorf("clamp(%d) = %d, want %d", tt.value, got, tt.want)
		}
	}
}
