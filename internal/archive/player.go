package archive

import (
	"sync"
	"time"

	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// FrameCallback receives each frame as the player delivers it.
type FrameCallback func(Frame)

// Player drives wall-clock-paced playback of a Reader's frames, with
// seek, pause/resume, and variable-rate control. Delivery runs on its own
// goroutine and reads frames one preload-window ahead of the delivery
// position.
type Player struct {
	reader *Reader

	mu       sync.Mutex
	position int
	playing  bool
	rate     float64

	preloadWindow int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// DefaultPreloadWindow is how many frames ahead of the current position
// the delivery loop issues its background prefetch read; the prefetched
// frame itself is not retained.
const DefaultPreloadWindow = 4

// NewPlayer constructs a Player positioned at frame 0, rate 1.0, stopped.
func NewPlayer(reader *Reader) *Player {
	return &Player{
		reader:        reader,
		rate:          1.0,
		preloadWindow: DefaultPreloadWindow,
	}
}

// Position returns the current frame index.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// IsPlaying reports whether playback is active.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Rate returns the current playback rate.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// SetRate changes the playback rate. A rate of 1.0 is nominal speed;
// 2.0 is double speed; 0.5 is half speed. Negative rates and zero are
// rejected -- reverse and frozen playback are not modeled.
func (p *Player) SetRate(rate float64) error {
	if rate <= 0 {
		return psierr.New(psierr.InvalidParameter, "playback rate must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	return nil
}

// Seek moves the playback position to frame i without changing the
// playing/paused state.
func (p *Player) Seek(i int) error {
	if i < 0 || i >= p.reader.FrameCount() {
		return psierr.New(psierr.InvalidParameter, "seek target out of range")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = i
	return nil
}

// Play starts the delivery goroutine, which invokes cb for each frame in
// order, paced at NominalFramePeriodMs/rate between deliveries, until
// Stop is called or the archive is exhausted.
func (p *Player) Play(cb FrameCallback) error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return psierr.New(psierr.AlreadyActive, "player is already playing")
	}
	p.playing = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.deliveryLoop(cb)
	return nil
}

// Pause stops delivery but retains the current position.
func (p *Player) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stop pauses and resets the position to the start.
func (p *Player) Stop() {
	p.Pause()
	p.mu.Lock()
	p.position = 0
	p.mu.Unlock()
}

// prefetch decodes the frame at i on a best-effort background goroutine so
// its keyframe landed on by ReadFrame's delta replay is already resident in
// the reader's cache by the time delivery reaches it. Errors and
// out-of-range indices are swallowed; this is pacing smoothness, not a
// correctness path.
func (p *Player) prefetch(i int) {
	if i < 0 || i >= p.reader.FrameCount() {
		return
	}
	go func() {
		_, _ = p.reader.ReadFrame(i)
	}()
}

func (p *Player) deliveryLoop(cb FrameCallback) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if !p.playing {
			p.mu.Unlock()
			return
		}
		pos := p.position
		rate := p.rate
		stopCh := p.stopCh
		p.mu.Unlock()

		if pos >= p.reader.FrameCount() {
			p.mu.Lock()
			p.playing = false
			p.mu.Unlock()
			return
		}

		f, err := p.reader.ReadFrame(pos)
		if err == nil {
			cb(f)
		}

		p.mu.Lock()
		p.position = pos + 1
		window := p.preloadWindow
		p.mu.Unlock()

		p.prefetch(pos + window)

		periodMs := float64(NominalFramePeriodMs) / rate
		select {
		case <-stopCh:
			return
		case <-time.After(time.Duration(periodMs * float64(time.Millisecond))):
		}
	}
}
