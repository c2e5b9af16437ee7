package player

import (
	"log"
	"sync"

	"github.com/jrockway/nixie-radio/control/radio"
)

// Log is a player with no audio; it logs what it would do.
type Log struct {
	mu      sync.Mutex
	uri     string
	volume  int
	playing bool
}

var _ radio.Player = (*Log)(nil)

// Play implements radio.Player.
func (p *Log) Play(uri string, volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uri, p.volume, p.playing = uri, volume, true
	log.Printf("player: play %s at volume %d", uri, volume)
}

// Stop implements radio.Player.
func (p *Log) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	log.Printf("player: stop")
}

// SetVolume implements radio.Player.
func (p *Log) SetVolume(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	log.Printf("player: volume %d", volume)
}

// Playing returns the stream being played, if any, and the volume.
func (p *Log) Playing() (uri string, volume int, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uri, p.volume, p.playing
}
