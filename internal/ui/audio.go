package ui

import (
	"encoding/binary"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/emu"
)

const sampleRate = 48000

// apuStream adapts the APU sample ring to io.Reader for the audio player:
// interleaved stereo int16 little-endian frames, silence on underrun.
type apuStream struct {
	m       *emu.Machine
	scratch []int16
}

func (s *apuStream) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if cap(s.scratch) < frames*2 {
		s.scratch = make([]int16, frames*2)
	}
	buf := s.scratch[:frames*2]
	got := s.m.APU().ReadSamples(buf)
	for i := 0; i < got*2; i++ {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(buf[i]))
	}
	// Pad the rest with silence so playback never stalls.
	for i := got * 4; i < frames*4; i++ {
		p[i] = 0
	}
	return frames * 4, nil
}
