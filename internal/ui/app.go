// Package ui is the ebiten front end: it binds the emulator's frame sink,
// key-event source, and audio-sample sink to a host window.
package ui

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/emu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ppu"
)

// Config holds window and audio settings.
type Config struct {
	Scale int
	Title string
	Muted bool
}

// shadePalette maps the four DMG shades to the classic green tint.
var shadePalette = [4][3]byte{
	{0xE0, 0xF8, 0xD0},
	{0x88, 0xC0, 0x70},
	{0x34, 0x68, 0x56},
	{0x08, 0x18, 0x20},
}

// App drives the machine one frame per host tick and renders the result.
type App struct {
	m   *emu.Machine
	cfg Config

	frame  *ebiten.Image
	pixels []byte // RGBA staging buffer

	audioCtx    *audio.Context
	audioPlayer *audio.Player

	err error
}

// NewApp wires the machine to the window, keyboard, and audio device.
func NewApp(m *emu.Machine, cfg Config) (*App, error) {
	if cfg.Scale <= 0 {
		cfg.Scale = 3
	}
	a := &App{
		m:      m,
		cfg:    cfg,
		frame:  ebiten.NewImage(ppu.FrameWidth, ppu.FrameHeight),
		pixels: make([]byte, ppu.FrameWidth*ppu.FrameHeight*4),
	}
	m.SetFrameSink(a)
	m.SetButtonSource(a)

	if !cfg.Muted {
		a.audioCtx = audio.NewContext(sampleRate)
		p, err := a.audioCtx.NewPlayer(&apuStream{m: m})
		if err != nil {
			return nil, err
		}
		a.audioPlayer = p
		a.audioPlayer.Play()
	}
	return a, nil
}

// PushFrame implements emu.FrameSink: shades to RGBA.
func (a *App) PushFrame(fb *[ppu.FrameWidth * ppu.FrameHeight]byte, pal ppu.Palettes) {
	for i, shade := range fb {
		c := shadePalette[shade&3]
		o := i * 4
		a.pixels[o+0] = c[0]
		a.pixels[o+1] = c[1]
		a.pixels[o+2] = c[2]
		a.pixels[o+3] = 0xFF
	}
}

// Poll implements emu.ButtonSource from the keyboard.
func (a *App) Poll() emu.Buttons {
	return emu.Buttons{
		Right:  ebiten.IsKeyPressed(ebiten.KeyRight),
		Left:   ebiten.IsKeyPressed(ebiten.KeyLeft),
		Up:     ebiten.IsKeyPressed(ebiten.KeyUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyDown),
		A:      ebiten.IsKeyPressed(ebiten.KeyZ),
		B:      ebiten.IsKeyPressed(ebiten.KeyX),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
	}
}

// Update advances the machine by one video frame.
func (a *App) Update() error {
	if a.err != nil {
		return a.err
	}
	if err := a.m.StepFrame(); err != nil {
		a.err = err
		return err
	}
	return nil
}

// Draw blits the staged frame.
func (a *App) Draw(screen *ebiten.Image) {
	a.frame.WritePixels(a.pixels)
	screen.DrawImage(a.frame, nil)
}

// Layout requests the native resolution; ebiten scales to the window.
func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) {
	return ppu.FrameWidth, ppu.FrameHeight
}

// Run opens the window and blocks until the game loop ends.
func (a *App) Run() error {
	ebiten.SetWindowSize(ppu.FrameWidth*a.cfg.Scale, ppu.FrameHeight*a.cfg.Scale)
	ebiten.SetWindowTitle(a.cfg.Title)
	return ebiten.RunGame(a)
}
