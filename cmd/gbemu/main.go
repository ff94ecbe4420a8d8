package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/emu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ppu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ui"
)

type cliFlags struct {
	ROMPath string
	BootROM string
	Scale   int
	Title   string
	Trace   bool
	SaveRAM bool
	Muted   bool

	// headless
	Headless bool
	Frames   int
	PNGOut   string
	Expect   string // expected framebuffer CRC32 hex
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gb)")
	flag.StringVar(&f.BootROM, "bootrom", "", "optional DMG boot ROM")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "gbemu", "window title")
	flag.BoolVar(&f.Trace, "trace", false, "CPU trace log")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")
	flag.BoolVar(&f.Muted, "mute", false, "disable audio output")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.StringVar(&f.Expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()
	return f
}

// shadeRGBA matches the windowed palette so headless captures compare.
var shadeRGBA = [4][3]byte{
	{0xE0, 0xF8, 0xD0},
	{0x88, 0xC0, 0x70},
	{0x34, 0x68, 0x56},
	{0x08, 0x18, 0x20},
}

func framebufferRGBA(fb *[ppu.FrameWidth * ppu.FrameHeight]byte) []byte {
	out := make([]byte, len(fb)*4)
	for i, shade := range fb {
		c := shadeRGBA[shade&3]
		out[i*4+0] = c[0]
		out[i*4+1] = c[1]
		out[i*4+2] = c[2]
		out[i*4+3] = 0xFF
	}
	return out
}

func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := m.StepFrame(); err != nil {
			return err
		}
	}
	dur := time.Since(start)

	pix := framebufferRGBA(m.Framebuffer())
	crc := crc32.ChecksumIEEE(pix)
	fps := float64(frames) / dur.Seconds()

	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(pix, ppu.FrameWidth, ppu.FrameHeight, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(f.ROMPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}

	m, err := emu.New(rom, emu.Config{Trace: f.Trace})
	if err != nil {
		log.Fatalf("load cartridge: %v", err)
	}
	h := m.Header()
	log.Printf("loaded %q (%s, %d KiB ROM, %d KiB RAM)",
		h.Title, h.Hardware.Kind, h.ROMSizeBytes/1024, h.RAMSizeBytes/1024)

	if f.BootROM != "" {
		boot, err := os.ReadFile(f.BootROM)
		if err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
		m.UseBootROM(boot)
	}

	savePath := f.ROMPath + ".sav"
	if f.SaveRAM {
		if data, err := os.ReadFile(savePath); err == nil {
			m.LoadRAM(data)
			log.Printf("loaded battery RAM from %s", savePath)
		}
	}

	if f.Headless {
		if err := runHeadless(m, f.Frames, f.PNGOut, f.Expect); err != nil {
			log.Fatal(err)
		}
	} else {
		app, err := ui.NewApp(m, ui.Config{Scale: f.Scale, Title: f.Title, Muted: f.Muted})
		if err != nil {
			log.Fatalf("init window: %v", err)
		}
		if err := app.Run(); err != nil {
			log.Printf("stopped: %v", err)
		}
	}

	if f.SaveRAM {
		if data := m.SaveRAM(); len(data) > 0 {
			if err := os.WriteFile(savePath, data, 0o644); err != nil {
				log.Printf("write battery RAM: %v", err)
			} else {
				log.Printf("saved battery RAM to %s", savePath)
			}
		}
	}
}
