// cpurunner executes serial-reporting test ROMs (blargg and friends)
// without a window, watching the serial stream for pass/fail markers.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/emu"
)

// writerFunc adapts a function to io.Writer.
type writerFunc func(p []byte) (n int, err error)

func (f writerFunc) Write(p []byte) (n int, err error) { return f(p) }

// traceEntry is one slot of the recent-instruction ring printed on failure.
type traceEntry struct {
	pc                     uint16
	op                     byte
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
	ifreg, ie              byte
}

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb)")
	bootPath := flag.String("bootrom", "", "optional DMG boot ROM to run from 0x0000")
	steps := flag.Int("steps", 5_000_000, "max CPU steps to run")
	trace := flag.Bool("trace", false, "print PC/opcodes")
	until := flag.String("until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	auto := flag.Bool("auto", false, "auto-detect 'Passed' or 'Failed N tests' in serial output and exit with code 0/1")
	timeout := flag.Duration("timeout", 0, "optional wall-clock timeout (e.g. 30s, 2m); 0 disables")
	traceOnFail := flag.Bool("traceOnFail", false, "when -auto detects failure, print a recent trace window")
	traceWindow := flag.Int("traceWindow", 200, "instructions to keep for -traceOnFail")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}

	var ser bytes.Buffer
	w := io.Writer(os.Stdout)
	if *until != "" || *auto {
		w = io.MultiWriter(os.Stdout, &ser)
	}

	m, err := emu.New(rom, emu.Config{SerialOut: w})
	if err != nil {
		log.Fatalf("load cartridge: %v", err)
	}
	if *bootPath != "" {
		boot, err := os.ReadFile(*bootPath)
		if err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
		m.UseBootROM(boot)
	}

	start := time.Now()
	var deadline time.Time
	if *timeout > 0 {
		deadline = start.Add(*timeout)
	}
	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)

	ring := make([]traceEntry, *traceWindow)
	ringIdx, ringFill := 0, 0
	dumpRing := func() {
		n := ringFill
		idx := (ringIdx - n + len(ring)) % len(ring)
		for i := 0; i < n; i++ {
			e := ring[idx]
			fmt.Printf("  PC=%04X op=%02X AF=%02X%02X BC=%02X%02X DE=%02X%02X HL=%02X%02X SP=%04X IME=%v IF=%02X IE=%02X\n",
				e.pc, e.op, e.a, e.f, e.b, e.c, e.d, e.e, e.h, e.l, e.sp, e.ime, e.ifreg, e.ie)
			idx = (idx + 1) % len(ring)
		}
	}

	c := m.CPU()
	b := m.Bus()
	for i := 0; i < *steps; i++ {
		if *trace || *traceOnFail {
			e := traceEntry{
				pc: c.PC, op: b.Read(c.PC),
				a: c.A, f: c.F, b: c.B, c: c.C, d: c.D, e: c.E, h: c.H, l: c.L,
				sp: c.SP, ime: c.IME, ifreg: b.IF(), ie: b.IE(),
			}
			if *trace {
				fmt.Printf("PC=%04X op=%02X AF=%04X BC=%04X DE=%04X HL=%04X SP=%04X\n",
					e.pc, e.op, c.AF(), c.BC(), c.DE(), c.HL(), c.SP)
			}
			ring[ringIdx] = e
			ringIdx = (ringIdx + 1) % len(ring)
			if ringFill < len(ring) {
				ringFill++
			}
		}

		if _, err := m.Step(); err != nil {
			log.Printf("simulation stopped: %v", err)
			if *traceOnFail {
				dumpRing()
			}
			os.Exit(1)
		}

		// Check the serial stream periodically, not per instruction.
		if i%4096 != 0 {
			continue
		}
		out := ser.String()
		if *auto {
			if strings.Contains(strings.ToLower(out), "passed") {
				fmt.Printf("\nPASS after %d steps (%s)\n", i, time.Since(start).Truncate(time.Millisecond))
				os.Exit(0)
			}
			if mfail := failRe.FindStringSubmatch(out); mfail != nil || strings.Contains(strings.ToLower(out), "failed") {
				fmt.Printf("\nFAIL after %d steps (%s)\n", i, time.Since(start).Truncate(time.Millisecond))
				if *traceOnFail {
					dumpRing()
				}
				os.Exit(1)
			}
		} else if *until != "" && strings.Contains(strings.ToLower(out), strings.ToLower(*until)) {
			fmt.Printf("\nmatched %q after %d steps (%s)\n", *until, i, time.Since(start).Truncate(time.Millisecond))
			os.Exit(0)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\ntimeout after %d steps\n", i)
			os.Exit(2)
		}
	}
	fmt.Printf("\nstep limit reached (%d)\n", *steps)
	os.Exit(2)
}
