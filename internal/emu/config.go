package emu

import "io"

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace     bool      // log executed instructions
	SerialOut io.Writer // sink for serial port bytes (test ROMs report here)
}
