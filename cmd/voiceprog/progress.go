package main

import (
	"fmt"
	"io"
	"time"

	"github.com/moffa90/go-voiceprog/programmer"
)

// newProgressPrinter prints one line per phase change and a running
// percentage within each phase.
func newProgressPrinter(w io.Writer) programmer.ProgressCallback {
	var last string
	return func(p programmer.Progress) {
		switch p.Phase {
		case programmer.PhaseComplete:
			_, _ = fmt.Fprintf(w, "\rdone: %d bytes in %s\n", p.BytesWritten, p.ElapsedTime.Round(time.Millisecond))
			return
		case programmer.PhaseConnecting, programmer.PhaseConfig:
			_, _ = fmt.Fprintf(w, "%s...\n", p.Phase)
			last = p.Phase
			return
		}

		if p.Phase != last {
			if last == programmer.PhaseFirmware || last == programmer.PhaseErasing || last == programmer.PhaseVoice {
				_, _ = fmt.Fprintln(w)
			}
			last = p.Phase
		}
		_, _ = fmt.Fprintf(w, "\r%-8s %3.0f%% (%d/%d)", p.Phase, p.Percentage, p.Current, p.Total)
	}
}
