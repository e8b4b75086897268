package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// progressUI selects the progress display for compile and batch. It is a
// pflag.Value so a bad --ui fails while the command line is parsed.
type progressUI string

const (
	progressAuto  progressUI = "auto"
	progressTUI   progressUI = "on"
	progressPlain progressUI = "off"
)

func (p *progressUI) String() string { return string(*p) }

func (p *progressUI) Type() string { return "auto|on|off" }

func (p *progressUI) Set(value string) error {
	switch v := progressUI(strings.ToLower(strings.TrimSpace(value))); v {
	case "":
		*p = progressAuto
	case progressAuto, progressTUI, progressPlain:
		*p = v
	default:
		return fmt.Errorf("expected auto, on or off")
	}
	return nil
}

// addProgressFlag registers --ui on fs, defaulting to auto.
func addProgressFlag(fs *pflag.FlagSet) {
	mode := progressAuto
	fs.Var(&mode, "ui", "progress UI (auto|on|off)")
}

// progressFlag reads --ui back from fs.
func progressFlag(fs *pflag.FlagSet) progressUI {
	if f := fs.Lookup("ui"); f != nil {
		if p, ok := f.Value.(*progressUI); ok {
			return *p
		}
	}
	return progressAuto
}

// interactive reports whether the live display should draw on out. In auto
// mode that needs a terminal that can move the cursor.
func (p progressUI) interactive(out io.Writer) bool {
	switch p {
	case progressTUI:
		return true
	case progressPlain:
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal(out)
}
