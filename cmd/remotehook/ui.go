package main

import (
	"fmt"
	"strings"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
)

func (s *session) paint(color, text string) string {
	if !s.color {
		return text
	}
	return color + text + ColorReset
}

func (s *session) LogError(msg string, a ...interface{}) {
	fmt.Fprintf(s.out, "%s %s\n", s.paint(ColorRed, "[ERROR]"), fmt.Sprintf(msg, a...))
}

// Printf highlights the formatted operands on a terminal.
func (s *session) Printf(msg string, a ...interface{}) {
	if s.color {
		msg = strings.ReplaceAll(msg, "%d", ColorCyan+"%d"+ColorReset)
		msg = strings.ReplaceAll(msg, "0x%x", ColorCyan+"0x%x"+ColorReset)
		msg = strings.ReplaceAll(msg, "%s", ColorGreen+"%s"+ColorReset)
	}
	fmt.Fprintf(s.out, msg, a...)
}

func (s *session) hexdump(address uintptr, data []byte) {
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		line := data[i:end]
		var hex, ascii strings.Builder
		for j := 0; j < 16; j++ {
			if j < len(line) {
				fmt.Fprintf(&hex, "%02x ", line[j])
			} else {
				hex.WriteString("   ")
			}
		}
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(s.out, "%s: %s %s\n", s.paint(ColorBlue, fmt.Sprintf("0x%016x", address+uintptr(i))), hex.String(), ascii.String())
	}
}
