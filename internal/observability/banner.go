package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

const banner = `
 _   _ _ _        _           _
| | | (_) |_ ___ | |__   ___ | |_
| |_| | | __/ _ \| '_ \ / _ \| __|
|  _  | | || (_) | |_) | (_) | |_
|_| |_|_|\__\___/|_.__/ \___/ \__|

   >> SEGUIMIENTO DE HITOS DE CONTRATACIÓN <<
`

// PrintBanner writes the startup banner centred on the terminal. Nothing is
// printed when stdout is not a terminal.
func PrintBanner(w io.Writer) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len([]rune(l))) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}
