// Package led drives a board LED as the camera's tally light: solid while
// producer frames are relayed, blinking while consumers watch a placeholder,
// dark when nobody is watching.
package led

// Patterns understood by every Controller.
const (
	PatternSolid = "solid"
	PatternBlink = "blink"
	PatternOff   = "off"
)

// Controller abstracts LED hardware control across SBC boards.
type Controller interface {
	// Set switches the LED named name on or off. pattern is one of the
	// Pattern constants or a raw trigger name; empty keeps the current one.
	Set(name string, enabled bool, pattern string) error

	// Available lists the LED names on this board.
	Available() []string
}
