package sshtransport

import "golang.org/x/crypto/ssh"

// Standard PTY profile used for every interactive shell the broker opens:
// xterm-256color at 80x24 characters, 640x480 pixels.
const (
	DefaultTerm        = "xterm-256color"
	DefaultCols        = 80
	DefaultRows        = 24
	DefaultPixelWidth  = 640
	DefaultPixelHeight = 480
)

// terminalModes is the fixed initial modes map applied to every shell PTY.
var terminalModes = ssh.TerminalModes{
	1: 0, 2: 0, 3: 0, 4: 0, 5: 0, 6: 0, 7: 0, 8: 0, 9: 0, 10: 1, 11: 0,
	30: 0, 31: 1, 32: 0, 33: 1, 34: 1, 35: 0, 36: 1, 37: 0, 38: 1, 39: 0, 40: 1, 41: 0,
	50: 1, 51: 1, 52: 0, 53: 1, 54: 1, 55: 1, 56: 1, 57: 0, 58: 1, 59: 1, 60: 1, 61: 1, 62: 1,
	70: 1, 71: 0, 72: 1, 73: 0, 74: 0, 75: 0,
	90: 19200, 91: 19200,
}
