// Package surface provides the interactive pages a sign-in session drives:
// a loopback listener that receives the provider's redirect in the system
// browser, and an out-of-band prompt for providers that display a verifier.
package surface

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/basecamp/oauth1-cli/internal/signin"
)

// Navigator is the part of a sign-in session a surface reports to.
type Navigator interface {
	HandleNavigation(rawURL string) signin.Decision
	SubmitVerifier(verifier string) bool
	Cancel()
}

// BrowserOpener opens a URL outside the process.
type BrowserOpener func(rawURL string) error

// OpenBrowser opens the specified URL in the default browser.
func OpenBrowser(rawURL string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{rawURL}
	case "linux":
		cmd = "xdg-open"
		args = []string{rawURL}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", rawURL}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start() //nolint:gosec,noctx // G204: cmd is hardcoded per-platform; fire-and-forget
}

// present shows the authorize URL to the user, opening it in the browser
// unless noBrowser is set.
func present(w io.Writer, rawURL string, noBrowser bool, open BrowserOpener) {
	if noBrowser || open == nil {
		fmt.Fprintf(w, "\nOpen this URL in your browser:\n%s\n\nWaiting for authorization...\n", rawURL)
		return
	}
	if err := open(rawURL); err != nil {
		fmt.Fprintf(w, "\nCouldn't open browser automatically.\nOpen this URL in your browser:\n%s\n\nWaiting for authorization...\n", rawURL)
		return
	}
	fmt.Fprintln(w, "\nOpening browser for authorization...")
	fmt.Fprintf(w, "If the browser doesn't open, visit: %s\n\nWaiting for authorization...\n", rawURL)
}
