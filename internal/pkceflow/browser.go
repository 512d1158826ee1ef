package pkceflow

import (
	"os"

	"github.com/pkg/browser"
)

// BrowserOpener launches the user's browser at an authorization URL
type BrowserOpener func(url string) error

func init() {
	// stdout is reserved for the MCP stdio transport
	browser.Stdout = os.Stderr
	browser.Stderr = os.Stderr
}

// OpenSystemBrowser opens url with the platform default browser
func OpenSystemBrowser(url string) error {
	return browser.OpenURL(url)
}
