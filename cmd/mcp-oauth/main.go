// Command mcp-oauth signs in to OAuth providers with the authorization code
// flow and PKCE, keeps the resulting tokens on disk, and serves the session
// tools over MCP stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Version is set by the build process
var Version = "dev"

// Exit codes
const (
	exitError        = 1
	exitAuthRequired = 2
	exitAuthFailed   = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, oauth.ErrAuthenticationRequired), errors.Is(err, oauth.ErrNotAuthenticated):
		return exitAuthRequired
	case errors.Is(err, oauth.ErrAuthenticationFailed):
		return exitAuthFailed
	default:
		return exitError
	}
}
