package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/wrale/mcp-oauth/internal/oauth"
	"github.com/wrale/mcp-oauth/internal/toolgate"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcp-oauth",
		Short: "OAuth sign-in and token management for MCP tools",
		Long: `mcp-oauth runs the OAuth 2.0 authorization code flow with PKCE against the
providers listed in $MCP_OAUTH_PROVIDERS_FILE, stores the tokens encrypted
under ~/.mcp-oauth, and refreshes them when they expire.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLoginCmd(),
		newStatusCmd(),
		newLogoutCmd(),
		newServeCmd(),
	)
	return root
}

// withApp builds the app for one command run and always tears it down
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()
	return fn(ctx, a)
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Sign in to a provider in the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tok, err := a.manager.Authenticate(ctx, args[0])
				if err != nil {
					return err
				}
				printLogin(cmd.OutOrStdout(), args[0], tok)
				return nil
			})
		},
	}
}

func printLogin(w io.Writer, provider string, tok *oauth.Token) {
	fmt.Fprintf(w, "Authenticated with %s\n", provider)
	if exp := tok.Expiry(); !exp.IsZero() {
		fmt.Fprintf(w, "Token expires at %s\n", exp.Local().Format(time.RFC1123))
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [provider]",
		Short: "Show sign-in state for one or all providers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				providers := a.manager.Providers()
				if len(args) == 1 {
					providers = args
				}
				views := make([]toolgate.StatusView, 0, len(providers))
				for _, p := range providers {
					st, err := a.manager.AuthenticationStatus(ctx, p)
					if err != nil {
						return err
					}
					views = append(views, toolgate.NewStatusView(st))
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}
				return printStatus(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStatus(w io.Writer, views []toolgate.StatusView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tUSER\tEXPIRES")
	for _, v := range views {
		state := "not authenticated"
		if v.Authenticated {
			state = "authenticated"
		}
		user := "-"
		if v.User != nil && v.User.Username != "" {
			user = v.User.Username
		}
		expires := "-"
		if v.ExpiresAt != "" {
			expires = v.ExpiresAt
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Provider, state, user, expires)
	}
	return tw.Flush()
}

func newLogoutCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout [provider]",
		Short: "Delete stored tokens for a provider, or all with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if all {
					if err := a.manager.ClearAllAuthentications(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Removed all stored tokens")
					return nil
				}
				if err := a.manager.RevokeAuthentication(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove tokens for every provider")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the authentication tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s := newMCPServer(a)
				a.logger.Info("serving MCP over stdio")
				return server.ServeStdio(s)
			})
		},
	}
}

func newMCPServer(a *app) *server.MCPServer {
	s := server.NewMCPServer("mcp-oauth", Version, server.WithToolCapabilities(false))
	s.AddTools(toolgate.AuthTools(a.manager)...)
	return s
}
