package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/go-portal/portal/internal/config"
	"github.com/go-portal/portal/internal/peer"
	"github.com/go-portal/portal/internal/portalerr"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	styleHeading = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func sendCmd() *cobra.Command {
	var (
		configPath string
		channelID  string
		password   string
		relayAddr  string
		transport  string
		rateLimit  string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "send <paths...>",
		Short: "Send one or more files or directories to a Receiver",
		Long: `Send advertises a manifest of the given files and directories to a
Receiver waiting on the same channel ID, then streams them once the
Receiver accepts.

If --channel or --password are omitted, Portal generates random values
and prints them for you to share with the Receiver out of band.

Examples:
  # Send a single file, let Portal pick channel and password
  portal send ./report.pdf

  # Send a directory with a chosen channel ID
  portal send --channel swift-falcon ./photos/

  # Cap throughput to 1 MiB/s through a non-default relay
  portal send --relay relay.example.com:13265 --rate-limit 1MiB ./video.mp4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(configPath)
			if err != nil {
				return err
			}
			if relayAddr != "" {
				cfg.Relay.Address = relayAddr
			}
			if transport != "" {
				cfg.Relay.Transport = transport
			}

			if channelID == "" {
				channelID, err = generateChannelID()
				if err != nil {
					return portalerr.New(portalerr.Io, err)
				}
			}
			pwBytes, generated, err := resolvePassword(password)
			if err != nil {
				return err
			}

			fmt.Println(styleHeading.Render("Portal send"))
			fmt.Printf("  channel:  %s\n", channelID)
			if generated {
				fmt.Printf("  password: %s  %s\n", string(pwBytes), styleWarn.Render("(share these with the Receiver)"))
			} else {
				fmt.Println("  password: (provided)")
			}

			rateLimitBytes, err := parseRateLimit(rateLimit, cfg.RateLimit.BytesPerSecond)
			if err != nil {
				return portalerr.New(portalerr.Protocol, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			conn, err := dialRelay(ctx, cfg.Relay)
			if err != nil {
				return portalerr.New(portalerr.Io, err)
			}
			defer conn.Close()

			sender := peer.NewSender()
			sender.RateLimitBytesPerSecond = rateLimitBytes
			progressFn := newProgressReporter(quiet)

			err = sender.SendFiles(conn, channelID, pwBytes, args, progressFn)
			if !quiet {
				fmt.Println()
			}
			if err != nil {
				fmt.Println(styleErr.Render("send failed: " + err.Error()))
				return err
			}
			fmt.Println(styleOK.Render("Transfer complete (or declined by the Receiver)."))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to client config file")
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel ID (generated if omitted)")
	cmd.Flags().StringVar(&password, "password", "", "Password (generated if omitted)")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "Relay address (overrides config)")
	cmd.Flags().StringVar(&transport, "transport", "", "Relay transport: tcp, ws, or quic (overrides config)")
	cmd.Flags().StringVar(&rateLimit, "rate-limit", "", "Maximum send speed (e.g. 1MiB)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

// resolvePassword returns either the caller-supplied password or a freshly
// generated one, reporting which via the second return value. Portal
// defaults to generating a password rather than prompting, since the two
// collaborators typically share a single value once and exchange it
// out-of-band (e.g. read aloud) rather than each typing their own secret.
func resolvePassword(explicit string) ([]byte, bool, error) {
	if explicit != "" {
		return []byte(explicit), false, nil
	}
	pw, err := generatePassword()
	if err != nil {
		return nil, false, portalerr.New(portalerr.Io, err)
	}
	return pw, true, nil
}

// readPasswordInteractive prompts on the controlling terminal with input
// hidden, for callers (e.g. recv) that require a password rather than
// generating one.
func readPasswordInteractive(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

func loadClientConfig(path string) (*config.ClientConfig, error) {
	if path == "" {
		return config.DefaultClientConfig(), nil
	}
	return config.LoadClientConfig(path)
}

func parseRateLimit(flagVal string, configured int64) (int64, error) {
	if flagVal == "" {
		return configured, nil
	}
	n, err := humanize.ParseBytes(flagVal)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit %q: %w", flagVal, err)
	}
	return int64(n), nil
}
