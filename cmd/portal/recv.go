package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/go-portal/portal/internal/peer"
	"github.com/go-portal/portal/internal/portalerr"
	"github.com/go-portal/portal/internal/transfer"
	"github.com/spf13/cobra"
)

func recvCmd() *cobra.Command {
	var (
		configPath   string
		channelID    string
		password     string
		relayAddr    string
		transport    string
		downloadRoot string
		overwrite    bool
		yes          bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Receive files offered by a Sender",
		Long: `Recv joins a channel a Sender already started, reviews the advertised
manifest, and — once accepted — downloads every file into the configured
download root.

Examples:
  # Join a channel, typing the password when prompted
  portal recv --channel swift-falcon

  # Accept automatically without the interactive confirm prompt
  portal recv --channel swift-falcon --password correct-horse --yes`,
		Args: cobra.NoArgs,
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
			if downloadRoot != "" {
				cfg.DownloadRoot = downloadRoot
			}
			if overwrite {
				cfg.Overwrite = true
			}

			if channelID == "" {
				if err := huh.NewInput().
					Title("Channel ID").
					Value(&channelID).
					Run(); err != nil {
					return portalerr.New(portalerr.Io, err)
				}
			}

			pwBytes := []byte(password)
			if len(pwBytes) == 0 {
				pwBytes, err = readPasswordInteractive("Password: ")
				if err != nil {
					return portalerr.New(portalerr.Io, err)
				}
			}

			fmt.Println(styleHeading.Render("Portal recv"))
			fmt.Printf("  channel: %s\n", channelID)
			fmt.Printf("  into:    %s\n", cfg.DownloadRoot)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			conn, err := dialRelay(ctx, cfg.Relay)
			if err != nil {
				return portalerr.New(portalerr.Io, err)
			}
			defer conn.Close()

			receiver := peer.NewReceiver()
			confirmFn := func(files []peer.ManifestEntry) bool {
				return confirmManifest(files, yes)
			}
			progressFn := newProgressReporter(quiet)

			err = receiver.RecvFiles(conn, channelID, pwBytes, cfg.DownloadRoot, confirmFn, progressFn, transfer.WriteOptions{
				Overwrite: cfg.Overwrite,
			})
			if !quiet {
				fmt.Println()
			}
			if err != nil {
				if pe, ok := err.(*portalerr.Error); ok && pe.Kind == portalerr.PeerDeclined {
					fmt.Println(styleWarn.Render("Transfer declined."))
					return err
				}
				fmt.Println(styleErr.Render("recv failed: " + err.Error()))
				return err
			}
			fmt.Println(styleOK.Render("Transfer complete."))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to client config file")
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel ID to join")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "Relay address (overrides config)")
	cmd.Flags().StringVar(&transport, "transport", "", "Relay transport: tcp, ws, or quic (overrides config)")
	cmd.Flags().StringVar(&downloadRoot, "download-root", "", "Directory to download into (overrides config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Allow overwriting existing files")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the interactive accept/decline prompt")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

// confirmManifest prints the advertised files and, unless autoAccept is
// set, prompts the user to accept or decline via huh.Confirm.
func confirmManifest(files []peer.ManifestEntry, autoAccept bool) bool {
	var total int64
	fmt.Println(styleHeading.Render(fmt.Sprintf("Sender offers %d file(s):", len(files))))
	for _, f := range files {
		fmt.Printf("  %-40s %s\n", f.Path, humanize.Bytes(uint64(f.PlaintextSize)))
		total += f.PlaintextSize
	}
	fmt.Printf("  total: %s\n", humanize.Bytes(uint64(total)))

	if autoAccept {
		return true
	}

	accept := true
	err := huh.NewConfirm().
		Title("Accept this transfer?").
		Affirmative("Yes").
		Negative("No").
		Value(&accept).
		Run()
	if err != nil {
		return false
	}
	return accept
}
