// Package main provides the CLI entry point for the Portal client: send
// and recv.
package main

import (
	"fmt"
	"os"

	"github.com/go-portal/portal/internal/portalerr"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Portal - peer-to-peer encrypted file transfer",
		Long: `Portal sends files directly between two machines over a relay that
never sees plaintext. A Sender and a Receiver agree on a channel ID and a
password out of band (read it aloud, paste it in chat); Portal does the
rest: PAKE key agreement, authenticated encryption, and chunked transfer.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "transfer", Title: "Transfer:"})

	send := sendCmd()
	send.GroupID = "transfer"
	rootCmd.AddCommand(send)

	recv := recvCmd()
	recv.GroupID = "transfer"
	rootCmd.AddCommand(recv)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "portal:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI's exit code convention: 0 success,
// 1 user/protocol error, 2 crypto failure, 3 I/O failure, 4 user-declined
// transfer.
func exitCodeFor(err error) int {
	var pe *portalerr.Error
	if e, ok := err.(*portalerr.Error); ok {
		pe = e
	} else if e := unwrapPortalErr(err); e != nil {
		pe = e
	}
	if pe == nil {
		return 1
	}
	return pe.Kind.ExitCode()
}

func unwrapPortalErr(err error) *portalerr.Error {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if pe, ok := err.(*portalerr.Error); ok {
			return pe
		}
		u, ok := err.(unwrapper)
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil
}
