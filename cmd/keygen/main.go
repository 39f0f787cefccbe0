package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"docvault/internal/encryption"
)

func main() {
	if err := newRootCmd(rand.Reader).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(random io.Reader) *cobra.Command {
	root := &cobra.Command{
		Use:           "keygen",
		Short:         "Manage the document vault master key",
		SilenceUsage:  true,
	}
	root.AddCommand(newGenerateCmd(random), newVerifyCmd())
	return root
}

func newGenerateCmd(random io.Reader) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a new base64 master key suitable for MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 32 {
				return fmt.Errorf("master key must be at least 32 bytes, got %d", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(random, buf); err != nil {
				return fmt.Errorf("read random: %w", err)
			}
			key := base64.StdEncoding.EncodeToString(buf)
			if _, err := encryption.NewEngineFromBase64(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVarP(&size, "bytes", "b", 32, "number of random bytes")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a master key can wrap and unwrap document keys",
		Long: `Check that a master key is usable.

The key is read from --key, falling back to the MASTER_KEY environment variable.
A fresh document key is wrapped and unwrapped to confirm the round trip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("MASTER_KEY")
			}
			if key == "" {
				return fmt.Errorf("no master key: pass --key or set MASTER_KEY")
			}
			engine, err := encryption.NewEngineFromBase64(key)
			if err != nil {
				return err
			}
			dk, err := engine.GenerateKey()
			if err != nil {
				return err
			}
			wrapped, err := engine.WrapKey(dk)
			if err != nil {
				return err
			}
			got, err := engine.UnwrapKey(wrapped)
			if err != nil {
				return err
			}
			if got != dk {
				return fmt.Errorf("unwrapped key does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "base64 master key (default $MASTER_KEY)")
	return cmd
}
