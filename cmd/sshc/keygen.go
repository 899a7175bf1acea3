package main

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/websoft9/sshcore/internal/sshcore/keyfile"
)

var keygenFlags struct {
	bits    int
	comment string
	out     string
	ssh1    bool
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair in this client's own key file formats",
	RunE:  runKeygen,
}

func init() {
	f := keygenCmd.Flags()
	f.IntVarP(&keygenFlags.bits, "bits", "b", 2048, "RSA modulus size in bits")
	f.StringVarP(&keygenFlags.comment, "comment", "C", "", "comment embedded in the key file")
	f.StringVarP(&keygenFlags.out, "out", "o", "", "output path (default: ~/.sshc/keys/id_sshc)")
	f.BoolVar(&keygenFlags.ssh1, "ssh1", false, "write the legacy SSH-1 binary format instead of the SSH-2 structured-text format")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	priv, err := rsa.GenerateKey(rand.Reader, keygenFlags.bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	priv.Precompute()

	out := keygenFlags.out
	if out == "" {
		if err := os.MkdirAll(cfg.PrivateKeyDir, 0700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
		out = cfg.PrivateKeyDir + "/id_sshc"
	}

	fmt.Fprint(os.Stderr, "Enter passphrase (empty for no passphrase): ")
	pass1, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if len(pass1) > 0 {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		pass2, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		if string(pass1) != string(pass2) {
			return fmt.Errorf("passphrases do not match")
		}
	}

	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", out, err)
	}
	defer f.Close()

	if keygenFlags.ssh1 {
		err = keyfile.WriteSSH1Key(f, priv, keygenFlags.comment, string(pass1))
	} else {
		err = keyfile.WritePPKKey(f, priv, keygenFlags.comment, string(pass1))
	}
	if err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Key written to %s\n", out)
	return nil
}
