// Command demonctl is the thin CLI bootstrapper: full CLI flag parsing
// is out of scope for this module, so this stays a minimal subcommand
// dispatcher over the bootstrap canonicalizer/verifier contract rather
// than a flag-package-driven tool.
package main

import (
	"fmt"
	"os"

	"github.com/demon-run/ritual-control/pkg/bootstrap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "canonicalize":
		err = runCanonicalize(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "demonctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: demonctl canonicalize <bundle-path>")
	fmt.Fprintln(os.Stderr, "       demonctl verify <bundle-path> <keys-dir> <key-id> <expected-digest-hex> <signature-b64>")
}

func runCanonicalize(args []string) error {
	if len(args) != 1 {
		usage()
		return fmt.Errorf("canonicalize: expected exactly one argument")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	canonical, err := bootstrap.Canonicalize(raw)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", bootstrap.Digest(canonical), args[0])
	return nil
}

func runVerify(args []string) error {
	if len(args) != 5 {
		usage()
		return fmt.Errorf("verify: expected exactly five arguments")
	}
	bundlePath, keysDir, keyID, expectedDigest, sigB64 := args[0], args[1], args[2], args[3], args[4]

	result, err := bootstrap.Verify(bundlePath, keysDir, keyID, expectedDigest, sigB64)
	if err != nil {
		return err
	}

	fmt.Printf("digest: %s\n", result.DigestHex)
	fmt.Printf("signatureOk: %v\n", result.SignatureOK)
	if result.Reason != bootstrap.ReasonNone {
		fmt.Printf("reason: %s\n", result.Reason)
	}
	if !result.SignatureOK {
		os.Exit(1)
	}
	return nil
}
