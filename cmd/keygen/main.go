package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/tjfontaine/mme-broker/internal/auth"
)

func main() {
	peerID := flag.String("peer", "peerB", "peer id the secret is issued to")
	size := flag.Int("bytes", 32, "random bytes in the secret")
	flag.Parse()

	secret, err := generate(*size)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Shared secret: %s\n", secret)
	fmt.Printf("SHA-256 fingerprint: %s\n", auth.HashSecret(secret))
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  peers:\n")
	fmt.Printf("    - id: %s\n", *peerID)
	fmt.Printf("      direction: inbound\n")
	fmt.Printf("      shared_secret: \"%s\"\n", secret)
}

func generate(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("secret must have at least 16 random bytes, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
