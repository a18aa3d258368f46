// roomtool is a small operator utility for working with room codes:
// generate a fresh one, validate one, or print the key fingerprint two
// devices can compare to confirm they typed the same code.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"tournamesh/internal/roomkey"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "generate":
		cred, err := roomkey.Generate()
		if err != nil {
			log.Fatalf("generate error: %v", err)
		}
		fmt.Printf("code: %s\nkey fingerprint: %s\n", cred.Code, fingerprint(cred.Key))
	case "validate":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		if roomkey.Validate(os.Args[2]) {
			fmt.Println("valid")
			return
		}
		fmt.Println("invalid: a room code is exactly 6 digits")
		os.Exit(1)
	case "fingerprint":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		cred, err := roomkey.Derive(os.Args[2])
		if err != nil {
			log.Fatalf("derive error: %v", err)
		}
		fmt.Println(fingerprint(cred.Key))
	default:
		usage()
		os.Exit(2)
	}
}

// fingerprint is a short digest of the room key, safe to read aloud.
func fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: roomtool generate | validate <code> | fingerprint <code>")
}
