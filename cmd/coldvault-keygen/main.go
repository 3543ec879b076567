// Command coldvault-keygen generates and inspects the master-secret
// keystore files used by keyfile-mode coldvault repositories.
package main

import (
	"crypto/rand"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/coldvault/coldvault/internal/crypto"
)

const keystoreFile = "master.key"

var (
	outputDir    string
	noPassphrase bool
	force        bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("coldvault-keygen - coldvault keyfile management tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coldvault-keygen generate [flags]  - Generate a new master secret")
	fmt.Println("  coldvault-keygen show [flags]      - Display keystore file metadata")
	fmt.Println()
	fmt.Println("Run 'coldvault-keygen <command> -h' for command-specific help")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	fs.StringVar(&outputDir, "output-dir", crypto.GetDefaultKeystorePath(), "Keystore directory")
	fs.BoolVar(&noPassphrase, "no-passphrase", false, "Store the master secret without passphrase protection")
	fs.BoolVar(&force, "force", false, "Overwrite an existing keystore file")
	fs.Parse(args)

	if err := os.MkdirAll(outputDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(outputDir, keystoreFile)

	if !force {
		if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
			fmt.Println("A keystore file already exists there.")
			fmt.Print("Overwrite it? [y/N]: ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Aborted.")
				return
			}
		}
	}

	fmt.Println("Generating a new master secret...")
	fmt.Println()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate master secret: %v\n", err)
		os.Exit(1)
	}

	var passphrase string
	if !noPassphrase {
		fmt.Print("Enter passphrase (leave empty for no encryption): ")
		passphraseBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read passphrase: %v\n", err)
			os.Exit(1)
		}
		passphrase = string(passphraseBytes)

		if passphrase != "" {
			fmt.Print("Confirm passphrase: ")
			confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to read passphrase: %v\n", err)
				os.Exit(1)
			}
			if passphrase != string(confirmBytes) {
				fmt.Fprintln(os.Stderr, "Passphrases do not match.")
				os.Exit(1)
			}
		}
	}

	if err := crypto.SaveMasterSecret(secret, keyPath, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save master secret: %v\n", err)
		os.Exit(1)
	}

	fingerprint := sha256.Sum256(secret)

	fmt.Println("Master secret generated successfully!")
	fmt.Println()
	fmt.Println("Fingerprint:")
	fmt.Printf("  SHA256:%x\n", fingerprint[:8])
	fmt.Println()
	fmt.Println("Keystore stored in:")
	fmt.Printf("  %s\n", keyPath)

	if passphrase == "" {
		fmt.Println()
		fmt.Println("WARNING: keystore stored WITHOUT passphrase protection (insecure)")
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	fs.StringVar(&outputDir, "keys-dir", crypto.GetDefaultKeystorePath(), "Keystore directory")
	fs.Parse(args)

	keyPath := filepath.Join(outputDir, keystoreFile)
	insecurePath := keyPath + ".insecure"

	path := keyPath
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		path = insecurePath
	}

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat keystore file: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'coldvault-keygen generate' first to create one")
		os.Exit(1)
	}

	fmt.Println("Keystore file:")
	fmt.Printf("  %s\n", path)
	fmt.Println()
	fmt.Printf("Passphrase-protected: %v\n", path == keyPath)
	fmt.Printf("Created: %s\n", info.ModTime().Format(time.RFC3339))
	fmt.Printf("Size: %d bytes\n", info.Size())
}
