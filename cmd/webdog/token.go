package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/webdog/internal/vault"
)

// botAccount is the vault account holding the Telegram bot token.
const botAccount = "telegram"

func cmdToken(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: webdog token <set|show|delete>")
		os.Exit(1)
	}

	switch args[0] {
	case "set":
		if err := storeToken(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

	case "show":
		token, err := vault.New().Get(botAccount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no token stored: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  telegram: %s\n", maskToken(token))

	case "delete":
		if err := vault.New().Delete(botAccount); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Telegram token deleted")

	default:
		fmt.Fprintf(os.Stderr, "unknown token command: %s\n", args[0])
		os.Exit(1)
	}
}

// storeToken prompts for the bot token without echoing it and saves it in
// the system keyring. Shared by the token command and the setup wizard.
func storeToken() error {
	fmt.Print("Enter Telegram bot token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("empty token")
	}

	if err := vault.New().Set(botAccount, token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	fmt.Println("Telegram token stored successfully")
	return nil
}

// maskToken keeps the public bot ID prefix visible and hides the secret
// part. Bot tokens have the form "<botid>:<secret>".
func maskToken(token string) string {
	if id, _, ok := strings.Cut(token, ":"); ok {
		return id + ":****"
	}
	return "****"
}
