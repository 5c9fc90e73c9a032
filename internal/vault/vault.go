package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "webdog"

// knownAccounts is the list of accounts checked by List().
var knownAccounts = []string{"telegram"}

// legacyEnvKeys maps accounts to bare environment variables honored for
// backward compatibility with older deployments.
var legacyEnvKeys = map[string]string{
	"telegram": "TELEGRAM_TOKEN",
}

// Vault provides secure credential storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a credential for the given account in the OS keychain.
func (v *Vault) Set(account, secret string) error {
	return keyring.Set(serviceName, account, secret)
}

// Get retrieves the credential for the given account. It first checks the
// OS keychain, then falls back to the environment variable
// WEBDOG_TOKEN_{UPPER(account)}, then to the account's legacy variable
// (TELEGRAM_TOKEN for the bot) if one exists.
func (v *Vault) Get(account string) (string, error) {
	secret, err := keyring.Get(serviceName, account)
	if err == nil && secret != "" {
		return secret, nil
	}

	// Fallback to environment variables.
	envKey := "WEBDOG_TOKEN_" + strings.ToUpper(account)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if legacy, ok := legacyEnvKeys[account]; ok {
		if val := os.Getenv(legacy); val != "" {
			return val, nil
		}
	}

	return "", fmt.Errorf("no credential found for %q: not in keychain and %s not set", account, envKey)
}

// Delete removes the credential for the given account from the OS keychain.
func (v *Vault) Delete(account string) error {
	return keyring.Delete(serviceName, account)
}

// List returns the names of known accounts that currently have credentials
// stored. It checks both the keychain and environment variables.
func (v *Vault) List() ([]string, error) {
	var accounts []string

	for _, account := range knownAccounts {
		// Check keychain.
		secret, err := keyring.Get(serviceName, account)
		if err == nil && secret != "" {
			accounts = append(accounts, account)
			continue
		}

		// Check environment variables.
		envKey := "WEBDOG_TOKEN_" + strings.ToUpper(account)
		if val := os.Getenv(envKey); val != "" {
			accounts = append(accounts, account)
			continue
		}
		if legacy, ok := legacyEnvKeys[account]; ok {
			if val := os.Getenv(legacy); val != "" {
				accounts = append(accounts, account)
			}
		}
	}

	return accounts, nil
}

// ResolveRef parses a credential reference and retrieves the corresponding
// secret. Supported formats:
//   - "keyring://webdog/<account>" (preferred)
//   - "keyring" (shorthand for keyring://webdog/telegram)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/secret" (plain-text file)
func (v *Vault) ResolveRef(ref string) (string, error) {
	// Shorthand: "keyring" resolves the default bot account.
	if ref == "keyring" {
		return v.Get("telegram")
	}

	// Format 1: keyring://webdog/<account>
	if strings.HasPrefix(ref, "keyring://") {
		path := strings.TrimPrefix(ref, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid credential reference format: %q (expected \"keyring://webdog/<account>\")", ref)
		}
		return v.Get(parts[1])
	}

	// Format 2: env:VARIABLE_NAME
	if strings.HasPrefix(ref, "env:") {
		envVar := strings.TrimPrefix(ref, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	// Format 3: file:///path/to/secret
	if strings.HasPrefix(ref, "file://") {
		filePath := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading credential file %q: %w", filePath, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("credential file %q is empty", filePath)
		}
		return secret, nil
	}

	return "", fmt.Errorf("invalid credential reference format: %q (expected \"keyring://webdog/<account>\", \"env:VARIABLE_NAME\", or \"file:///path/to/secret\")", ref)
}
