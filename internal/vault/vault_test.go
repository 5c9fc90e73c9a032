package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRef_EnvFormat(t *testing.T) {
	v := New()

	const envVar = "TEST_WEBDOG_VAULT_TOKEN"
	const expected = "123456:test-bot-token"

	t.Setenv(envVar, expected)

	got, err := v.ResolveRef("env:" + envVar)
	if err != nil {
		t.Fatalf("ResolveRef(env:): %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolveRef_EnvFormat_Unset(t *testing.T) {
	v := New()

	os.Unsetenv("NONEXISTENT_TOKEN_VAR")

	_, err := v.ResolveRef("env:NONEXISTENT_TOKEN_VAR")
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestResolveRef_InvalidFormat(t *testing.T) {
	v := New()

	_, err := v.ResolveRef("plaintext:secret")
	if err == nil {
		t.Fatal("expected error for invalid ref format")
	}
}

func TestResolveRef_KeyringBadFormat(t *testing.T) {
	v := New()

	// Missing service/account structure.
	_, err := v.ResolveRef("keyring://badformat")
	if err == nil {
		t.Fatal("expected error for malformed keyring ref")
	}
}

func TestResolveRef_KeyringWrongService(t *testing.T) {
	v := New()

	_, err := v.ResolveRef("keyring://other-service/telegram")
	if err == nil {
		t.Fatal("expected error for wrong service name")
	}
}

func TestResolveRef_EmptyAccount(t *testing.T) {
	v := New()

	_, err := v.ResolveRef("keyring://webdog/")
	if err == nil {
		t.Fatal("expected error for empty account in keyring ref")
	}
}

func TestGet_EnvFallback(t *testing.T) {
	v := New()

	const envVar = "WEBDOG_TOKEN_TESTACCOUNT"
	const expected = "env-token-value"

	t.Setenv(envVar, expected)

	got, err := v.Get("testaccount")
	if err != nil {
		t.Fatalf("Get with env fallback: %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestGet_LegacyEnvFallback(t *testing.T) {
	v := New()

	const expected = "987654:legacy-token"

	os.Unsetenv("WEBDOG_TOKEN_TELEGRAM")
	t.Setenv("TELEGRAM_TOKEN", expected)

	got, err := v.Get("telegram")
	if err != nil {
		t.Fatalf("Get with legacy env fallback: %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolveRef_KeyringShorthand(t *testing.T) {
	v := New()

	const expected = "111:shorthand-token"

	t.Setenv("WEBDOG_TOKEN_TELEGRAM", expected)

	got, err := v.ResolveRef("keyring")
	if err != nil {
		t.Fatalf("ResolveRef(keyring): %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolveRef_FileFormat(t *testing.T) {
	v := New()

	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "bot-token.txt")
	if err := os.WriteFile(tokenFile, []byte("555:file-secret-token\n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	got, err := v.ResolveRef("file://" + tokenFile)
	if err != nil {
		t.Fatalf("ResolveRef(file://): %v", err)
	}
	if got != "555:file-secret-token" {
		t.Errorf("got %q, want %q", got, "555:file-secret-token")
	}
}

func TestResolveRef_FileFormat_NotFound(t *testing.T) {
	v := New()

	_, err := v.ResolveRef("file:///nonexistent/path/token.txt")
	if err == nil {
		t.Fatal("expected error for missing token file")
	}
}

func TestResolveRef_FileFormat_Empty(t *testing.T) {
	v := New()

	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "empty-token.txt")
	if err := os.WriteFile(tokenFile, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	_, err := v.ResolveRef("file://" + tokenFile)
	if err == nil {
		t.Fatal("expected error for empty token file")
	}
}

func TestGet_NoCredentialFound(t *testing.T) {
	v := New()

	os.Unsetenv("WEBDOG_TOKEN_NOACCOUNT")

	_, err := v.Get("noaccount")
	if err == nil {
		t.Fatal("expected error when no credential found")
	}
}
