package fetch

import (
	"strings"
	"testing"
)

func TestStealthHeaders_ProfileCoherence(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := StealthHeaders()
		ua := h.Get("User-Agent")
		ch := h.Get("Sec-Ch-Ua")
		platform := h.Get("Sec-Ch-Ua-Platform")

		switch {
		case strings.Contains(ua, "Windows"):
			if ch != "" && !strings.Contains(platform, "Windows") {
				t.Fatalf("Windows UA with platform %q", platform)
			}
		case strings.Contains(ua, "Macintosh"):
			if ch != "" && !strings.Contains(platform, "macOS") {
				t.Fatalf("Mac UA with platform %q", platform)
			}
		case strings.Contains(ua, "Linux"):
			if ch != "" && !strings.Contains(platform, "Linux") {
				t.Fatalf("Linux UA with platform %q", platform)
			}
		}

		switch {
		case strings.Contains(ua, "Edg"):
			if !strings.Contains(ch, "Microsoft Edge") {
				t.Fatalf("Edge UA with brands %q", ch)
			}
		case strings.Contains(ua, "Chrome"):
			if !strings.Contains(ch, "Google Chrome") {
				t.Fatalf("Chrome UA with brands %q", ch)
			}
		default:
			// Firefox and Safari do not send client hints.
			if ch != "" {
				t.Fatalf("UA %q should not send Sec-Ch-Ua, got %q", ua, ch)
			}
		}
	}
}

func TestStealthHeaders_RefererDrivesFetchSite(t *testing.T) {
	sawDirect := false
	sawReferred := false

	for i := 0; i < 200 && !(sawDirect && sawReferred); i++ {
		h := StealthHeaders()
		if h.Get("Referer") == "" {
			sawDirect = true
			if got := h.Get("Sec-Fetch-Site"); got != "none" {
				t.Fatalf("direct navigation Sec-Fetch-Site: got %q, want none", got)
			}
		} else {
			sawReferred = true
			if got := h.Get("Sec-Fetch-Site"); got != "cross-site" {
				t.Fatalf("referred navigation Sec-Fetch-Site: got %q, want cross-site", got)
			}
		}
	}

	if !sawDirect || !sawReferred {
		t.Error("expected both direct and referred navigations across 200 draws")
	}
}

func TestStealthHeaders_BaseSet(t *testing.T) {
	h := StealthHeaders()

	for _, key := range []string{
		"User-Agent", "Accept", "Accept-Language", "Connection",
		"Upgrade-Insecure-Requests", "Sec-Fetch-Dest", "Sec-Fetch-Mode",
		"Sec-Fetch-Site", "Sec-Fetch-User", "Cache-Control",
	} {
		if h.Get(key) == "" {
			t.Errorf("missing base header %s", key)
		}
	}
	if got := h.Get("Sec-Fetch-Dest"); got != "document" {
		t.Errorf("Sec-Fetch-Dest: got %q", got)
	}
	if got := h.Get("Sec-Fetch-Mode"); got != "navigate" {
		t.Errorf("Sec-Fetch-Mode: got %q", got)
	}
}

func TestRandomProfile_MobileHintNeverSet(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := StealthHeaders()
		if h.Get("Sec-Ch-Ua") != "" && h.Get("Sec-Ch-Ua-Mobile") != "?0" {
			t.Fatalf("Sec-Ch-Ua-Mobile: got %q, want ?0", h.Get("Sec-Ch-Ua-Mobile"))
		}
	}
}
