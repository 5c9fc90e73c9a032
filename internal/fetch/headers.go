package fetch

import (
	"math/rand"
	"net/http"
)

// Profile is one coherent browser identity. The client-hint headers must
// agree with the User-Agent string or the request is trivially
// fingerprintable as automation.
type Profile struct {
	UserAgent string
	// SecChUA is empty for browsers that do not send client hints
	// (Firefox, Safari).
	SecChUA  string
	Platform string
}

var profiles = []Profile{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		SecChUA:   `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		SecChUA:   `"Not_A Brand";v="24", "Chromium";v="119", "Google Chrome";v="119"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		SecChUA:   `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		Platform:  `"macOS"`,
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0",
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		SecChUA:   `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		Platform:  `"Linux"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		SecChUA:   `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
		SecChUA:   `"Not_A Brand";v="24", "Chromium";v="119", "Microsoft Edge";v="119"`,
		Platform:  `"macOS"`,
	},
}

// referers a request may claim to arrive from. The empty entry is a direct
// navigation, which forces Sec-Fetch-Site: none.
var referers = []string{
	"",
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
}

// RandomProfile picks one browser profile from the pool.
func RandomProfile() Profile {
	return profiles[rand.Intn(len(profiles))]
}

// StealthHeaders builds the header set for a GET that should look like a
// normal browser navigation. Accept-Encoding is left to the transport so
// response bodies arrive transparently decompressed.
func StealthHeaders() http.Header {
	p := RandomProfile()

	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")

	if p.SecChUA != "" {
		h.Set("Sec-Ch-Ua", p.SecChUA)
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		h.Set("Sec-Ch-Ua-Platform", p.Platform)
	}

	if ref := referers[rand.Intn(len(referers))]; ref != "" {
		h.Set("Referer", ref)
		h.Set("Sec-Fetch-Site", "cross-site")
	} else {
		h.Set("Sec-Fetch-Site", "none")
	}

	return h
}
