package upstream

import (
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keithah/gvoice-rest-api/internal/models"
)

// SAPISIDHash derives the time-bound Authorization header value from the
// SAPISID identity cookie. The hash binds the current timestamp, so it must
// be regenerated per request, never cached.
func SAPISIDHash(sapisid string, now time.Time) string {
	timestamp := now.Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("%d %s %s", timestamp, sapisid, Origin)))
	return fmt.Sprintf("SAPISIDHASH %d_%x", timestamp, sum)
}

// clientDetails is the X-ClientDetails query-encoded value.
func clientDetails() string {
	v := url.Values{}
	v.Set("appVersion", "5.0 (X11)")
	v.Set("platform", "Linux x86_64")
	v.Set("userAgent", UserAgent)
	return v.Encode()
}

// PrepareHeaders builds the per-domain header set for an upstream request.
// The full current cookie map is always attached; the authorization hash is
// attached whenever the identity cookie is present.
func PrepareHeaders(rawURL string, contentType string, cred *models.SessionCredential, authUser string) http.Header {
	h := http.Header{}
	h.Set("Sec-Ch-Ua", ChUserAgent)
	h.Set("Sec-Ch-Ua-Platform", ChPlatform)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("User-Agent", UserAgent)
	h.Set("X-Goog-AuthUser", authUser)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	if strings.Contains(rawURL, UploadDomain) {
		h.Set("Origin", "https://"+UploadDomain)
		h.Set("Referer", "https://"+UploadDomain+"/")
	} else {
		h.Set("Origin", Origin)
		h.Set("Referer", Origin+"/")
	}

	if strings.Contains(rawURL, APIDomain) && !strings.Contains(rawURL, WaaDomain) && !strings.Contains(rawURL, ContactsDomain) && !strings.Contains(rawURL, RealtimeDomain) {
		h.Set("X-Client-Version", ClientVersion)
		h.Set("X-ClientDetails", clientDetails())
		h.Set("X-JavaScript-User-Agent", JavaScriptUserAgent)
		h.Set("X-Requested-With", "XMLHttpRequest")
		h.Set("X-Goog-Encode-Response-If-Executable", "base64")
	}

	if strings.Contains(rawURL, ContactsDomain) {
		h.Set("X-Goog-Api-Key", APIKey)
		h.Set("X-Goog-Encode-Response-If-Executable", "base64")
	}

	if strings.Contains(rawURL, WaaDomain) {
		h.Set("X-Goog-Api-Key", WaaAPIKey)
		h.Set("X-User-Agent", WaaXUserAgent)
	}

	if strings.Contains(rawURL, APIDomain) && strings.HasPrefix(rawURL, "https://") {
		h.Set("Sec-Fetch-Site", "same-site")
	} else {
		h.Set("Sec-Fetch-Site", "same-origin")
	}

	if contentType != "" {
		h.Set("Content-Type", contentType)
	}

	if cred != nil {
		if sapisid, ok := cred.Cookies["SAPISID"]; ok {
			h.Set("Authorization", SAPISIDHash(sapisid, time.Now()))
		}
		if len(cred.Cookies) > 0 {
			h.Set("Cookie", cred.CookieHeader())
		}
	}

	return h
}
