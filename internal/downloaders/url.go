package downloaders

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

var platformHosts = map[string]models.Platform{
	"instagram.com":     models.PlatformInstagram,
	"www.instagram.com": models.PlatformInstagram,
	"m.instagram.com":   models.PlatformInstagram,
	"instagr.am":        models.PlatformInstagram,
	"www.instagr.am":    models.PlatformInstagram,
	"tiktok.com":        models.PlatformTikTok,
	"www.tiktok.com":    models.PlatformTikTok,
	"m.tiktok.com":      models.PlatformTikTok,
	"vm.tiktok.com":     models.PlatformTikTok,
	"vt.tiktok.com":     models.PlatformTikTok,
}

var (
	schemeURL  = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)
	bareDomain = regexp.MustCompile(`(?i)\b(?:[a-z0-9-]+\.)+[a-z]{2,}/[^\s<>"']*`)
)

// ExtractURL returns the first link in text. A link without a scheme is treated as https.
func ExtractURL(text string) (string, error) {
	full := schemeURL.FindStringIndex(text)
	bare := bareDomain.FindStringIndex(text)
	switch {
	case full != nil && (bare == nil || full[0] <= bare[0]):
		return trimPunctuation(text[full[0]:full[1]]), nil
	case bare != nil:
		return "https://" + trimPunctuation(text[bare[0]:bare[1]]), nil
	}
	return "", apperrors.ErrInvalidURL
}

// Classify maps rawURL to a supported platform by exact hostname match.
func Classify(rawURL string) (models.Platform, error) {
	u, err := parse(rawURL)
	if err != nil {
		return "", err
	}
	platform, ok := platformHosts[strings.ToLower(u.Hostname())]
	if !ok {
		return "", errors.Wrapf(apperrors.ErrUnsupportedURL, "host %q", u.Hostname())
	}
	return platform, nil
}

// Normalize builds the cache key for rawURL: lower-case host without www., no query or fragment,
// no trailing slash.
func Normalize(rawURL string) string {
	u, err := parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return "https://" + host + strings.TrimRight(u.EscapedPath(), "/")
}

func parse(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, errors.Wrapf(apperrors.ErrInvalidURL, "%q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Wrapf(apperrors.ErrInvalidURL, "scheme %q", u.Scheme)
	}
	return u, nil
}

func trimPunctuation(s string) string {
	return strings.TrimRight(s, ".,;:!?)]}")
}
