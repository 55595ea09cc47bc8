package forge

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// SourceKey returns the identifier used to detect repeated generation requests
// for the same underlying source. YouTube links collapse to the video id so
// that youtu.be, watch, shorts and embed forms share a key.
func SourceKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if id := YouTubeVideoID(raw); id != "" {
		return "youtube:" + id
	}
	return "url:" + NormalizeURL(raw)
}

// TopicSourceKey builds the key for topic-only requests from a digest of the
// normalized topic text.
func TopicSourceKey(h Hasher, topic string) (string, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(topic), " "))
	sum, err := h.Hash([]byte(normalized))
	if err != nil {
		return "", err
	}
	return "topic:" + sum, nil
}

// YouTubeVideoID extracts the video id from common YouTube URL shapes.
func YouTubeVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var candidate string
	switch host {
	case "youtu.be":
		candidate = firstSegment(u.Path)
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) == 2 {
			switch segments[0] {
			case "shorts", "embed", "live", "v":
				candidate = segments[1]
			}
		}
	}
	if youtubeID.MatchString(candidate) {
		return candidate
	}
	return ""
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// NormalizeURL lowercases scheme and host, drops the fragment and trims a
// trailing slash from non-root paths. The query is kept. Unparseable input is
// returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// HasBlockedTLD reports whether rawURL's host ends in one of tlds
// (for example ".ru").
func HasBlockedTLD(rawURL string, tlds []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	for _, tld := range tlds {
		tld = strings.ToLower(strings.TrimSpace(tld))
		if tld == "" {
			continue
		}
		if !strings.HasPrefix(tld, ".") {
			tld = "." + tld
		}
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return false
}
