package forge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubHasher struct{ seen []byte }

func (h *stubHasher) Hash(data []byte) (string, error) {
	h.seen = append([]byte(nil), data...)
	return "digest", nil
}

func TestSourceKeyCollapsesYouTubeShapes(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/shorts/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"  https://youtu.be/dQw4w9WgXcQ?si=abc  ",
	}
	for _, u := range urls {
		require.Equal(t, "youtube:dQw4w9WgXcQ", SourceKey(u), u)
	}
}

func TestSourceKeyNormalizesOtherURLs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "url:https://example.com/video", SourceKey("https://EXAMPLE.com/video/#frag"))
	require.Equal(t, "url:https://example.com/", SourceKey("https://example.com"))
	require.Equal(t, "url:not a url", SourceKey("not a url"))
	require.Empty(t, SourceKey("   "))
}

func TestYouTubeVideoIDRejectsUnknownPaths(t *testing.T) {
	t.Parallel()

	require.Empty(t, YouTubeVideoID("https://www.youtube.com/channel/abc"))
	require.Empty(t, YouTubeVideoID("https://vimeo.com/123456"))
	require.Empty(t, YouTubeVideoID("https://www.youtube.com/watch?v=%%%"))
}

func TestTopicSourceKeyHashesNormalizedTopic(t *testing.T) {
	t.Parallel()

	h := &stubHasher{}
	key, err := TopicSourceKey(h, "  Joga   NA Stres ")
	require.NoError(t, err)
	require.Equal(t, "topic:digest", key)
	require.Equal(t, "joga na stres", string(h.seen))
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/a?b=1", NormalizeURL(" HTTPS://Example.COM/a/?b=1#x "))
	require.Equal(t, "https://example.com/", NormalizeURL("https://example.com"))
	require.Equal(t, "relative/path", NormalizeURL("relative/path"))
}

func TestHasBlockedTLD(t *testing.T) {
	t.Parallel()

	tlds := []string{".ru", "su"}
	require.True(t, HasBlockedTLD("https://news.example.RU/x", tlds))
	require.True(t, HasBlockedTLD("http://site.su", tlds))
	require.False(t, HasBlockedTLD("https://russia.example.com", tlds))
	require.False(t, HasBlockedTLD("https://example.com/page.ru", tlds))
}
