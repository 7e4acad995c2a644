package normalizer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeYouTube(t *testing.T) {
	const want = "https://youtube.com/watch?v=dQw4w9WgXcQ"
	cases := []string{
		"https://youtu.be/dQw4w9WgXcQ?t=30",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"HTTPS://WWW.YOUTUBE.COM/watch?v=dQw4w9WgXcQ",
		"http://youtube.com/watch?v=dQw4w9WgXcQ&list=PL123&index=4",
		"https://m.youtube.com/watch?feature=share&v=dQw4w9WgXcQ&utm_source=tw",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ#comments",
		"https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1",
		"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ",
		"https://youtube.com/shorts/dQw4w9WgXcQ",
		"https://youtube.com/v/dQw4w9WgXcQ",
		"https://youtube.com/live/dQw4w9WgXcQ?si=abc",
		"https://youtube.com/attribution_link?v=dQw4w9WgXcQ",
		"  https://youtu.be/dQw4w9WgXcQ  ",
	}
	for _, raw := range cases {
		got := Normalize(raw)
		assert.Equal(t, Result{Canonical: want, Kind: KindYouTube}, got, raw)
	}
}

func TestNormalizeYouTubeWithoutValidIDIsInvalid(t *testing.T) {
	for _, raw := range []string{
		"https://youtu.be/",
		"https://youtube.com/watch?v=short",
		"https://www.youtube.com/embed/has$bad!chars",
		"https://www.youtube.com/",
	} {
		assert.Equal(t, KindInvalid, Normalize(raw).Kind, raw)
	}
}

func TestNormalizeWeb(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://WWW.Example.com/path/?b=2&a=1&utm_source=x", "https://example.com/path?a=1&b=2"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"HTTP://Example.COM:80/a//", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"https://user:pw@example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?fbclid=1&gclid=2&ref=hn&q=go&UTM_Campaign=z", "https://example.com/a?q=go"},
		{"https://example.com/Case/Sensitive", "https://example.com/Case/Sensitive"},
		{"https://example.com/a%2Fb/", "https://example.com/a%2Fb"},
		{"https://example.com/p?b=2;x&a=1;y&utm_source=z", "https://example.com/p?a=1;y&b=2;x"},
		{"https://example.com/p?q=100%", "https://example.com/p?q=100%"},
	}
	for _, tc := range cases {
		got := Normalize(tc.in)
		assert.Equal(t, KindWeb, got.Kind, tc.in)
		assert.Equal(t, tc.want, got.Canonical, tc.in)
	}
}

func TestNormalizeWebKeepsDistinctResourcesApart(t *testing.T) {
	pairs := [][2]string{
		{"https://example.com/p?a=1;b=2", "https://example.com/p?a=9;b=9"},
		{"https://example.com/p?q=100%", "https://example.com/p?q=50%"},
		{"https://example.com/a%2Fb", "https://example.com/a/b"},
	}
	for _, p := range pairs {
		a, b := Normalize(p[0]), Normalize(p[1])
		require.Equal(t, KindWeb, a.Kind, p[0])
		require.Equal(t, KindWeb, b.Kind, p[1])
		assert.NotEqual(t, a.Canonical, b.Canonical, "%s vs %s", p[0], p[1])
	}
}

func TestNormalizeWebIsDeterministic(t *testing.T) {
	variants := []string{
		"https://example.com/docs/intro?lang=en&v=2",
		"https://www.example.com/docs/intro/?v=2&lang=en",
		"https://EXAMPLE.com/docs/intro?utm_medium=mail&v=2&lang=en#top",
	}
	first := Normalize(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, first, Normalize(v), v)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	for _, raw := range []string{
		"not a url",
		"",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"https://",
		"http://[::1",
	} {
		got := Normalize(raw)
		assert.Equal(t, KindInvalid, got.Kind, raw)
		assert.Empty(t, got.Canonical, raw)
	}
}

func TestResultJSON(t *testing.T) {
	b, err := json.Marshal(Normalize("not a url"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"normalized":null,"type":"invalid"}`, string(b))

	b, err = json.Marshal(Normalize("https://youtu.be/dQw4w9WgXcQ?t=30"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"normalized":"https://youtube.com/watch?v=dQw4w9WgXcQ","type":"youtube"}`, string(b))
}

func TestIsSupportedScheme(t *testing.T) {
	assert.True(t, IsSupportedScheme("http://a.b"))
	assert.True(t, IsSupportedScheme("HTTPS://a.b"))
	assert.False(t, IsSupportedScheme("mailto:x@y.z"))
	assert.False(t, IsSupportedScheme("example.com"))
}

func TestContentHash(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, want, ContentHash([]byte("abc")))
	assert.Equal(t, want, ContentHashString("abc"))

	got, err := HashReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "url:"+ContentHashString("https://example.com/"), DedupKey("https://example.com/", "ff"))
	assert.Equal(t, DedupKey(Normalize("https://www.example.com").Canonical, ""), DedupKey(Normalize("https://example.com/").Canonical, ""))
	assert.Equal(t, "hash:ff", DedupKey("", "ff"))
}
