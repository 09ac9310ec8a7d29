package proxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testBase = "https://hls.ciphertv.dev/proxy?url="

func TestRewrite(t *testing.T) {
	r := New(testBase, WithTrustedOrigins("https://cdn.trusted.example/"))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "external manifest is proxied",
			in:   "https://ef.netmagcdn.com:2228/hls-playback/abc/master.m3u8",
			want: testBase + url.QueryEscape("https://ef.netmagcdn.com:2228/hls-playback/abc/master.m3u8"),
		},
		{
			name: "query string is escaped",
			in:   "https://cdn.example.com/seg-1.ts?token=a&b=c",
			want: testBase + "https%3A%2F%2Fcdn.example.com%2Fseg-1.ts%3Ftoken%3Da%26b%3Dc",
		},
		{
			name: "same-origin api path untouched",
			in:   "/api/anime/animepahe/naruto",
			want: "/api/anime/animepahe/naruto",
		},
		{
			name: "trusted origin untouched",
			in:   "https://cdn.trusted.example/video/master.m3u8",
			want: "https://cdn.trusted.example/video/master.m3u8",
		},
		{
			name: "lookalike of trusted origin is proxied",
			in:   "https://cdn.trusted.example.evil/x.m3u8",
			want: testBase + url.QueryEscape("https://cdn.trusted.example.evil/x.m3u8"),
		},
		{
			name: "empty stays empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Rewrite(tt.in))
		})
	}
}

func TestRewrite_AlreadyProxiedIsNoop(t *testing.T) {
	r := New(testBase)
	raw := "https://cdn.example.com/master.m3u8"

	once := r.Rewrite(raw)
	twice := r.Rewrite(once)

	assert.Equal(t, once, twice)
	assert.True(t, r.IsProxied(once))
	assert.False(t, r.IsProxied(raw))

	// scheme variations of the proxy endpoint are still recognized
	plain := "http://hls.ciphertv.dev/proxy?url=" + url.QueryEscape(raw)
	assert.Equal(t, plain, r.Rewrite(plain))
}

func TestRewrite_CustomLocalPrefix(t *testing.T) {
	r := New(testBase, WithLocalPrefix("/internal/"))

	assert.Equal(t, "/internal/stream.m3u8", r.Rewrite("/internal/stream.m3u8"))
	assert.Equal(t, testBase+url.QueryEscape("/api/stream.m3u8"), r.Rewrite("/api/stream.m3u8"))
}

func TestRewrite_NoBaseIsIdentity(t *testing.T) {
	r := New("")
	assert.Equal(t, "https://cdn.example.com/a.m3u8", r.Rewrite("https://cdn.example.com/a.m3u8"))
}

func TestUnwrap(t *testing.T) {
	r := New(testBase)
	raw := "https://cdn.example.com/path/master.m3u8?x=1"

	assert.Equal(t, raw, r.Unwrap(r.Rewrite(raw)))
	assert.Equal(t, raw, r.Unwrap(raw))
}

func TestIntercept(t *testing.T) {
	r := New(testBase)
	seg := "https://cdn.example.com/seg-00001.ts"
	assert.Equal(t, r.Rewrite(seg), r.Intercept(seg))
	assert.Equal(t, "/api/key", r.Intercept("/api/key"))
}
