package scrape

import "testing"

func TestDetectSocialPlatforms(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name     string
		url      string
		platform string
		content  ContentType
		strategy Strategy
	}{
		{"youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube", ContentVideo, StrategyYtDlp},
		{"youtube short link", "https://youtu.be/dQw4w9WgXcQ", "youtube", ContentVideo, StrategyYtDlp},
		{"youtube shorts", "https://www.youtube.com/shorts/abc123defgh", "youtube", ContentVideo, StrategyYtDlp},
		{"instagram post", "https://www.instagram.com/p/Cxyz/", "instagram", ContentVideo, StrategyYtDlp},
		{"instagram reel", "https://instagram.com/reel/Cxyz/", "instagram", ContentVideo, StrategyYtDlp},
		{"tiktok video", "https://www.tiktok.com/@user/video/123456", "tiktok", ContentVideo, StrategyYtDlp},
		{"tiktok short vm", "https://vm.tiktok.com/ZMabc/", "tiktok", ContentVideo, StrategyYtDlp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.url, "")
			if got.Platform != tt.platform || got.ContentType != tt.content || got.Strategy != tt.strategy {
				t.Fatalf("Detect(%q) = %+v, want (%s, %s, %s)", tt.url, got, tt.platform, tt.content, tt.strategy)
			}
		})
	}
}

func TestDetectBlogAndNewsDomains(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		url      string
		platform string
	}{
		{"https://medium.com/@a/b", "blog"},
		{"https://sub.medium.com/x", "blog"},
		{"https://myblog.substack.com/p/post", "blog"},
		{"https://www.nytimes.com/2024/01/01/world/x.html", "news"},
		{"https://bbc.com/news/article", "news"},
	}

	for _, tt := range tests {
		got := d.Detect(tt.url, "")
		if got.Platform != tt.platform {
			t.Fatalf("Detect(%q).Platform = %q, want %q", tt.url, got.Platform, tt.platform)
		}
		if got.ContentType != ContentArticle || got.Strategy != StrategyPassthrough {
			t.Fatalf("Detect(%q) = %+v, want article/passthrough", tt.url, got)
		}
	}
}

// Hostile domains that merely embed a known domain must never match it.
func TestDetectRejectsLookalikeDomains(t *testing.T) {
	d := NewDetector()

	for _, u := range []string{
		"https://medium.com.evil.test/x",
		"https://nytimes.com.phish.example/story",
		"https://notmedium.com/post",
	} {
		got := d.Detect(u, "")
		if got.Platform != "generic" {
			t.Fatalf("Detect(%q).Platform = %q, want generic", u, got.Platform)
		}
	}
}

func TestDetectGenericFallbackFullyPopulated(t *testing.T) {
	d := NewDetector()

	got := d.Detect("https://example.com/page", "")
	if got.Platform != "generic" || got.ContentType != ContentLink || got.Strategy != StrategyOpenGraph {
		t.Fatalf("Detect fallback = %+v, want (generic, link, opengraph)", got)
	}

	// Even unparseable input must produce a complete detection.
	got = d.Detect("://not-a-url", "")
	if got.Platform == "" || got.ContentType == "" || got.Strategy == "" {
		t.Fatalf("Detect must always populate all fields, got %+v", got)
	}
}

func TestDetectHonorsPlatformHint(t *testing.T) {
	d := NewDetector()

	got := d.Detect("https://example.com/whatever", "Instagram")
	if got.Platform != "instagram" || got.Strategy != StrategyYtDlp {
		t.Fatalf("hinted Detect = %+v, want instagram/ytdlp", got)
	}

	// Unknown hints fall back to pattern detection.
	got = d.Detect("https://example.com/whatever", "myspace")
	if got.Platform != "generic" {
		t.Fatalf("unknown hint should be ignored, got %+v", got)
	}
}
