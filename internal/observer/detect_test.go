package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talonhq/linkpilot/internal/browser/browsertest"
)

func TestIsLoginSuccessURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"feed", "https://www.linkedin.com/feed/", true},
		{"feed without slash", "https://www.linkedin.com/feed", true},
		{"mynetwork", "https://www.linkedin.com/mynetwork/grow/", true},
		{"jobs", "https://www.linkedin.com/jobs/", true},
		{"messaging", "https://www.linkedin.com/messaging/thread/abc/", true},
		{"notifications", "https://www.linkedin.com/notifications/", true},
		{"uppercase path", "https://www.linkedin.com/Feed/", true},
		{"login page", "https://www.linkedin.com/login", false},
		{"checkpoint challenge", "https://www.linkedin.com/checkpoint/challenge/", false},
		{"segment as prefix of other path", "https://www.linkedin.com/feedback", false},
		{"feed on another host", "https://evil.example.com/feed/", false},
		{"linkedin lookalike path", "https://example.com/linkedin.com/feed", false},
		{"empty", "", false},
		{"garbage", "::not-a-url::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLoginSuccessURL(tt.url))
		})
	}
}

func TestDetectCaptchaByDOM(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalBoolResult = true
	page.HTMLContent = "<html><body><div class='challenge'></div></body></html>"

	found, html := DetectCaptcha(context.Background(), page)
	assert.True(t, found)
	assert.Equal(t, page.HTMLContent, html)
}

func TestDetectCaptchaByText(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalBoolResult = false
	page.TextContent = "Quick security verification required"
	page.HTMLContent = "<html><body>Quick security verification required</body></html>"

	found, html := DetectCaptcha(context.Background(), page)
	assert.True(t, found)
	assert.Contains(t, html, "verification")
}

func TestDetectCaptchaCleanPage(t *testing.T) {
	page := browsertest.NewFakePage()
	page.TextContent = "Welcome back"
	page.HTMLContent = "<html><body>Welcome back</body></html>"

	found, html := DetectCaptcha(context.Background(), page)
	assert.False(t, found)
	assert.Empty(t, html)
}

func TestDetectCaptchaIgnoresMarkupOnlyMentions(t *testing.T) {
	// Ordinary pages reference captcha libraries in script URLs; only
	// rendered text may trip the loose fallback.
	page := browsertest.NewFakePage()
	page.TextContent = "Welcome back"
	page.HTMLContent = `<html><head><script src="/assets/captcha-widget.js"></script>` +
		`<iframe data-src="https://cdn.example.net/captcha/loader"></iframe></head>` +
		`<body>Welcome back</body></html>`

	found, html := DetectCaptcha(context.Background(), page)
	assert.False(t, found)
	assert.Empty(t, html)
}

func TestDetectCaptchaTextErrorMeansNoCaptcha(t *testing.T) {
	page := browsertest.NewFakePage()
	page.TextErr = errors.New("page closed")

	found, html := DetectCaptcha(context.Background(), page)
	assert.False(t, found)
	assert.Empty(t, html)
}

func TestDetectCaptchaEvalErrorMeansNoCaptcha(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalBoolErr = errors.New("page closed")

	found, html := DetectCaptcha(context.Background(), page)
	assert.False(t, found)
	assert.Empty(t, html)
}

func TestDetectCaptchaHTMLErrorMeansNoCaptcha(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalBoolResult = true
	page.HTMLErr = errors.New("page closed")

	found, _ := DetectCaptcha(context.Background(), page)
	assert.False(t, found)
}
