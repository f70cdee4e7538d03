package observer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/linkpilot/internal/browser/browsertest"
)

type recordingStore struct {
	mu    sync.Mutex
	saves int
	liAt  string
	liA   string
	err   error
}

func (s *recordingStore) SaveLinkedInCredentials(ctx context.Context, userID, liAt, liA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.liAt = liAt
	s.liA = liA
	return s.err
}

func TestObserverFiresLoginOnce(t *testing.T) {
	page := browsertest.NewFakePage()
	page.CookieJar["li_at"] = "primary-token"
	page.CookieJar["li_a"] = "secondary-token"
	store := &recordingStore{}

	var logins []string
	Attach(page, Config{
		UserID: "u1",
		Store:  store,
		OnLogin: func(url string, cookies map[string]string) {
			logins = append(logins, url)
			assert.Equal(t, "primary-token", cookies["li_at"])
			assert.Equal(t, "secondary-token", cookies["li_a"])
		},
	})

	page.FireNavigation("https://www.linkedin.com/login")
	assert.Empty(t, logins)

	page.FireNavigation("https://www.linkedin.com/feed/")
	page.FireNavigation("https://www.linkedin.com/mynetwork/")

	require.Len(t, logins, 1, "repeated authenticated navigations must not re-fire login")
	assert.Equal(t, "https://www.linkedin.com/feed/", logins[0])
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, "primary-token", store.liAt)
	assert.Equal(t, "secondary-token", store.liA)
}

func TestObserverReportsEveryNavigation(t *testing.T) {
	page := browsertest.NewFakePage()

	var urls []string
	Attach(page, Config{
		UserID:     "u1",
		OnNavigate: func(url string) { urls = append(urls, url) },
	})

	page.FireNavigation("https://www.linkedin.com/login")
	page.FireNavigation("https://www.linkedin.com/checkpoint/challenge/")

	assert.Equal(t, []string{
		"https://www.linkedin.com/login",
		"https://www.linkedin.com/checkpoint/challenge/",
	}, urls)
}

func TestObserverLoginSurvivesCookieFailure(t *testing.T) {
	page := browsertest.NewFakePage()
	page.CookiesErr = errors.New("devtools gone")

	var fired bool
	var got map[string]string
	Attach(page, Config{
		UserID: "u1",
		OnLogin: func(url string, cookies map[string]string) {
			fired = true
			got = cookies
		},
	})

	page.FireNavigation("https://www.linkedin.com/feed/")

	assert.True(t, fired, "login callback still fires when cookie extraction fails")
	assert.Empty(t, got)
}

func TestObserverLoginSurvivesStoreFailure(t *testing.T) {
	page := browsertest.NewFakePage()
	page.CookieJar["li_at"] = "tok"
	store := &recordingStore{err: errors.New("store down")}

	var fired bool
	Attach(page, Config{
		UserID:  "u1",
		Store:   store,
		OnLogin: func(url string, cookies map[string]string) { fired = true },
	})

	page.FireNavigation("https://www.linkedin.com/feed/")

	assert.True(t, fired)
	assert.Equal(t, 1, store.saves)
}
