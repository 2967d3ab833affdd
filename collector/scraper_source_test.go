package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/postvault/model"
)

const profilePageFixture = `<!DOCTYPE html>
<html><body>
<article data-testid="tweet">
  <a href="/nasa/status/1700000000000000001"><time datetime="2023-05-31T08:30:00.000Z">May 31</time></a>
  <div data-testid="tweetText">We are going to the Moon.</div>
  <button data-testid="reply" aria-label="15 Replies. Reply"></button>
  <button data-testid="retweet" aria-label="1,200 reposts. Repost"></button>
  <button data-testid="like" aria-label="9,000 Likes. Like"></button>
  <img src="https://pbs.twimg.com/media/abc123.jpg"/>
  <img src="https://abs.twimg.com/sticky/logo.png"/>
</article>
<article data-testid="tweet">
  <a href="/nasa/status/1700000000000000002"><time datetime="2023-05-30T18:00:00.000Z">May 30</time></a>
  <div data-testid="tweetText">Launch scrubbed due to weather.</div>
</article>
</body></html>`

func newScraperTestServer(robots string, profileHits *int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, robots)
	})
	mux.HandleFunc("/nasa", func(w http.ResponseWriter, r *http.Request) {
		if profileHits != nil {
			*profileHits++
		}
		fmt.Fprint(w, profilePageFixture)
	})
	return httptest.NewServer(mux)
}

func newTestScraperSource(baseURL string) *ScraperSource {
	source := NewScraperSource("nasa", NewRateLimiter(1000))
	source.BaseURL = baseURL
	return source
}

func TestScraperParsesProfilePage(t *testing.T) {
	srv := newScraperTestServer("User-agent: *\nAllow: /", nil)
	defer srv.Close()

	source := newTestScraperSource(srv.URL)
	require.Equal(t, model.PostSourceScraper, source.Name())

	page, err := source.FetchPage(context.Background(), "", 100)
	require.NoError(t, err)
	require.False(t, page.HasMore)
	require.Len(t, page.Records, 2)

	first := ScrapedRecord{}
	require.NoError(t, json.Unmarshal(page.Records[0].Payload, &first))
	require.Equal(t, "1700000000000000001", first.PostID)
	require.Equal(t, "We are going to the Moon.", first.Text)
	require.Equal(t, "2023-05-31T08:30:00.000Z", first.CreatedAt)
	require.Equal(t, "nasa", first.AuthorUsername)
	require.Equal(t, 15, first.ReplyCount)
	require.Equal(t, 1200, first.RetweetCount)
	require.Equal(t, 9000, first.LikeCount)
	// Only media CDN images count, not site chrome.
	require.Equal(t, []string{"https://pbs.twimg.com/media/abc123.jpg"}, first.MediaUrls)

	second := ScrapedRecord{}
	require.NoError(t, json.Unmarshal(page.Records[1].Payload, &second))
	require.Equal(t, "1700000000000000002", second.PostID)
	require.Equal(t, 0, second.LikeCount)
	require.Empty(t, second.MediaUrls)
}

func TestScraperHonorsPageLimit(t *testing.T) {
	srv := newScraperTestServer("User-agent: *\nAllow: /", nil)
	defer srv.Close()

	source := newTestScraperSource(srv.URL)
	page, err := source.FetchPage(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
}

func TestScraperRefusesWhenRobotsDisallows(t *testing.T) {
	profileHits := 0
	srv := newScraperTestServer("User-agent: *\nDisallow: /", &profileHits)
	defer srv.Close()

	source := newTestScraperSource(srv.URL)
	_, err := source.FetchPage(context.Background(), "", 100)
	require.Error(t, err)
	require.True(t, IsFatal(err))
	require.ErrorIs(t, err, ErrScrapeDisallowed)
	// The profile page is never touched after a disallow.
	require.Equal(t, 0, profileHits)
}

func TestScraperProceedsWhenRobotsUnreachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/nasa", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, profilePageFixture)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := newTestScraperSource(srv.URL)
	page, err := source.FetchPage(context.Background(), "", 100)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
}

func TestScraperBlockedIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nAllow: /")
	})
	mux.HandleFunc("/nasa", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := newTestScraperSource(srv.URL)
	_, err := source.FetchPage(context.Background(), "", 100)
	require.Error(t, err)
	require.True(t, IsFatal(err))
}
