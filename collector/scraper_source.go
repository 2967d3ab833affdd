package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/meridianlabs/postvault/model"
	Logger "github.com/meridianlabs/postvault/utils/log"
	"github.com/pkg/errors"
	"github.com/temoto/robotstxt"
)

const (
	DefaultScraperBaseURL = "https://twitter.com"

	// A desktop UA keeps the rendered markup in the shape the selectors
	// below expect.
	defaultScraperUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// ScrapedRecord is the raw record shape the scraper backend produces, one
// per tweet article found in the rendered page. The normalizer consumes
// this shape; required-field validation happens there, not here.
type ScrapedRecord struct {
	PostID         string   `json:"post_id"`
	Text           string   `json:"text"`
	CreatedAt      string   `json:"created_at"`
	AuthorUsername string   `json:"author_username"`
	LikeCount      int      `json:"like_count"`
	RetweetCount   int      `json:"retweet_count"`
	ReplyCount     int      `json:"reply_count"`
	MediaUrls      []string `json:"media_urls"`
	IsReply        bool     `json:"is_reply"`
	IsRetweet      bool     `json:"is_retweet"`
}

// ScraperSource collects by fetching the account's public profile page and
// extracting tweet articles from the DOM. Before any fetch it checks the
// site's robots.txt for the target path and fails fast with a fatal policy
// error when disallowed; the job never falls back silently past that
// check. The scraper has no true cursor: it returns the most recent page
// once and relies on the dedup rule downstream to discard known records.
type ScraperSource struct {
	BaseURL   string
	Username  string
	Limiter   *RateLimiter
	UserAgent string

	httpClient    *http.Client
	robotsChecked bool
}

func NewScraperSource(username string, limiter *RateLimiter) *ScraperSource {
	return &ScraperSource{
		BaseURL:    DefaultScraperBaseURL,
		Username:   username,
		Limiter:    limiter,
		UserAgent:  defaultScraperUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ScraperSource) Name() model.PostSource { return model.PostSourceScraper }

func (s *ScraperSource) FetchPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	if !s.robotsChecked {
		if err := s.checkRobots(ctx); err != nil {
			return nil, err
		}
		s.robotsChecked = true
	}

	if err := s.Limiter.Acquire(ctx); err != nil {
		return nil, &FatalError{Err: err}
	}

	records := []RawRecord{}
	var fetchErr error

	c := colly.NewCollector(colly.UserAgent(s.UserAgent))
	c.OnHTML(`article[data-testid="tweet"]`, func(elem *colly.HTMLElement) {
		if limit > 0 && len(records) >= limit {
			return
		}
		rec := s.parseTweetArticle(elem)
		payload, err := json.Marshal(rec)
		if err != nil {
			Logger.Log.Warnf("fail to marshal scraped record: %s", err)
			return
		}
		records = append(records, RawRecord{Payload: payload})
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = classifyScrapeError(r, err)
	})

	if err := c.Visit(fmt.Sprintf("%s/%s", s.BaseURL, s.Username)); err != nil && fetchErr == nil {
		fetchErr = &TransientError{Err: err}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	Logger.Log.Infof("scraped %d tweet articles for @%s", len(records), s.Username)

	return &Page{Records: records, HasMore: false}, nil
}

// checkRobots fetches and evaluates robots.txt for the account path. An
// unreachable robots.txt is a warning, not a failure; only an explicit
// disallow is fatal.
func (s *ScraperSource) checkRobots(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/robots.txt", nil)
	if err != nil {
		return &FatalError{Err: err}
	}
	req.Header.Set("User-Agent", s.UserAgent)

	res, err := s.httpClient.Do(req)
	if err != nil {
		Logger.Log.Warnf("could not fetch robots.txt (%s), proceeding with caution", err)
		return nil
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		Logger.Log.Warnf("could not read robots.txt (%s), proceeding with caution", err)
		return nil
	}

	// A robots.txt the site itself cannot serve is "unreachable", not a
	// disallow verdict.
	if res.StatusCode >= 500 {
		Logger.Log.Warnf("robots.txt unavailable (status %d), proceeding with caution", res.StatusCode)
		return nil
	}

	robots, err := robotstxt.FromStatusAndBytes(res.StatusCode, body)
	if err != nil {
		Logger.Log.Warnf("could not parse robots.txt (%s), proceeding with caution", err)
		return nil
	}

	path := "/" + s.Username
	if !robots.FindGroup(s.UserAgent).Test(path) {
		return &FatalError{Err: errors.Wrapf(ErrScrapeDisallowed, "path %s", path)}
	}
	return nil
}

func (s *ScraperSource) parseTweetArticle(elem *colly.HTMLElement) ScrapedRecord {
	dom := elem.DOM
	rec := ScrapedRecord{AuthorUsername: s.Username, MediaUrls: []string{}}

	timeNode := dom.Find("time").First()
	if href, ok := timeNode.Parent().Attr("href"); ok {
		if m := statusIDPattern.FindStringSubmatch(href); len(m) == 2 {
			rec.PostID = m[1]
		}
	}
	if dt, ok := timeNode.Attr("datetime"); ok {
		rec.CreatedAt = dt
	}

	rec.Text = strings.TrimSpace(dom.Find(`div[data-testid="tweetText"]`).First().Text())

	rec.ReplyCount = metricFromButton(dom, "reply")
	rec.RetweetCount = metricFromButton(dom, "retweet")
	rec.LikeCount = metricFromButton(dom, "like")

	dom.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.Contains(src, "pbs.twimg.com/media") {
			rec.MediaUrls = append(rec.MediaUrls, src)
		}
	})

	rec.IsReply = dom.Find(`div[data-testid="reply"]`).Length() > 0
	rec.IsRetweet = strings.Contains(rec.Text, "RT @")

	return rec
}

var leadingNumberPattern = regexp.MustCompile(`(\d+)`)

// metricFromButton pulls an engagement count out of the aria-label of the
// reply/retweet/like button, e.g. "42 likes. Like".
func metricFromButton(dom *goquery.Selection, kind string) int {
	label, ok := dom.Find(fmt.Sprintf(`button[data-testid=%q]`, kind)).First().Attr("aria-label")
	if !ok {
		return 0
	}
	m := leadingNumberPattern.FindStringSubmatch(strings.ReplaceAll(label, ",", ""))
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func classifyScrapeError(r *colly.Response, err error) error {
	if r == nil {
		return &TransientError{Err: err}
	}
	switch {
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		return &FatalError{Err: errors.Wrapf(err, "blocked by target site (status %d)", r.StatusCode)}
	case r.StatusCode == http.StatusTooManyRequests:
		return &TransientError{Err: errors.Wrap(err, "rate limited by target site")}
	default:
		return &TransientError{Err: err}
	}
}
