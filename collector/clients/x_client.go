package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.twitter.com/2"

// Fields requested on every timeline call. The media expansion is what
// lets us attach media urls to each tweet payload.
const (
	tweetFields = "id,text,created_at,author_id,conversation_id,public_metrics,referenced_tweets,attachments,lang"
	expansions  = "attachments.media_keys,referenced_tweets.id"
	mediaFields = "media_key,url,preview_image_url,type"
)

// RequestError is a network-level failure: the request never produced an
// HTTP response. Callers treat these as retryable.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "request failed: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// APIError is a non-2xx HTTP response from the X API. RetryAfter carries
// the rate-limit reset wait when the API provided one.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("X API status %d: %s", e.StatusCode, e.Body)
}

// ErrUserNotFound is returned when a handle resolves to nothing; handles
// are caller input, so this is not retryable.
var ErrUserNotFound = errors.New("user not found")

// XClient is a thin wrapper upon http.Client to make requests to the X
// API v2. It reports failures as RequestError/APIError and leaves
// retry-or-abort decisions to the caller.
type XClient struct {
	Client      *http.Client
	BearerToken string
	BaseURL     string
}

func NewXClient(bearerToken string) *XClient {
	return &XClient{
		Client:      &http.Client{Timeout: 15 * time.Second},
		BearerToken: bearerToken,
		BaseURL:     DefaultBaseURL,
	}
}

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type userResponse struct {
	Data *User `json:"data"`
}

type Media struct {
	MediaKey        string `json:"media_key"`
	URL             string `json:"url,omitempty"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
	Type            string `json:"type"`
}

// UserTweetsResponse keeps tweets as raw JSON so the source can hand them
// downstream unparsed, with media merged in.
type UserTweetsResponse struct {
	Data     []json.RawMessage `json:"data"`
	Includes struct {
		Media []Media `json:"media"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type GetUserTweetsOptions struct {
	MaxResults      int
	SinceID         string
	PaginationToken string
}

// GetUserByUsername resolves an account handle to its immutable user id.
func (c *XClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	uri := fmt.Sprintf("%s/users/by/username/%s", c.BaseURL, url.PathEscape(username))
	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	res := userResponse{}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode user response")
	}
	if res.Data == nil {
		return nil, errors.Wrapf(ErrUserNotFound, "username %q", username)
	}
	return res.Data, nil
}

// GetUserTweets fetches one timeline page for a user id.
func (c *XClient) GetUserTweets(ctx context.Context, userID string, opts GetUserTweetsOptions) (*UserTweetsResponse, error) {
	q := url.Values{}
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", expansions)
	q.Set("media.fields", mediaFields)
	if opts.MaxResults > 0 {
		q.Set("max_results", strconv.Itoa(opts.MaxResults))
	}
	if opts.SinceID != "" {
		q.Set("since_id", opts.SinceID)
	}
	if opts.PaginationToken != "" {
		q.Set("pagination_token", opts.PaginationToken)
	}

	uri := fmt.Sprintf("%s/users/%s/tweets?%s", c.BaseURL, url.PathEscape(userID), q.Encode())
	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	res := &UserTweetsResponse{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, errors.Wrap(err, "decode timeline response")
	}
	return res, nil
}

func (c *XClient) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.BearerToken)

	res, err := c.Client.Do(req)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return body, nil
	}
	return nil, &APIError{
		StatusCode: res.StatusCode,
		Body:       string(body),
		RetryAfter: rateLimitWait(res.Header),
	}
}

// rateLimitWait computes the wait from the x-rate-limit-reset epoch header,
// falling back to Retry-After seconds when present.
func rateLimitWait(h http.Header) time.Duration {
	if reset := h.Get("x-rate-limit-reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if wait := time.Until(time.Unix(epoch, 0)); wait > 0 {
				return wait + time.Second
			}
		}
	}
	if after := h.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
