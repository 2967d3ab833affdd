package collector

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/meridianlabs/postvault/collector/clients"
	"github.com/meridianlabs/postvault/model"
	Logger "github.com/meridianlabs/postvault/utils/log"
	"github.com/pkg/errors"
)

// The X API caps timeline pages at 100 and refuses requests below 5.
const (
	apiMaxPageSize = 100
	apiMinPageSize = 5
)

// APISource collects through the authenticated X API v2. It supports
// "only records after X" filtering natively via since_id, and pages
// through the timeline with the API's pagination token. Rate-limit
// signals from the API surface as transient errors carrying the reset
// wait, so the retry policy sleeps instead of failing.
type APISource struct {
	Client   *clients.XClient
	Limiter  *RateLimiter
	Username string

	// Resolved lazily on the first page and cached for the job's lifetime.
	userID string

	// The job's sync cursor is captured from the first FetchPage call;
	// subsequent cursors are API pagination tokens.
	sinceID string
	primed  bool
}

func NewAPISource(client *clients.XClient, limiter *RateLimiter, username string) *APISource {
	return &APISource{Client: client, Limiter: limiter, Username: username}
}

func (s *APISource) Name() model.PostSource { return model.PostSourceAPI }

func (s *APISource) FetchPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	// The first cursor a job hands in is its sync watermark, not an API
	// pagination token. Latch that interpretation only once a fetch has
	// succeeded, so a retried first page does not resend the watermark as
	// pagination_token.
	token := ""
	if !s.primed {
		s.sinceID = cursor
	} else {
		token = cursor
	}

	if s.userID == "" {
		if err := s.Limiter.Acquire(ctx); err != nil {
			return nil, &FatalError{Err: err}
		}
		user, err := s.Client.GetUserByUsername(ctx, s.Username)
		if err != nil {
			return nil, classifyAPIError(err)
		}
		s.userID = user.ID
	}

	pageSize := limit
	if pageSize > apiMaxPageSize {
		pageSize = apiMaxPageSize
	}
	if pageSize < apiMinPageSize {
		pageSize = apiMinPageSize
	}

	if err := s.Limiter.Acquire(ctx); err != nil {
		return nil, &FatalError{Err: err}
	}
	res, err := s.Client.GetUserTweets(ctx, s.userID, clients.GetUserTweetsOptions{
		MaxResults:      pageSize,
		SinceID:         s.sinceID,
		PaginationToken: token,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	records := make([]RawRecord, 0, len(res.Data))
	for _, raw := range res.Data {
		merged, err := mergeTweetMedia(raw, res.Includes.Media, s.userID)
		if err != nil {
			// Hand the original payload through; the normalizer will count
			// it as malformed if it really is.
			Logger.Log.Warnf("fail to merge media into tweet payload: %s", err)
			merged = raw
		}
		records = append(records, RawRecord{Payload: merged})
	}

	s.primed = true

	return &Page{
		Records:    records,
		NextCursor: res.Meta.NextToken,
		HasMore:    res.Meta.NextToken != "",
	}, nil
}

// classifyAPIError folds the client's neutral failures into the retryable
// taxonomy: network failures and 5xx are worth retrying, 429 carries the
// reset wait, everything else (auth, unknown user, undecodable body) aborts
// the job.
func classifyAPIError(err error) error {
	var reqErr *clients.RequestError
	if errors.As(err, &reqErr) {
		return &TransientError{Err: err}
	}

	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &TransientError{Err: err, RetryAfter: apiErr.RetryAfter}
		case apiErr.StatusCode >= 500:
			return &TransientError{Err: err}
		default:
			return &FatalError{Err: err}
		}
	}

	return &FatalError{Err: err}
}

// mergeTweetMedia rewrites a raw tweet payload so that its attachments'
// media keys are resolved into a "media" array of url-bearing objects,
// the shape the normalizer consumes.
func mergeTweetMedia(raw json.RawMessage, media []clients.Media, userID string) (json.RawMessage, error) {
	if len(media) == 0 {
		return raw, nil
	}

	tweet := map[string]interface{}{}
	if err := json.Unmarshal(raw, &tweet); err != nil {
		return nil, errors.Wrap(err, "decode tweet payload")
	}

	// The author_id field is only present when explicitly requested; pin it
	// so every payload is self-describing.
	if _, ok := tweet["author_id"]; !ok {
		tweet["author_id"] = userID
	}

	attachments, ok := tweet["attachments"].(map[string]interface{})
	if !ok {
		return raw, nil
	}
	keys, ok := attachments["media_keys"].([]interface{})
	if !ok || len(keys) == 0 {
		return raw, nil
	}

	byKey := make(map[string]clients.Media, len(media))
	for _, m := range media {
		byKey[m.MediaKey] = m
	}

	attached := []interface{}{}
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if m, ok := byKey[key]; ok {
			attached = append(attached, map[string]interface{}{
				"url":               m.URL,
				"preview_image_url": m.PreviewImageURL,
				"type":              m.Type,
			})
		}
	}
	tweet["media"] = attached

	return json.Marshal(tweet)
}
