package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/meridianlabs/postvault/model"
)

// Normalizer maps raw backend records into the canonical Post entity. It
// performs no I/O; Now is injectable so collection timestamps are
// deterministic in tests.
type Normalizer struct {
	// Account is the target handle, used when the backend record does not
	// carry the author's username itself (the API keys tweets by author id).
	Account string
	Now     func() time.Time
}

func NewNormalizer(account string) *Normalizer {
	return &Normalizer{Account: account, Now: time.Now}
}

// apiTweet is the subset of an X API v2 tweet payload the normalizer
// consumes, with media already merged in by the source.
type apiTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	CreatedAt     string `json:"created_at"`
	AuthorID      string `json:"author_id"`
	Lang          string `json:"lang"`
	PublicMetrics struct {
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		LikeCount       int `json:"like_count"`
		QuoteCount      int `json:"quote_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Media []struct {
		URL             string `json:"url"`
		PreviewImageURL string `json:"preview_image_url"`
	} `json:"media"`
}

// Normalize converts one raw record into a Post, computing the content
// fingerprint. A MalformedRecordError is returned when a required field
// (post id, text, creation time) is absent or unparsable; callers count
// such failures without aborting the job.
func (n *Normalizer) Normalize(rec RawRecord, source model.PostSource) (*model.Post, error) {
	switch source {
	case model.PostSourceAPI:
		return n.normalizeAPIRecord(rec)
	case model.PostSourceScraper:
		return n.normalizeScrapedRecord(rec)
	default:
		return nil, &MalformedRecordError{Reason: "unknown source " + string(source)}
	}
}

func (n *Normalizer) normalizeAPIRecord(rec RawRecord) (*model.Post, error) {
	tweet := apiTweet{}
	if err := json.Unmarshal(rec.Payload, &tweet); err != nil {
		return nil, &MalformedRecordError{Reason: "undecodable api payload: " + err.Error()}
	}
	if tweet.ID == "" {
		return nil, &MalformedRecordError{Reason: "missing tweet id"}
	}
	if tweet.Text == "" {
		return nil, &MalformedRecordError{Reason: "missing tweet text"}
	}
	createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
	if err != nil {
		return nil, &MalformedRecordError{Reason: "unparsable created_at " + tweet.CreatedAt}
	}

	post := &model.Post{
		PostID:         tweet.ID,
		AuthorUsername: n.Account,
		AuthorID:       tweet.AuthorID,
		Text:           tweet.Text,
		Language:       tweet.Lang,
		CreatedAt:      createdAt,
		LikeCount:      tweet.PublicMetrics.LikeCount,
		RetweetCount:   tweet.PublicMetrics.RetweetCount,
		ReplyCount:     tweet.PublicMetrics.ReplyCount,
		QuoteCount:     tweet.PublicMetrics.QuoteCount,
		Source:         model.PostSourceAPI,
		CollectedAt:    n.Now(),
		RawPayload:     append([]byte(nil), rec.Payload...),
	}
	if tweet.PublicMetrics.ImpressionCount > 0 {
		views := tweet.PublicMetrics.ImpressionCount
		post.ViewCount = &views
	}

	for _, ref := range tweet.ReferencedTweets {
		id := ref.ID
		switch ref.Type {
		case "replied_to":
			post.IsReply = true
			post.RepliedToID = &id
		case "retweeted":
			post.IsRetweet = true
			post.RetweetedID = &id
		case "quoted":
			post.IsQuote = true
			post.QuotedID = &id
		}
	}

	mediaUrls := []string{}
	for _, m := range tweet.Media {
		switch {
		case m.URL != "":
			mediaUrls = append(mediaUrls, m.URL)
		case m.PreviewImageURL != "":
			mediaUrls = append(mediaUrls, m.PreviewImageURL)
		}
	}
	if err := setMediaUrls(post, mediaUrls); err != nil {
		return nil, &MalformedRecordError{Reason: err.Error()}
	}

	post.ContentHash = ContentFingerprint(post.Text, mediaUrls, post.AuthorUsername)
	return post, nil
}

func (n *Normalizer) normalizeScrapedRecord(rec RawRecord) (*model.Post, error) {
	scraped := ScrapedRecord{}
	if err := json.Unmarshal(rec.Payload, &scraped); err != nil {
		return nil, &MalformedRecordError{Reason: "undecodable scraped payload: " + err.Error()}
	}
	if scraped.PostID == "" {
		return nil, &MalformedRecordError{Reason: "missing post id"}
	}
	if scraped.Text == "" {
		return nil, &MalformedRecordError{Reason: "missing post text"}
	}
	createdAt, err := dateparse.ParseAny(scraped.CreatedAt)
	if err != nil {
		return nil, &MalformedRecordError{Reason: "unparsable created_at " + scraped.CreatedAt}
	}

	author := scraped.AuthorUsername
	if author == "" {
		author = n.Account
	}

	post := &model.Post{
		PostID:         scraped.PostID,
		AuthorUsername: author,
		Text:           scraped.Text,
		CreatedAt:      createdAt,
		LikeCount:      scraped.LikeCount,
		RetweetCount:   scraped.RetweetCount,
		ReplyCount:     scraped.ReplyCount,
		IsReply:        scraped.IsReply,
		IsRetweet:      scraped.IsRetweet,
		Source:         model.PostSourceScraper,
		CollectedAt:    n.Now(),
		RawPayload:     append([]byte(nil), rec.Payload...),
	}
	if err := setMediaUrls(post, scraped.MediaUrls); err != nil {
		return nil, &MalformedRecordError{Reason: err.Error()}
	}

	post.ContentHash = ContentFingerprint(post.Text, scraped.MediaUrls, post.AuthorUsername)
	return post, nil
}

func setMediaUrls(post *model.Post, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	post.MediaUrls = encoded
	return nil
}

// ContentFingerprint is a stable digest over a post's semantic content:
// text, sorted media urls and author. Field order and media order do not
// affect the result, so a re-fetch of unchanged content always fingerprints
// identically.
func ContentFingerprint(text string, mediaUrls []string, author string) string {
	sorted := append([]string(nil), mediaUrls...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(author))
	return hex.EncodeToString(h.Sum(nil))
}
