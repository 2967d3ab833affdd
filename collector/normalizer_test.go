package collector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/postvault/model"
)

var fixedNow = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	n := NewNormalizer("nasa")
	n.Now = func() time.Time { return fixedNow }
	return n
}

const apiTweetFixture = `{
	"id": "1234567890",
	"text": "Hello from orbit",
	"created_at": "2023-05-31T08:30:00.000Z",
	"author_id": "11348282",
	"lang": "en",
	"public_metrics": {
		"retweet_count": 12,
		"reply_count": 3,
		"like_count": 99,
		"quote_count": 1,
		"impression_count": 5000
	},
	"referenced_tweets": [{"type": "replied_to", "id": "111"}],
	"media": [
		{"url": "https://pbs.twimg.com/media/b.jpg"},
		{"preview_image_url": "https://pbs.twimg.com/media/a_preview.jpg"}
	]
}`

func TestNormalizeAPIRecord(t *testing.T) {
	n := testNormalizer()

	post, err := n.Normalize(RawRecord{Payload: []byte(apiTweetFixture)}, model.PostSourceAPI)
	require.NoError(t, err)

	require.Equal(t, "1234567890", post.PostID)
	require.Equal(t, "nasa", post.AuthorUsername)
	require.Equal(t, "11348282", post.AuthorID)
	require.Equal(t, "Hello from orbit", post.Text)
	require.Equal(t, "en", post.Language)
	require.Equal(t, 99, post.LikeCount)
	require.Equal(t, 12, post.RetweetCount)
	require.Equal(t, 3, post.ReplyCount)
	require.Equal(t, 1, post.QuoteCount)
	require.NotNil(t, post.ViewCount)
	require.Equal(t, 5000, *post.ViewCount)

	require.True(t, post.IsReply)
	require.NotNil(t, post.RepliedToID)
	require.Equal(t, "111", *post.RepliedToID)
	require.False(t, post.IsRetweet)
	require.False(t, post.IsQuote)

	require.Equal(t, time.Date(2023, 5, 31, 8, 30, 0, 0, time.UTC), post.CreatedAt.UTC())
	require.Equal(t, fixedNow, post.CollectedAt)
	require.Equal(t, model.PostSourceAPI, post.Source)

	urls := []string{}
	require.NoError(t, json.Unmarshal(post.MediaUrls, &urls))
	require.Equal(t, []string{
		"https://pbs.twimg.com/media/b.jpg",
		"https://pbs.twimg.com/media/a_preview.jpg",
	}, urls)

	require.Len(t, post.ContentHash, 64)
	require.JSONEq(t, apiTweetFixture, string(post.RawPayload))
}

func TestNormalizeScrapedRecord(t *testing.T) {
	n := testNormalizer()

	payload, err := json.Marshal(ScrapedRecord{
		PostID:       "987654321",
		Text:         "Launch day!",
		CreatedAt:    "2023-05-30T18:00:00.000Z",
		LikeCount:    10,
		RetweetCount: 2,
		ReplyCount:   1,
		MediaUrls:    []string{"https://pbs.twimg.com/media/x.jpg"},
		IsReply:      false,
		IsRetweet:    false,
	})
	require.NoError(t, err)

	post, err := n.Normalize(RawRecord{Payload: payload}, model.PostSourceScraper)
	require.NoError(t, err)

	require.Equal(t, "987654321", post.PostID)
	// Falls back to the target account when the record carries no author.
	require.Equal(t, "nasa", post.AuthorUsername)
	require.Equal(t, "Launch day!", post.Text)
	require.Equal(t, 10, post.LikeCount)
	require.Equal(t, model.PostSourceScraper, post.Source)
	require.Equal(t, time.Date(2023, 5, 30, 18, 0, 0, 0, time.UTC), post.CreatedAt.UTC())
}

func TestNormalizeMalformedRecords(t *testing.T) {
	n := testNormalizer()

	cases := map[string]string{
		"garbage":        `not json at all`,
		"missing id":     `{"text": "hi", "created_at": "2023-05-31T08:30:00Z"}`,
		"missing text":   `{"id": "1", "created_at": "2023-05-31T08:30:00Z"}`,
		"bad created_at": `{"id": "1", "text": "hi", "created_at": "yesterday-ish"}`,
	}
	for name, payload := range cases {
		_, err := n.Normalize(RawRecord{Payload: []byte(payload)}, model.PostSourceAPI)
		require.Error(t, err, name)
		require.True(t, IsMalformedRecord(err), name)
	}
}

func TestContentFingerprintStability(t *testing.T) {
	a := ContentFingerprint("hello", []string{"u1", "u2"}, "nasa")
	b := ContentFingerprint("hello", []string{"u2", "u1"}, "nasa")
	// Media order never changes the fingerprint.
	require.Equal(t, a, b)

	require.NotEqual(t, a, ContentFingerprint("hello!", []string{"u1", "u2"}, "nasa"))
	require.NotEqual(t, a, ContentFingerprint("hello", []string{"u1"}, "nasa"))
	require.NotEqual(t, a, ContentFingerprint("hello", []string{"u1", "u2"}, "spacex"))
}
