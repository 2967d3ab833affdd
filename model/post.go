package model

import (
	"time"

	"gorm.io/datatypes"
)

// PostSource identifies which backend a post was collected through.
type PostSource string

const (
	PostSourceAPI     PostSource = "api"
	PostSourceScraper PostSource = "scraper"
)

/*

Post is a single collected message from the target account.

PostID: platform-assigned id, globally unique and immutable. This is the
	dedup boundary: re-collecting an existing PostID updates mutable fields
	but never creates a second row.
AuthorUsername / AuthorID / AuthorName: author identity. Username is always
	set; id and display name are only available through the API backend.
Text: post content in plain text.
CreatedAt: platform timestamp of the post.
CollectedAt: local acquisition time.
Source: "api" or "scraper", whichever backend produced this row last.
ContentHash: sha256 fingerprint over (text, sorted media urls, author),
	used to tell meaningful edits apart from re-fetches of unchanged data.
RawPayload: opaque copy of the backend record, kept for audit and replay.

Engagement counters are refreshed on re-collection. The platform reports
them as non-decreasing but we do not clamp: any observed difference is
written as-is.

IsDeleted is an administrative soft-delete flag. The engine never sets it.
*/
type Post struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	PostID    string    `gorm:"uniqueIndex;size:100;not null" json:"post_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AuthorUsername string `gorm:"index;size:100;not null" json:"author_username"`
	AuthorID       string `gorm:"size:100" json:"author_id,omitempty"`
	AuthorName     string `gorm:"size:200" json:"author_name,omitempty"`

	Text     string `gorm:"type:text;not null" json:"text"`
	Language string `gorm:"size:10" json:"language,omitempty"`

	LikeCount    int  `json:"like_count"`
	RetweetCount int  `json:"retweet_count"`
	ReplyCount   int  `json:"reply_count"`
	QuoteCount   int  `json:"quote_count"`
	ViewCount    *int `json:"view_count,omitempty"`

	IsReply     bool    `json:"is_reply"`
	IsRetweet   bool    `json:"is_retweet"`
	IsQuote     bool    `json:"is_quote"`
	RepliedToID *string `gorm:"size:100" json:"replied_to_id,omitempty"`
	RetweetedID *string `gorm:"size:100" json:"retweeted_id,omitempty"`
	QuotedID    *string `gorm:"size:100" json:"quoted_id,omitempty"`

	MediaUrls datatypes.JSON `json:"media_urls,omitempty"`

	Source      PostSource     `gorm:"size:20;index;not null" json:"source"`
	CollectedAt time.Time      `gorm:"not null" json:"collected_at"`
	ContentHash string         `gorm:"size:64;index" json:"content_hash"`
	RawPayload  datatypes.JSON `json:"-"`

	IsDeleted bool `gorm:"default:false" json:"is_deleted"`
}

// CountersEqual reports whether the engagement counters of p and other
// match. Used by the upsert rule to decide between updated and unchanged.
func (p *Post) CountersEqual(other *Post) bool {
	if p.LikeCount != other.LikeCount ||
		p.RetweetCount != other.RetweetCount ||
		p.ReplyCount != other.ReplyCount ||
		p.QuoteCount != other.QuoteCount {
		return false
	}
	if (p.ViewCount == nil) != (other.ViewCount == nil) {
		return false
	}
	if p.ViewCount != nil && *p.ViewCount != *other.ViewCount {
		return false
	}
	return true
}
