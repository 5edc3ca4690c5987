// Package entity turns raw platform records into graph-shaped vertex and
// edge rows.
package entity

import (
	"strconv"
	"strings"
)

// Kind names a record type. It doubles as the output file prefix.
type Kind string

const (
	KindUser        Kind = "users"
	KindTweet       Kind = "tweets"
	KindHashtag     Kind = "hashtags"
	KindFollows     Kind = "follows"
	KindFollowed    Kind = "followed"
	KindTweeted     Kind = "tweeted"
	KindRetweeted   Kind = "retweeted"
	KindReplied     Kind = "responds"
	KindMentions    Kind = "mentions"
	KindUsesHashtag Kind = "usesht"
)

// Kinds lists every record kind in output order.
var Kinds = []Kind{
	KindUser, KindTweet, KindHashtag, KindFollows, KindFollowed,
	KindTweeted, KindRetweeted, KindReplied, KindMentions, KindUsesHashtag,
}

var headers = map[Kind][]string{
	KindUser: {"uid", "name", "screen_name", "location", "description", "protected",
		"followers_count", "friends_count", "listed_count", "statuses_count", "created_at",
		"favourites_count", "verified", "default_profile", "default_profile_image"},
	KindTweet: {"uid", "text", "truncated", "is_quote_status", "retweet_count", "favorite_count",
		"possibly_sensitive", "lang", "permalink", "source", "media"},
	KindHashtag:     {"tag"},
	KindFollows:     {"follower_id", "followed_id", "follower_number"},
	KindFollowed:    {"followed_id", "follower_id"},
	KindTweeted:     {"user_id", "tweet_id"},
	KindRetweeted:   {"tweet_id", "retweeted_tweet_id"},
	KindReplied:     {"tweet_id", "replied_tweet_id"},
	KindMentions:    {"tweet_id", "user_id"},
	KindUsesHashtag: {"tweet_id", "hashtag"},
}

// Header returns the column names of kind.
func Header(kind Kind) []string {
	return headers[kind]
}

// Record is one vertex or edge row.
type Record interface {
	Kind() Kind
	// Key is the identity used for dedup within a kind.
	Key() string
	// Row returns the column values in Header order.
	Row() []string
}

// User is a user vertex. A placeholder carries only ID.
type User struct {
	ID                  string
	Name                string
	ScreenName          string
	Location            string
	Description         string
	Protected           bool
	FollowersCount      int
	FriendsCount        int
	ListedCount         int
	StatusesCount       int
	CreatedAt           string
	FavouritesCount     int
	Verified            bool
	DefaultProfile      bool
	DefaultProfileImage bool
	Placeholder         bool
}

func (u User) Kind() Kind  { return KindUser }
func (u User) Key() string { return u.ID }
func (u User) Row() []string {
	if u.Placeholder {
		return idOnly(u.ID, KindUser)
	}
	return []string{
		u.ID, clean(u.Name), u.ScreenName, clean(u.Location), clean(u.Description),
		strconv.FormatBool(u.Protected),
		strconv.Itoa(u.FollowersCount), strconv.Itoa(u.FriendsCount),
		strconv.Itoa(u.ListedCount), strconv.Itoa(u.StatusesCount),
		u.CreatedAt, strconv.Itoa(u.FavouritesCount),
		strconv.FormatBool(u.Verified), strconv.FormatBool(u.DefaultProfile),
		strconv.FormatBool(u.DefaultProfileImage),
	}
}

// Tweet is a tweet vertex. A placeholder carries only ID.
type Tweet struct {
	ID                string
	Text              string
	Truncated         bool
	IsQuoteStatus     bool
	RetweetCount      int
	FavoriteCount     int
	PossiblySensitive bool
	Lang              string
	Permalink         string
	Source            string
	Media             []string
	Placeholder       bool
}

func (t Tweet) Kind() Kind  { return KindTweet }
func (t Tweet) Key() string { return t.ID }
func (t Tweet) Row() []string {
	if t.Placeholder {
		return idOnly(t.ID, KindTweet)
	}
	return []string{
		t.ID, clean(t.Text),
		strconv.FormatBool(t.Truncated), strconv.FormatBool(t.IsQuoteStatus),
		strconv.Itoa(t.RetweetCount), strconv.Itoa(t.FavoriteCount),
		strconv.FormatBool(t.PossiblySensitive),
		t.Lang, t.Permalink, clean(t.Source), strings.Join(t.Media, " "),
	}
}

// Hashtag is a hashtag vertex, keyed by the tag as written.
type Hashtag struct{ Text string }

func (h Hashtag) Kind() Kind    { return KindHashtag }
func (h Hashtag) Key() string   { return h.Text }
func (h Hashtag) Row() []string { return []string{h.Text} }

// Follows is a follower edge. Rank is the follower's position in the
// followed user's list, 0 when unknown.
type Follows struct {
	FollowerID string
	FollowedID string
	Rank       int
}

func (f Follows) Kind() Kind  { return KindFollows }
func (f Follows) Key() string { return f.FollowerID + "|" + f.FollowedID }
func (f Follows) Row() []string {
	rank := ""
	if f.Rank > 0 {
		rank = strconv.Itoa(f.Rank)
	}
	return []string{f.FollowerID, f.FollowedID, rank}
}

// Followed is the reverse index of Follows written by friend listings.
type Followed struct {
	FollowedID string
	FollowerID string
}

func (f Followed) Kind() Kind    { return KindFollowed }
func (f Followed) Key() string   { return f.FollowedID + "|" + f.FollowerID }
func (f Followed) Row() []string { return []string{f.FollowedID, f.FollowerID} }

type Tweeted struct {
	UserID  string
	TweetID string
}

func (e Tweeted) Kind() Kind    { return KindTweeted }
func (e Tweeted) Key() string   { return e.UserID + "|" + e.TweetID }
func (e Tweeted) Row() []string { return []string{e.UserID, e.TweetID} }

// Retweeted links a retweet or quote to the tweet it carries.
type Retweeted struct {
	TweetID     string
	RetweetedID string
}

func (e Retweeted) Kind() Kind    { return KindRetweeted }
func (e Retweeted) Key() string   { return e.TweetID + "|" + e.RetweetedID }
func (e Retweeted) Row() []string { return []string{e.TweetID, e.RetweetedID} }

type Replied struct {
	TweetID   string
	RepliedID string
}

func (e Replied) Kind() Kind    { return KindReplied }
func (e Replied) Key() string   { return e.TweetID + "|" + e.RepliedID }
func (e Replied) Row() []string { return []string{e.TweetID, e.RepliedID} }

type Mentions struct {
	TweetID string
	UserID  string
}

func (e Mentions) Kind() Kind    { return KindMentions }
func (e Mentions) Key() string   { return e.TweetID + "|" + e.UserID }
func (e Mentions) Row() []string { return []string{e.TweetID, e.UserID} }

type UsesHashtag struct {
	TweetID string
	Hashtag string
}

func (e UsesHashtag) Kind() Kind    { return KindUsesHashtag }
func (e UsesHashtag) Key() string   { return e.TweetID + "|" + e.Hashtag }
func (e UsesHashtag) Row() []string { return []string{e.TweetID, e.Hashtag} }

func idOnly(id string, kind Kind) []string {
	row := make([]string, len(headers[kind]))
	row[0] = id
	return row
}

// clean collapses whitespace runs, line breaks included, so a row always
// fits on one line.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
