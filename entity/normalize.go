package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	glass "github.com/anatolykoptev/go-glass"
)

// Resolver fetches a tweet that a record refers to but does not embed.
type Resolver interface {
	ResolveTweet(ctx context.Context, id string) (json.RawMessage, error)
}

// Index reports identities already written in this run.
type Index interface {
	Seen(kind Kind, key string) bool
}

// maxResolveDepth bounds how far up a reply chain tweets are fetched.
const maxResolveDepth = 1

// Normalizer maps raw records to vertex and edge records.
type Normalizer struct {
	resolver Resolver
	index    Index
}

// NewNormalizer returns a normalizer. Both arguments may be nil: without a
// resolver unknown replied-to tweets become placeholders, and without an
// index every replied-to tweet counts as unknown.
func NewNormalizer(resolver Resolver, index Index) *Normalizer {
	return &Normalizer{resolver: resolver, index: index}
}

// Normalize returns the records derived from raw, vertices before the edges
// that reference them.
func (n *Normalizer) Normalize(ctx context.Context, raw glass.RawRecord) ([]Record, error) {
	shape := ShapeOf(raw)
	b := &batch{n: n}

	var err error
	switch shape {
	case ShapeProfile:
		_, err = b.user(raw.Body)
	case ShapeFollower:
		err = b.follower(raw)
	case ShapeFriend:
		err = b.friend(raw)
	case ShapeRetweeter:
		err = b.retweeter(ctx, raw)
	case ShapeTweet, ShapeRetweet, ShapeReply, ShapeQuote:
		_, err = b.tweet(ctx, raw.Body, 0)
	default:
		return nil, fmt.Errorf("normalize %s record from %s: unrecognized shape", raw.Mode, raw.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("normalize %s %s: %w", raw.Mode, shape, err)
	}
	return b.out, nil
}

// batch collects the records of one Normalize call.
type batch struct {
	n   *Normalizer
	out []Record
}

func (b *batch) add(r Record) { b.out = append(b.out, r) }

func (b *batch) user(body json.RawMessage) (string, error) {
	var u userJSON
	if err := json.Unmarshal(body, &u); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}
	rec := u.record()
	if rec.ID == "" {
		return "", errors.New("user without id")
	}
	b.add(rec)
	return rec.ID, nil
}

// follower: body is the follower, subject the followed profile.
func (b *batch) follower(raw glass.RawRecord) error {
	followed, err := b.user(raw.Subject)
	if err != nil {
		return fmt.Errorf("followed: %w", err)
	}
	follower, err := b.user(raw.Body)
	if err != nil {
		return err
	}
	b.add(Follows{FollowerID: follower, FollowedID: followed, Rank: raw.Rank})
	return nil
}

// friend: body is the followed account, subject the profile following it.
func (b *batch) friend(raw glass.RawRecord) error {
	follower, err := b.user(raw.Subject)
	if err != nil {
		return fmt.Errorf("follower: %w", err)
	}
	followed, err := b.user(raw.Body)
	if err != nil {
		return err
	}
	b.add(Follows{FollowerID: follower, FollowedID: followed})
	b.add(Followed{FollowedID: followed, FollowerID: follower})
	return nil
}

// retweeter: body is the retweeting user, subject the retweeted tweet.
func (b *batch) retweeter(ctx context.Context, raw glass.RawRecord) error {
	if _, err := b.tweet(ctx, raw.Subject, 0); err != nil {
		return fmt.Errorf("retweeted tweet: %w", err)
	}
	_, err := b.user(raw.Body)
	return err
}

// tweet adds the tweet, its author and everything it references, and
// returns its id.
func (b *batch) tweet(ctx context.Context, body json.RawMessage, depth int) (string, error) {
	var s statusJSON
	if err := json.Unmarshal(body, &s); err != nil {
		return "", fmt.Errorf("decode tweet: %w", err)
	}
	tw := s.record()
	if tw.ID == "" {
		return "", errors.New("tweet without id")
	}
	b.add(tw)

	if s.User != nil {
		author := s.User.record()
		if author.ID != "" {
			b.add(author)
			b.add(Tweeted{UserID: author.ID, TweetID: tw.ID})
		}
	}

	for _, m := range s.entities().UserMentions {
		id := idOf(m.IDStr, m.ID)
		if id == "" {
			continue
		}
		b.add(User{ID: id, ScreenName: m.ScreenName, Name: m.Name})
		b.add(Mentions{TweetID: tw.ID, UserID: id})
	}
	for _, h := range s.entities().Hashtags {
		if h.Text == "" {
			continue
		}
		b.add(Hashtag{Text: h.Text})
		b.add(UsesHashtag{TweetID: tw.ID, Hashtag: h.Text})
	}

	// A retweet of a quote carries both; the quote belongs to the original.
	carried := s.RetweetedStatus
	if !present(carried) {
		carried = s.QuotedStatus
	}
	if present(carried) {
		id, err := b.tweet(ctx, carried, depth)
		if err != nil {
			return "", err
		}
		b.add(Retweeted{TweetID: tw.ID, RetweetedID: id})
	}

	if s.InReplyToStatusIDStr != "" {
		if err := b.reply(ctx, tw.ID, s.InReplyToStatusIDStr, depth); err != nil {
			return "", err
		}
	}
	return tw.ID, nil
}

// reply adds the replied-to tweet, fetching it when it has not been seen,
// and the edge to it.
func (b *batch) reply(ctx context.Context, id, repliedID string, depth int) error {
	defer b.add(Replied{TweetID: id, RepliedID: repliedID})

	if b.n.index != nil && b.n.index.Seen(KindTweet, repliedID) {
		return nil
	}
	if depth >= maxResolveDepth || b.n.resolver == nil {
		b.add(Tweet{ID: repliedID, Placeholder: true})
		return nil
	}

	body, err := b.n.resolver.ResolveTweet(ctx, repliedID)
	if err != nil {
		var se *glass.SubjectError
		if !errors.As(err, &se) && ctx.Err() == nil {
			return fmt.Errorf("resolve replied tweet %s: %w", repliedID, err)
		}
		slog.Debug("replied tweet unavailable, writing placeholder",
			slog.String("tweet", repliedID), slog.Any("error", err))
		b.add(Tweet{ID: repliedID, Placeholder: true})
		return nil
	}

	mark := len(b.out)
	if _, err := b.tweet(ctx, body, depth+1); err != nil {
		slog.Warn("replied tweet unreadable, writing placeholder",
			slog.String("tweet", repliedID), slog.Any("error", err))
		b.out = b.out[:mark]
		b.add(Tweet{ID: repliedID, Placeholder: true})
	}
	return nil
}

// --- v1.1 object shapes ---

type userJSON struct {
	IDStr               string          `json:"id_str"`
	ID                  json.RawMessage `json:"id"`
	Name                string          `json:"name"`
	ScreenName          string          `json:"screen_name"`
	Location            string          `json:"location"`
	Description         string          `json:"description"`
	Protected           bool            `json:"protected"`
	FollowersCount      int             `json:"followers_count"`
	FriendsCount        int             `json:"friends_count"`
	ListedCount         int             `json:"listed_count"`
	StatusesCount       int             `json:"statuses_count"`
	CreatedAt           string          `json:"created_at"`
	FavouritesCount     int             `json:"favourites_count"`
	Verified            bool            `json:"verified"`
	DefaultProfile      bool            `json:"default_profile"`
	DefaultProfileImage bool            `json:"default_profile_image"`
}

func (u userJSON) record() User {
	return User{
		ID:                  idOf(u.IDStr, u.ID),
		Name:                u.Name,
		ScreenName:          u.ScreenName,
		Location:            u.Location,
		Description:         u.Description,
		Protected:           u.Protected,
		FollowersCount:      u.FollowersCount,
		FriendsCount:        u.FriendsCount,
		ListedCount:         u.ListedCount,
		StatusesCount:       u.StatusesCount,
		CreatedAt:           u.CreatedAt,
		FavouritesCount:     u.FavouritesCount,
		Verified:            u.Verified,
		DefaultProfile:      u.DefaultProfile,
		DefaultProfileImage: u.DefaultProfileImage,
	}
}

type entitiesJSON struct {
	Hashtags []struct {
		Text string `json:"text"`
	} `json:"hashtags"`
	UserMentions []struct {
		IDStr      string          `json:"id_str"`
		ID         json.RawMessage `json:"id"`
		ScreenName string          `json:"screen_name"`
		Name       string          `json:"name"`
	} `json:"user_mentions"`
	Media []mediaJSON `json:"media"`
}

type mediaJSON struct {
	MediaURLHTTPS string `json:"media_url_https"`
	MediaURL      string `json:"media_url"`
}

type statusJSON struct {
	IDStr                string          `json:"id_str"`
	ID                   json.RawMessage `json:"id"`
	Text                 string          `json:"text"`
	FullText             string          `json:"full_text"`
	Truncated            bool            `json:"truncated"`
	IsQuoteStatus        bool            `json:"is_quote_status"`
	RetweetCount         int             `json:"retweet_count"`
	FavoriteCount        int             `json:"favorite_count"`
	PossiblySensitive    bool            `json:"possibly_sensitive"`
	Lang                 string          `json:"lang"`
	Source               string          `json:"source"`
	InReplyToStatusIDStr string          `json:"in_reply_to_status_id_str"`
	User                 *userJSON       `json:"user"`
	RetweetedStatus      json.RawMessage `json:"retweeted_status"`
	QuotedStatus         json.RawMessage `json:"quoted_status"`
	Entities             entitiesJSON    `json:"entities"`
	ExtendedEntities     struct {
		Media []mediaJSON `json:"media"`
	} `json:"extended_entities"`
	ExtendedTweet *struct {
		FullText string       `json:"full_text"`
		Entities entitiesJSON `json:"entities"`
	} `json:"extended_tweet"`
}

// entities prefers the untruncated entity set of long tweets.
func (s statusJSON) entities() entitiesJSON {
	if s.ExtendedTweet != nil {
		return s.ExtendedTweet.Entities
	}
	return s.Entities
}

func (s statusJSON) record() Tweet {
	id := idOf(s.IDStr, s.ID)
	text := s.Text
	switch {
	case s.ExtendedTweet != nil && s.ExtendedTweet.FullText != "":
		text = s.ExtendedTweet.FullText
	case s.FullText != "":
		text = s.FullText
	}

	media := s.ExtendedEntities.Media
	if len(media) == 0 {
		media = s.entities().Media
	}
	var urls []string
	for _, m := range media {
		u := m.MediaURLHTTPS
		if u == "" {
			u = m.MediaURL
		}
		if u != "" {
			urls = append(urls, u)
		}
	}

	return Tweet{
		ID:                id,
		Text:              text,
		Truncated:         s.Truncated,
		IsQuoteStatus:     s.IsQuoteStatus,
		RetweetCount:      s.RetweetCount,
		FavoriteCount:     s.FavoriteCount,
		PossiblySensitive: s.PossiblySensitive,
		Lang:              s.Lang,
		Permalink:         permalink(s.User, id),
		Source:            stripTags(s.Source),
		Media:             urls,
	}
}

func permalink(u *userJSON, id string) string {
	if u != nil && u.ScreenName != "" {
		return "https://twitter.com/" + u.ScreenName + "/status/" + id
	}
	return "https://twitter.com/i/web/status/" + id
}

var tags = regexp.MustCompile(`<[^>]*>`)

// stripTags reduces an HTML source anchor to its text.
func stripTags(s string) string {
	return strings.TrimSpace(tags.ReplaceAllString(s, ""))
}

// idOf prefers the string id and falls back to the numeric one.
func idOf(idStr string, id json.RawMessage) string {
	if idStr != "" {
		return idStr
	}
	v := strings.Trim(strings.TrimSpace(string(id)), `"`)
	if v == "null" {
		return ""
	}
	return v
}
