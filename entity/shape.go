package entity

import (
	"encoding/json"

	glass "github.com/anatolykoptev/go-glass"
)

// Shape discriminates what a raw record holds.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeProfile
	ShapeFollower
	ShapeFriend
	ShapeTweet
	ShapeRetweet
	ShapeReply
	ShapeQuote
	ShapeRetweeter
)

var shapeNames = [...]string{"unknown", "profile", "follower", "friend", "tweet", "retweet", "reply", "quote", "retweeter"}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "unknown"
}

// ShapeOf derives the shape of rec from its mode and, for tweet-bearing
// modes, the keys present in the body.
func ShapeOf(rec glass.RawRecord) Shape {
	switch rec.Mode {
	case glass.ModeProfile:
		return ShapeProfile
	case glass.ModeFollowers:
		return ShapeFollower
	case glass.ModeFriends:
		return ShapeFriend
	case glass.ModeRetweeters:
		return ShapeRetweeter
	}

	var probe struct {
		IDStr             string          `json:"id_str"`
		ID                json.RawMessage `json:"id"`
		RetweetedStatus   json.RawMessage `json:"retweeted_status"`
		QuotedStatus      json.RawMessage `json:"quoted_status"`
		InReplyToStatusID string          `json:"in_reply_to_status_id_str"`
	}
	if json.Unmarshal(rec.Body, &probe) != nil || idOf(probe.IDStr, probe.ID) == "" {
		return ShapeUnknown
	}
	switch {
	case present(probe.RetweetedStatus):
		return ShapeRetweet
	case present(probe.QuotedStatus):
		return ShapeQuote
	case probe.InReplyToStatusID != "":
		return ShapeReply
	}
	return ShapeTweet
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
