package gql

import (
	"fmt"
	"maps"

	glass "github.com/anatolykoptev/go-glass"
)

const graphqlBase = "https://x.com/i/api/graphql"

// BearerToken is the public web-app bearer token.
const BearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// Operation holds a GraphQL operation id with its feature flags and the
// fixed variables sent alongside caller parameters.
type Operation struct {
	ID           string
	Name         string
	Features     map[string]any
	Variables    map[string]any
	FieldToggles map[string]any
	// Paged operations accept count and cursor variables.
	Paged bool
}

// URL returns the full URL for this operation.
func (o Operation) URL() string {
	return fmt.Sprintf("%s/%s/%s", graphqlBase, o.ID, o.Name)
}

// variables merges params over the operation's fixed variables.
func (o Operation) variables(params glass.Params, pageSize int) map[string]any {
	v := maps.Clone(o.Variables)
	if v == nil {
		v = make(map[string]any)
	}
	maps.Copy(v, params)
	if o.Paged && pageSize > 0 {
		v["count"] = pageSize
	}
	return v
}

// Operations maps endpoints to their current GraphQL ids and feature flags.
var Operations = map[glass.Endpoint]Operation{
	glass.EndpointUserByScreenName: {
		ID: "1VOOyvKkiI3FMmkeDNxM9A", Name: "UserByScreenName", Features: gqlFeatures(),
		Variables: map[string]any{"withSafetyModeUserFields": true},
	},
	glass.EndpointUserByRestID: {
		ID: "WJ7rCtezBVT6nk6VM5R8Bw", Name: "UserByRestId", Features: gqlFeatures(),
		Variables: map[string]any{"withSafetyModeUserFields": true},
	},
	glass.EndpointFollowers: {
		ID: "Elc_-qTARceHpztqhI9PQA", Name: "Followers", Features: gqlFeatures(), Paged: true,
		Variables: map[string]any{"count": 100, "includePromotedContent": false},
	},
	glass.EndpointFollowing: {
		ID: "C1qZ6bs-L3oc_TKSZyxkXQ", Name: "Following", Features: gqlFeatures(), Paged: true,
		Variables: map[string]any{"count": 100, "includePromotedContent": false},
	},
	glass.EndpointUserTweets: {
		ID: "HeWHY26ItCfUmm1e6ITjeA", Name: "UserTweets", Features: gqlFeatures(), Paged: true,
		Variables: map[string]any{
			"count":                                  40,
			"includePromotedContent":                 false,
			"withQuickPromoteEligibilityTweetFields": true,
			"withVoice":                              true,
			"withV2Timeline":                         true,
		},
	},
	glass.EndpointSearch: {
		ID: "AIdc203rPpK_k_2KWSdm7g", Name: "SearchTimeline", Features: gqlFeatures(), Paged: true,
		Variables:    map[string]any{"count": 20, "querySource": "typed_query", "product": "Latest"},
		FieldToggles: map[string]any{"withArticleRichContentState": false},
	},
	glass.EndpointTweetDetail: {
		ID: "_8aYOgEDz35BrBcBal1-_w", Name: "TweetDetail", Features: gqlFeatures(),
		Variables: map[string]any{
			"with_rux_injections":    false,
			"includePromotedContent": false,
			"withCommunity":          true,
			"withBirdwatchNotes":     true,
			"withVoice":              true,
			"withV2Timeline":         true,
		},
		FieldToggles: map[string]any{"withArticleRichContentState": false},
	},
	glass.EndpointRetweeters: {
		ID: "i-CI8t2pJD15euZJErEDrg", Name: "Retweeters", Features: gqlFeatures(), Paged: true,
		Variables: map[string]any{"count": 20, "includePromotedContent": true},
	},
}

// gqlFeatures returns the canonical Twitter GraphQL feature flags.
func gqlFeatures() map[string]any {
	return map[string]any{
		"articles_preview_enabled":                                                false,
		"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
		"communities_web_enable_tweet_community_results_fetch":                    true,
		"creator_subscriptions_quote_tweet_preview_enabled":                       false,
		"creator_subscriptions_tweet_preview_api_enabled":                         true,
		"freedom_of_speech_not_reach_fetch_enabled":                               true,
		"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
		"longform_notetweets_consumption_enabled":                                 true,
		"longform_notetweets_inline_media_enabled":                                true,
		"longform_notetweets_rich_text_read_enabled":                              true,
		"premium_content_api_read_enabled":                                        false,
		"profile_label_improvements_pcf_label_in_post_enabled":                   false,
		"responsive_web_edit_tweet_api_enabled":                                   true,
		"responsive_web_enhance_cards_enabled":                                    false,
		"responsive_web_graphql_exclude_directive_enabled":                        true,
		"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
		"responsive_web_graphql_timeline_navigation_enabled":                      true,
		"responsive_web_grok_analyze_button_fetch_trends_enabled":                 false,
		"responsive_web_grok_analyze_post_followups_enabled":                      false,
		"responsive_web_grok_image_annotation_enabled":                            false,
		"responsive_web_grok_share_attachment_enabled":                            false,
		"responsive_web_media_download_video_enabled":                             false,
		"responsive_web_twitter_article_tweet_consumption_enabled":                true,
		"rweb_tipjar_consumption_enabled":                                         true,
		"rweb_video_timestamps_enabled":                                           true,
		"standardized_nudges_misinfo":                                             true,
		"tweet_awards_web_tipping_enabled":                                        false,
		"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
		"tweet_with_visibility_results_prefer_gql_media_interstitial_enabled":     false,
		"tweetypie_unmention_optimization_enabled":                                true,
		"verified_phone_label_enabled":                                            false,
		"view_counts_everywhere_api_enabled":                                      true,
	}
}
