// Package proto defines the message types exchanged over the RPC surface.
package proto

import "time"

// RPC method names.
const (
	MethodMatch         = "Wat.Match"
	MethodAuthorize     = "Wat.Authorize"
	MethodStats         = "Wat.Stats"
	MethodWhitelistList = "Wat.WhitelistList"
)

// MatchRequest asks the core for reaction images matching a free-form
// expression on behalf of a user.
type MatchRequest struct {
	UserID     int64  `json:"user_id"`
	Expression string `json:"expression"`
	Mode       string `json:"mode"` // "single" or "ranked"
}

// MatchedWAT is one catalog entry in a match response. FileID is the largest
// size variant for direct replies; ThumbFileID the smallest, for inline
// thumbnails.
type MatchedWAT struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	FileIDs     []string `json:"file_ids"`
	FileID      string   `json:"file_id"`
	ThumbFileID string   `json:"thumb_file_id"`
	Tags        []string `json:"tags"`
}

// MatchResponse carries the selected images for a match request.
type MatchResponse struct {
	WATs     []MatchedWAT `json:"wats"`
	Wildcard bool         `json:"wildcard"`
	TookMs   float64      `json:"took_ms"`
}

// AuthorizeRequest checks whether a user may interact with the bot.
type AuthorizeRequest struct {
	UserID int64 `json:"user_id"`
}

// AuthorizeResponse reports the gate decision for a user.
type AuthorizeResponse struct {
	Authorized bool `json:"authorized"`
	Owner      bool `json:"owner"`
}

// WhitelistEntry is one whitelisted user.
type WhitelistEntry struct {
	UserID  int64     `json:"user_id"`
	Name    string    `json:"name,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// WhitelistListRequest lists whitelist entries. Only the owner may call it.
type WhitelistListRequest struct {
	UserID int64 `json:"user_id"`
}

// WhitelistListResponse carries the whitelist contents.
type WhitelistListResponse struct {
	Enabled bool             `json:"enabled"`
	Entries []WhitelistEntry `json:"entries"`
}

// StatsRequest asks for usage statistics. Owner only, like the whitelist
// listing.
type StatsRequest struct {
	UserID int64 `json:"user_id"`
	TopN   int   `json:"top_n"`
}

// ExpressionCount is one entry in the top-expressions ranking.
type ExpressionCount struct {
	Expression string `json:"expression"`
	Count      int64  `json:"count"`
}

// StatsResponse summarizes catalog size and match traffic.
type StatsResponse struct {
	CatalogSize    int               `json:"catalog_size"`
	TotalMatches   int64             `json:"total_matches"`
	WildcardRate   float64           `json:"wildcard_rate"`
	TopExpressions []ExpressionCount `json:"top_expressions"`
}
