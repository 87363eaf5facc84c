package model

// Rating is a bot's skill estimate. Score is derived, never stored
// independently of mu and sigma.
type Rating struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// Score is the conservative skill estimate used for ranking.
func (r Rating) Score() float64 {
	return r.Mu - 3*r.Sigma
}

// DefaultRating is assigned to a bot on its first submission.
func DefaultRating() Rating {
	return Rating{Mu: 25.0, Sigma: 25.0 / 3.0}
}

// BotRating is the persisted rating row for one bot version.
type BotRating struct {
	UserID        int64   `json:"user_id"`
	BotID         int64   `json:"bot_id"`
	Rating        Rating  `json:"rating"`
	Score         float64 `json:"score"`
	GamesPlayed   int     `json:"games_played"`
	VersionNumber int     `json:"version_number"`
}
