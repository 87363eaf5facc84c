package repository

import (
	"context"
	"time"

	"botarena/internal/common/db"
	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
)

// RatingRepository persists per-bot skill ratings. Updates happen under the
// same row locks as result ingestion so concurrent match results for the
// same bot serialize cleanly.
type RatingRepository interface {
	// Get returns the bot's rating row, creating a default one if absent.
	Get(ctx context.Context, userID, botID int64) (*model.BotRating, error)

	// UpdateBatch applies new ratings for every participant of one match,
	// bumping games_played, inside a single transaction.
	UpdateBatch(ctx context.Context, updates []model.BotRating) error
}

// MySQLRatingRepository implements RatingRepository on the bot_ratings table.
//
// Schema:
//
//	CREATE TABLE bot_ratings (
//	    user_id        BIGINT NOT NULL,
//	    bot_id         BIGINT NOT NULL,
//	    mu             DOUBLE NOT NULL,
//	    sigma          DOUBLE NOT NULL,
//	    score          DOUBLE NOT NULL,
//	    games_played   INT NOT NULL DEFAULT 0,
//	    version_number INT NOT NULL DEFAULT 0,
//	    updated_at     DATETIME(6) NOT NULL,
//	    PRIMARY KEY (user_id, bot_id)
//	);
type MySQLRatingRepository struct {
	database db.Database
	now      func() time.Time
}

// NewMySQLRatingRepository creates a rating repository over the given database.
func NewMySQLRatingRepository(database db.Database) *MySQLRatingRepository {
	return &MySQLRatingRepository{database: database, now: time.Now}
}

func (r *MySQLRatingRepository) Get(ctx context.Context, userID, botID int64) (*model.BotRating, error) {
	rating := &model.BotRating{UserID: userID, BotID: botID}
	err := r.database.QueryRow(ctx,
		"SELECT mu, sigma, games_played, version_number FROM bot_ratings WHERE user_id = ? AND bot_id = ?",
		userID, botID,
	).Scan(&rating.Rating.Mu, &rating.Rating.Sigma, &rating.GamesPlayed, &rating.VersionNumber)
	if db.IsNoRows(err) {
		rating.Rating = model.DefaultRating()
		rating.Score = rating.Rating.Score()
		return rating, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "read rating failed")
	}
	rating.Score = rating.Rating.Score()
	return rating, nil
}

func (r *MySQLRatingRepository) UpdateBatch(ctx context.Context, updates []model.BotRating) error {
	if len(updates) == 0 {
		return nil
	}
	return r.database.Transaction(ctx, func(tx db.Transaction) error {
		for _, update := range updates {
			_, err := tx.Exec(ctx,
				`INSERT INTO bot_ratings (user_id, bot_id, mu, sigma, score, games_played, version_number, updated_at)
				 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
				 ON DUPLICATE KEY UPDATE
				     mu = VALUES(mu), sigma = VALUES(sigma), score = VALUES(score),
				     games_played = games_played + 1, updated_at = VALUES(updated_at)`,
				update.UserID, update.BotID, update.Rating.Mu, update.Rating.Sigma,
				update.Rating.Score(), update.VersionNumber, r.now().UTC())
			if err != nil {
				return appErr.Wrapf(err, appErr.RatingUpdateFailed, "persist rating failed")
			}
		}
		return nil
	})
}
