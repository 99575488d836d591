package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureUser inserts or touches the user row for an external identity and
// returns the internal user id. The updated_at refresh is throttled to once
// per minute to keep hot-path writes cheap.
func EnsureUser(ctx context.Context, db *pgxpool.Pool, externalID string) (string, error) {
	var userID string
	err := db.QueryRow(ctx,
		`INSERT INTO users (external_id) VALUES ($1)
		 ON CONFLICT (external_id) DO UPDATE
		 SET updated_at = CASE
		     WHEN users.updated_at < now() - interval '1 minute' THEN now()
		     ELSE users.updated_at
		 END
		 RETURNING id`, externalID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	return userID, nil
}
