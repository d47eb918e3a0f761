package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// SessionRepository persists the single active session in the sessions table.
//
// Writes run with synchronous=FULL (see [shared.OpenDatabase]) so a stored credential survives a crash right after Set returns.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Set replaces the stored session.
func (r *SessionRepository) Set(session *models.Session) error {
	if session == nil || session.Credential == "" {
		return fmt.Errorf("%w: empty credential", shared.ErrInvalidInput)
	}

	identity := session.Identity
	if identity == nil {
		identity = &models.Identity{}
	}

	_, err := r.db.Exec(`
		INSERT INTO sessions (id, credential, user_id, display_name, email, org_name, org_id, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			credential = excluded.credential,
			user_id = excluded.user_id,
			display_name = excluded.display_name,
			email = excluded.email,
			org_name = excluded.org_name,
			org_id = excluded.org_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		session.Credential,
		identity.ID,
		identity.DisplayName,
		identity.Email,
		identity.OrgName,
		identity.OrgID,
		session.ExpiresAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the stored session or [shared.ErrSessionNotFound].
func (r *SessionRepository) Get() (*models.Session, error) {
	var (
		session  models.Session
		identity models.Identity
	)

	err := r.db.QueryRow(`
		SELECT credential, user_id, display_name, email, org_name, org_id, expires_at
		FROM sessions WHERE id = 1
	`).Scan(&session.Credential, &identity.ID, &identity.DisplayName, &identity.Email, &identity.OrgName, &identity.OrgID, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if identity.ID != "" {
		session.Identity = &identity
	}
	return &session, nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (r *SessionRepository) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
