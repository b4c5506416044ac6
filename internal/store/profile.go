package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/targetlock/internal/pose"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Profile is a named camera model. Width and Height record the resolution the
// intrinsics were calibrated at; zero means unknown.
type Profile struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Intrinsics pose.Intrinsics `json:"intrinsics"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ProfileRepository provides CRUD operations for camera profiles.
type ProfileRepository struct {
	db *sql.DB
}

// Profiles returns the profile repository for this store.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.db}
}

const profileColumns = `id, name, width, height, k, d, created_at, updated_at`

// Create inserts p, assigning an ID when it has none.
func (r *ProfileRepository) Create(p *Profile) error {
	if err := p.Intrinsics.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	k, d, err := encodeIntrinsics(p.Intrinsics)
	if err != nil {
		return err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = r.db.Exec(
		`INSERT INTO camera_profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Width, p.Height, k, d, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID retrieves a profile by its ID.
func (r *ProfileRepository) GetByID(id string) (*Profile, error) {
	return scanProfile(r.db.QueryRow(`SELECT `+profileColumns+` FROM camera_profiles WHERE id = ?`, id))
}

// GetByName retrieves a profile by its name.
func (r *ProfileRepository) GetByName(name string) (*Profile, error) {
	return scanProfile(r.db.QueryRow(`SELECT `+profileColumns+` FROM camera_profiles WHERE name = ?`, name))
}

// List retrieves all profiles ordered by name.
func (r *ProfileRepository) List() ([]*Profile, error) {
	rows, err := r.db.Query(`SELECT ` + profileColumns + ` FROM camera_profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

// Update updates an existing profile.
func (r *ProfileRepository) Update(p *Profile) error {
	if err := p.Intrinsics.Validate(); err != nil {
		return err
	}
	k, d, err := encodeIntrinsics(p.Intrinsics)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE camera_profiles SET name = ?, width = ?, height = ?, k = ?, d = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Width, p.Height, k, d, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a profile by its ID.
func (r *ProfileRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM camera_profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var k, d string

	err := row.Scan(&p.ID, &p.Name, &p.Width, &p.Height, &k, &d, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(k), &p.Intrinsics.K); err != nil {
		return nil, fmt.Errorf("profile %s: decode k: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(d), &p.Intrinsics.D); err != nil {
		return nil, fmt.Errorf("profile %s: decode d: %w", p.ID, err)
	}
	if len(p.Intrinsics.D) == 0 {
		p.Intrinsics.D = nil
	}
	return p, nil
}

func encodeIntrinsics(in pose.Intrinsics) (k, d string, err error) {
	kb, err := json.Marshal(in.K)
	if err != nil {
		return "", "", err
	}
	dist := in.D
	if dist == nil {
		dist = []float64{}
	}
	db, err := json.Marshal(dist)
	if err != nil {
		return "", "", err
	}
	return string(kb), string(db), nil
}
