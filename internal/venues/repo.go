package venues

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tickettoken/settlement/pkg/db/models"
)

// Repository manages persistence for venue settlement profiles.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, venueID uuid.UUID) (*models.VenueProfile, error)
	Upsert(ctx context.Context, profile *models.VenueProfile) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a venue profile repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns (nil, nil) when the venue has no profile.
func (r *repository) Find(ctx context.Context, venueID uuid.UUID) (*models.VenueProfile, error) {
	var profile models.VenueProfile
	err := r.db.WithContext(ctx).Where("venue_id = ?", venueID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) Upsert(ctx context.Context, profile *models.VenueProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "venue_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "state", "city", "zip", "network", "risk_tier", "updated_at"}),
		}).
		Create(profile).Error
}
