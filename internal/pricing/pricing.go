package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultPrice applies when no active price row exists for a card kind.
const DefaultPrice = 30000

// Pricing errors surfaced to callers.
var (
	ErrUnknownCardKind = errors.New("pricing: unknown card kind")
	ErrInvalidPrice    = errors.New("pricing: price must be greater than zero")
	ErrNotFound        = errors.New("pricing: price row not found")
)

// Service resolves and manages per-kind card prices.
type Service struct {
	db *gorm.DB
}

// NewService constructs a pricing service.
func NewService(db *gorm.DB) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db}
}

// GetPrice returns the active price for a card kind. Missing rows fall back
// to DefaultPrice so card creation never blocks on pricing data.
func (s *Service) GetPrice(ctx context.Context, cardKind string) float64 {
	if s == nil || s.db == nil {
		return DefaultPrice
	}
	kind := normalizeKind(cardKind)
	if kind == "" {
		return DefaultPrice
	}

	var row models.CardPricing
	errFind := s.db.WithContext(ctx).
		Where("card_kind = ? AND is_active = ?", kind, true).
		Order("updated_at DESC").
		First(&row).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warnf("pricing: lookup failed (kind=%s), using default", kind)
		}
		return DefaultPrice
	}
	if row.Price <= 0 {
		return DefaultPrice
	}
	return row.Price
}

// Save upserts the active price for a card kind.
func (s *Service) Save(ctx context.Context, cardKind string, price float64) (*models.CardPricing, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("pricing: service not initialized")
	}
	kind := normalizeKind(cardKind)
	if kind == "" {
		return nil, ErrUnknownCardKind
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	var saved models.CardPricing
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CardPricing
		errFind := tx.Where("card_kind = ? AND is_active = ?", kind, true).First(&existing).Error
		if errFind == nil {
			if errUpdate := tx.Model(&existing).Updates(map[string]any{
				"price": price,
			}).Error; errUpdate != nil {
				return errUpdate
			}
			existing.Price = price
			saved = existing
			return nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return errFind
		}
		row := models.CardPricing{
			ID:       uuid.NewString(),
			CardKind: kind,
			Price:    price,
			IsActive: true,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		saved = row
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &saved, nil
}

// Deactivate soft deletes the active price row for a card kind.
func (s *Service) Deactivate(ctx context.Context, cardKind string) error {
	if s == nil || s.db == nil {
		return errors.New("pricing: service not initialized")
	}
	kind := normalizeKind(cardKind)
	if kind == "" {
		return ErrUnknownCardKind
	}

	res := s.db.WithContext(ctx).
		Model(&models.CardPricing{}).
		Where("card_kind = ? AND is_active = ?", kind, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all active price rows.
func (s *Service) List(ctx context.Context) ([]models.CardPricing, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("pricing: service not initialized")
	}
	var rows []models.CardPricing
	if errFind := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("card_kind ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

func normalizeKind(cardKind string) string {
	kind := strings.ToUpper(strings.TrimSpace(cardKind))
	switch kind {
	case models.CardKindResident, models.CardKindElevator, models.CardKindVehicle:
		return kind
	default:
		return ""
	}
}
