package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"venue-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Rooms
	InsertReservation(ctx context.Context, r *model.Reservation) error
	SetReservationMessage(ctx context.Context, id int64, ref string) error
	ReservationsFor(ctx context.Context, resourceID string) ([]model.Reservation, error)
	ListReservations(ctx context.Context) ([]model.Reservation, error)
	ExtendOccupancy(ctx context.Context, resourceID string, add time.Duration) (model.Reservation, error)
	DueReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)
	Checkout(ctx context.Context, due model.Reservation, rollover time.Duration) (*model.Reservation, error)
	ClearResource(ctx context.Context, resourceID string) ([]model.Reservation, error)
	RoomStats(ctx context.Context, resourceID string) (model.RoomStats, error)

	// Auctions
	CreateAuction(ctx context.Context, a *model.Auction) error
	GetAuction(ctx context.Context, resourceID string) (model.Auction, error)
	ApplyBid(ctx context.Context, resourceID string, decide BidDecider) (model.Auction, model.BidHistoryEntry, error)
	ExtendAuction(ctx context.Context, resourceID string, add time.Duration) (model.Auction, error)
	DeleteAuction(ctx context.Context, resourceID string) (model.Auction, error)
	DueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error)
	SettleAuction(ctx context.Context, a model.Auction, now time.Time) (model.Settlement, error)
	PendingSettlements(ctx context.Context) ([]model.Settlement, error)
	MarkSettlementAnnounced(ctx context.Context, id int64, at time.Time) error
	MarkSettlementDelivered(ctx context.Context, id int64, at time.Time) error
	ListSettlements(ctx context.Context, limit int) ([]model.Settlement, error)
	Participants(ctx context.Context, auctionID int64, limit int) ([]Participant, error)

	Counts(ctx context.Context) (Counts, error)
}

// BidDecider validates a bid against the current auction row and returns the
// history entry to append. Returning an error aborts the transaction.
type BidDecider func(current model.Auction) (model.BidHistoryEntry, error)

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// --- Rooms ---

// InsertReservation writes r and, for occupancies, bumps the room telemetry in
// the same transaction.
func (s *gormStore) InsertReservation(ctx context.Context, r *model.Reservation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&model.Reservation{}).
			Where("resource_id = ? AND is_reservation = ?", r.ResourceID, r.IsReservation).
			Count(&taken).Error; err != nil {
			return fmt.Errorf("failed to check reservation slot for %s: %w", r.ResourceID, err)
		}
		if taken > 0 {
			return ErrSlotTaken
		}

		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("failed to create reservation for %s: %w", r.ResourceID, err)
		}
		if r.IsReservation {
			return nil
		}
		return bumpStats(tx, r.ResourceID, map[string]any{
			"rent_count":            gorm.Expr("rent_count + ?", 1),
			"rent_total_time_hours": gorm.Expr("rent_total_time_hours + ?", r.Duration().Hours()),
		})
	})
}

// bumpStats lazily creates the telemetry row and applies the increments.
func bumpStats(tx *gorm.DB, resourceID string, updates map[string]any) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RoomStats{ResourceID: resourceID}).Error; err != nil {
		return fmt.Errorf("failed to create room stats for %s: %w", resourceID, err)
	}
	if err := tx.Model(&model.RoomStats{}).
		Where("resource_id = ?", resourceID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update room stats for %s: %w", resourceID, err)
	}
	return nil
}

func (s *gormStore) SetReservationMessage(ctx context.Context, id int64, ref string) error {
	res := s.db.WithContext(ctx).Model(&model.Reservation{}).Where("id = ?", id).Update("message_ref", ref)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) ReservationsFor(ctx context.Context, resourceID string) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("is_reservation, end_time").
		Find(&rows).Error
	return rows, err
}

func (s *gormStore) ListReservations(ctx context.Context) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := s.db.WithContext(ctx).Order("end_time, resource_id").Find(&rows).Error
	return rows, err
}

// ExtendOccupancy pushes the end of the single occupancy of resourceID (and
// of a queued pre-reservation, so it still starts when the occupancy ends).
func (s *gormStore) ExtendOccupancy(ctx context.Context, resourceID string, add time.Duration) (model.Reservation, error) {
	var updated model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var occupancies []model.Reservation
		if err := tx.Where("resource_id = ? AND is_reservation = ?", resourceID, false).
			Find(&occupancies).Error; err != nil {
			return err
		}
		if len(occupancies) != 1 {
			return fmt.Errorf("%w: %d occupancy rows for %s", ErrAmbiguousState, len(occupancies), resourceID)
		}

		secs := int64(add / time.Second)
		updated = occupancies[0]
		updated.EndTime += secs
		if err := tx.Model(&model.Reservation{}).
			Where("id = ?", updated.ID).
			Update("end_time", updated.EndTime).Error; err != nil {
			return fmt.Errorf("failed to extend reservation %d: %w", updated.ID, err)
		}
		if err := tx.Model(&model.Reservation{}).
			Where("resource_id = ? AND is_reservation = ?", resourceID, true).
			Update("end_time", gorm.Expr("end_time + ?", secs)).Error; err != nil {
			return fmt.Errorf("failed to shift queued reservation for %s: %w", resourceID, err)
		}
		return bumpStats(tx, resourceID, map[string]any{
			"extension_count":       gorm.Expr("extension_count + ?", 1),
			"rent_total_time_hours": gorm.Expr("rent_total_time_hours + ?", add.Hours()),
		})
	})
	return updated, err
}

func (s *gormStore) DueReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var rows []model.Reservation
	err := s.db.WithContext(ctx).
		Where("end_time <= ?", now.Unix()).
		Order("end_time, id").
		Find(&rows).Error
	return rows, err
}

// Checkout removes an expired row. For an occupancy with rollover > 0 the
// resource's pre-reservation is made to run from the old end time for
// rollover, creating it when nobody queued. Both writes share a transaction.
// ErrNotFound means the row was already checked out.
func (s *gormStore) Checkout(ctx context.Context, due model.Reservation, rollover time.Duration) (*model.Reservation, error) {
	var next *model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Reservation{}, due.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to delete reservation %d: %w", due.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if due.IsReservation || rollover <= 0 {
			return nil
		}

		end := due.EndTime + int64(rollover/time.Second)
		var queued model.Reservation
		err := tx.Where("resource_id = ? AND is_reservation = ?", due.ResourceID, true).First(&queued).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			queued = model.Reservation{
				ResourceID:      due.ResourceID,
				DurationSeconds: int64(rollover / time.Second),
				EndTime:         end,
				IsReservation:   true,
			}
			if err := tx.Create(&queued).Error; err != nil {
				return fmt.Errorf("failed to create rollover reservation for %s: %w", due.ResourceID, err)
			}
		case err != nil:
			return err
		default:
			queued.EndTime = end
			queued.DurationSeconds = int64(rollover / time.Second)
			if err := tx.Model(&model.Reservation{}).Where("id = ?", queued.ID).
				Updates(map[string]any{"end_time": queued.EndTime, "duration_seconds": queued.DurationSeconds}).Error; err != nil {
				return fmt.Errorf("failed to activate reservation %d: %w", queued.ID, err)
			}
		}
		next = &queued
		return nil
	})
	return next, err
}

func (s *gormStore) ClearResource(ctx context.Context, resourceID string) ([]model.Reservation, error) {
	var removed []model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).Find(&removed).Error; err != nil {
			return err
		}
		return tx.Where("resource_id = ?", resourceID).Delete(&model.Reservation{}).Error
	})
	return removed, err
}

func (s *gormStore) RoomStats(ctx context.Context, resourceID string) (model.RoomStats, error) {
	var stats model.RoomStats
	err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&stats).Error
	return stats, err
}

// --- Auctions ---

func (s *gormStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Auction{}).Where("resource_id = ?", a.ResourceID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAuctionExists
		}
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("failed to create auction for %s: %w", a.ResourceID, err)
		}
		return nil
	})
}

func (s *gormStore) GetAuction(ctx context.Context, resourceID string) (model.Auction, error) {
	var a model.Auction
	err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&a).Error
	return a, err
}

// ApplyBid loads the auction, lets decide validate the bid, then writes the
// new total and the history entry atomically. The update is conditional on
// bid_count so a concurrent bid surfaces as ErrStaleWrite.
func (s *gormStore) ApplyBid(ctx context.Context, resourceID string, decide BidDecider) (model.Auction, model.BidHistoryEntry, error) {
	var (
		a     model.Auction
		entry model.BidHistoryEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).First(&a).Error; err != nil {
			return err
		}
		var err error
		entry, err = decide(a)
		if err != nil {
			return err
		}

		res := tx.Model(&model.Auction{}).
			Where("id = ? AND bid_count = ?", a.ID, a.BidCount).
			Updates(map[string]any{
				"bid_current":         entry.ResultingTotal,
				"bid_count":           a.BidCount + 1,
				"last_bidder_user_id": entry.UserID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update auction %d: %w", a.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleWrite
		}

		entry.AuctionID = a.ID
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to append bid history for auction %d: %w", a.ID, err)
		}
		a.BidCurrent = entry.ResultingTotal
		a.BidCount++
		a.LastBidderUserID = entry.UserID
		return nil
	})
	return a, entry, err
}

func (s *gormStore) ExtendAuction(ctx context.Context, resourceID string, add time.Duration) (model.Auction, error) {
	var a model.Auction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).First(&a).Error; err != nil {
			return err
		}
		a.EndTime += int64(add / time.Second)
		return tx.Model(&model.Auction{}).Where("id = ?", a.ID).Update("end_time", a.EndTime).Error
	})
	return a, err
}

// DeleteAuction removes the auction and its bid history.
func (s *gormStore) DeleteAuction(ctx context.Context, resourceID string) (model.Auction, error) {
	var a model.Auction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).First(&a).Error; err != nil {
			return err
		}
		if err := tx.Where("auction_id = ?", a.ID).Delete(&model.BidHistoryEntry{}).Error; err != nil {
			return fmt.Errorf("failed to drop bid history for auction %d: %w", a.ID, err)
		}
		return tx.Delete(&model.Auction{}, a.ID).Error
	})
	return a, err
}

func (s *gormStore) DueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error) {
	var rows []model.Auction
	err := s.db.WithContext(ctx).
		Where("end_time <= ?", now.Unix()).
		Order("end_time, id").
		Find(&rows).Error
	return rows, err
}

// SettleAuction archives a: the auction and its history go away and a
// Settlement row takes their place in one transaction. ErrNotFound means the
// auction was already settled or cancelled.
func (s *gormStore) SettleAuction(ctx context.Context, a model.Auction, now time.Time) (model.Settlement, error) {
	settlement := model.Settlement{
		AuctionID:              a.ID,
		ResourceID:             a.ResourceID,
		WinnerUserID:           a.LastBidderUserID,
		FinalBid:               a.BidCurrent,
		BidCount:               a.BidCount,
		BidMessageRef:          a.BidMessageRef,
		AnnouncementMessageRef: a.AnnouncementMessageRef,
		EndTime:                a.EndTime,
		SettledAt:              now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Auction{}, a.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to delete auction %d: %w", a.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("auction_id = ?", a.ID).Delete(&model.BidHistoryEntry{}).Error; err != nil {
			return fmt.Errorf("failed to drop bid history for auction %d: %w", a.ID, err)
		}
		if err := tx.Create(&settlement).Error; err != nil {
			return fmt.Errorf("failed to record settlement for auction %d: %w", a.ID, err)
		}
		return nil
	})
	return settlement, err
}

func (s *gormStore) PendingSettlements(ctx context.Context) ([]model.Settlement, error) {
	var rows []model.Settlement
	err := s.db.WithContext(ctx).Where("delivered_at IS NULL").Order("id").Find(&rows).Error
	return rows, err
}

func (s *gormStore) MarkSettlementAnnounced(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Settlement{}).
		Where("id = ? AND announced_at IS NULL", id).
		Update("announced_at", at).Error
}

func (s *gormStore) MarkSettlementDelivered(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Settlement{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
}

func (s *gormStore) ListSettlements(ctx context.Context, limit int) ([]model.Settlement, error) {
	var rows []model.Settlement
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *gormStore) Participants(ctx context.Context, auctionID int64, limit int) ([]Participant, error) {
	var rows []struct {
		UserID    string
		BestTotal int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.BidHistoryEntry{}).
		Select("user_id, MAX(resulting_total) AS best_total").
		Where("auction_id = ?", auctionID).
		Group("user_id").
		Order("best_total DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Participant, len(rows))
	for i, r := range rows {
		out[i] = Participant{UserID: r.UserID, BestTotal: r.BestTotal}
	}
	return out, nil
}

func (s *gormStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Reservation{}).Where("is_reservation = ?", false).Count(&c.Occupancies).Error; err != nil {
		return c, err
	}
	if err := db.Model(&model.Reservation{}).Where("is_reservation = ?", true).Count(&c.PreReservations).Error; err != nil {
		return c, err
	}
	if err := db.Model(&model.Auction{}).Count(&c.Auctions).Error; err != nil {
		return c, err
	}
	if err := db.Model(&model.Settlement{}).Where("delivered_at IS NULL").Count(&c.Pending).Error; err != nil {
		return c, err
	}
	return c, nil
}
