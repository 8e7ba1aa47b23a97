package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"venue-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteStore returns a store over a private in-memory database.
func newSQLiteStore(t *testing.T) Store {
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&model.Reservation{},
		&model.RoomStats{},
		&model.Auction{},
		&model.BidHistoryEntry{},
		&model.Settlement{},
	))
	return NewGormStore(gdb)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

func TestGormStore_ExtendOccupancy_AmbiguousRollsBack(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reservations" WHERE resource_id = $1 AND is_reservation = $2`)).
		WithArgs(Any{}, false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "resource_id", "end_time", "is_reservation"}).
			AddRow(1, "-100:7", 100, false).
			AddRow(2, "-100:7", 200, false))
	mock.ExpectRollback()

	_, err := s.ExtendOccupancy(context.Background(), "-100:7", time.Hour)
	require.ErrorIs(t, err, ErrAmbiguousState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ApplyBid(t *testing.T) {
	auctionCols := []string{"id", "resource_id", "bid_increment", "bid_current", "bid_count", "last_bidder_user_id"}
	rejected := errors.New("rejected")

	testCases := []struct {
		name             string
		decide           BidDecider
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
	}{
		{
			name: "Decider rejects, nothing is written",
			decide: func(model.Auction) (model.BidHistoryEntry, error) {
				return model.BidHistoryEntry{}, rejected
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "auctions" WHERE resource_id = $1`)).
					WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(9, "-100:3", 300, 1000, 2, "alice"))
				mock.ExpectRollback()
			},
			expectedErr: rejected,
		},
		{
			name: "Concurrent bid wins the race",
			decide: func(a model.Auction) (model.BidHistoryEntry, error) {
				return model.BidHistoryEntry{UserID: "bob", BidDelta: a.BidIncrement, ResultingTotal: a.BidCurrent + a.BidIncrement}, nil
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "auctions" WHERE resource_id = $1`)).
					WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(9, "-100:3", 300, 1000, 2, "alice"))
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "auctions" SET`)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectedErr: ErrStaleWrite,
		},
		{
			name: "No auction",
			decide: func(model.Auction) (model.BidHistoryEntry, error) {
				t.Fatal("decider must not run without an auction")
				return model.BidHistoryEntry{}, nil
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "auctions" WHERE resource_id = $1`)).
					WillReturnRows(sqlmock.NewRows(auctionCols))
				mock.ExpectRollback()
			},
			expectedErr: ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			s := NewGormStore(gormDB)
			tc.mockExpectations(mock)

			_, _, err := s.ApplyBid(context.Background(), "-100:3", tc.decide)
			require.ErrorIs(t, err, tc.expectedErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_SettleAuction_AlreadySettled(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "auctions" WHERE "auctions"."id" = $1`)).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.SettleAuction(context.Background(), model.Auction{ID: 4, ResourceID: "-100:3"}, time.Now())
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_Checkout_RolloverInsertFailureRollsBack(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "reservations" WHERE "reservations"."id" = $1`)).
		WithArgs(11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "reservations" WHERE resource_id = $1 AND is_reservation = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "reservations"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	due := model.Reservation{ID: 11, ResourceID: "-100:7", EndTime: 1000}
	next, err := s.Checkout(context.Background(), due, 2*time.Hour)
	require.Error(t, err)
	assert.Nil(t, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_InsertReservation(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	occ := &model.Reservation{ResourceID: "r1", HolderUserID: "alice", DurationSeconds: 7200, EndTime: 5000}
	require.NoError(t, s.InsertReservation(ctx, occ))
	assert.NotZero(t, occ.ID)

	err := s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", HolderUserID: "bob", DurationSeconds: 60, EndTime: 6000})
	assert.ErrorIs(t, err, ErrSlotTaken)

	// A queued pre-reservation may coexist with the occupancy.
	pre := &model.Reservation{ResourceID: "r1", HolderUserID: "bob", DurationSeconds: 7200, EndTime: 12200, IsReservation: true}
	require.NoError(t, s.InsertReservation(ctx, pre))

	stats, err := s.RoomStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RentCount)
	assert.InDelta(t, 2.0, stats.RentTotalTimeHours, 1e-9)

	rows, err := s.ReservationsFor(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].IsReservation)
	assert.True(t, rows[1].IsReservation)
}

func TestGormStore_ExtendOccupancy_ShiftsQueued(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", HolderUserID: "alice", DurationSeconds: 3600, EndTime: 5000}))
	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", HolderUserID: "bob", DurationSeconds: 7200, EndTime: 12200, IsReservation: true}))

	updated, err := s.ExtendOccupancy(ctx, "r1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6800), updated.EndTime)

	rows, err := s.ReservationsFor(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(6800), rows[0].EndTime)
	assert.Equal(t, int64(14000), rows[1].EndTime)

	stats, err := s.RoomStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ExtensionCount)
	assert.InDelta(t, 1.5, stats.RentTotalTimeHours, 1e-9)

	_, err = s.ExtendOccupancy(ctx, "empty", time.Hour)
	assert.ErrorIs(t, err, ErrAmbiguousState)
}

func TestGormStore_Checkout(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	occ := &model.Reservation{ResourceID: "r1", HolderUserID: "alice", DurationSeconds: 3600, EndTime: 1000}
	require.NoError(t, s.InsertReservation(ctx, occ))

	next, err := s.Checkout(ctx, *occ, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.IsReservation)
	assert.Equal(t, int64(1000+7200), next.EndTime)

	// Second checkout of the same row is a no-op.
	_, err = s.Checkout(ctx, *occ, 2*time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := s.ReservationsFor(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, next.ID, rows[0].ID)

	// Reservation rows never roll over.
	none, err := s.Checkout(ctx, rows[0], 2*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, none)

	due, err := s.DueReservations(ctx, time.Unix(100000, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestGormStore_Checkout_KeepsQueuedHolder(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	occ := &model.Reservation{ResourceID: "r1", HolderUserID: "alice", DurationSeconds: 3600, EndTime: 1000}
	require.NoError(t, s.InsertReservation(ctx, occ))
	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", HolderUserID: "bob", DurationSeconds: 7200, EndTime: 8200, IsReservation: true}))

	next, err := s.Checkout(ctx, *occ, 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "bob", next.HolderUserID)
	assert.Equal(t, int64(8200), next.EndTime)
}

func TestGormStore_ClearResource(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", DurationSeconds: 60, EndTime: 10}))
	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r1", DurationSeconds: 60, EndTime: 20, IsReservation: true}))
	require.NoError(t, s.InsertReservation(ctx, &model.Reservation{ResourceID: "r2", DurationSeconds: 60, EndTime: 30}))

	removed, err := s.ClearResource(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	all, err := s.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ResourceID)
}

func TestGormStore_AuctionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	a := &model.Auction{ResourceID: "a1", EndTime: 500, BidIncrement: 100, BidCurrent: 1000}
	require.NoError(t, s.CreateAuction(ctx, a))
	assert.ErrorIs(t, s.CreateAuction(ctx, &model.Auction{ResourceID: "a1", EndTime: 1, BidIncrement: 1, BidCurrent: 1}), ErrAuctionExists)

	bid := func(user string, total int64) BidDecider {
		return func(cur model.Auction) (model.BidHistoryEntry, error) {
			return model.BidHistoryEntry{UserID: user, BidDelta: total - cur.BidCurrent, ResultingTotal: total}, nil
		}
	}
	_, _, err := s.ApplyBid(ctx, "a1", bid("alice", 1000))
	require.NoError(t, err)
	_, _, err = s.ApplyBid(ctx, "a1", bid("bob", 1100))
	require.NoError(t, err)
	got, entry, err := s.ApplyBid(ctx, "a1", bid("alice", 1500))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.BidCurrent)
	assert.Equal(t, 3, got.BidCount)
	assert.Equal(t, "alice", got.LastBidderUserID)
	assert.Equal(t, a.ID, entry.AuctionID)

	participants, err := s.Participants(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []Participant{{UserID: "alice", BestTotal: 1500}, {UserID: "bob", BestTotal: 1100}}, participants)

	extended, err := s.ExtendAuction(ctx, "a1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(560), extended.EndTime)

	due, err := s.DueAuctions(ctx, time.Unix(560, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)

	now := time.Unix(600, 0)
	settlement, err := s.SettleAuction(ctx, due[0], now)
	require.NoError(t, err)
	assert.Equal(t, "alice", settlement.WinnerUserID)
	assert.Equal(t, int64(1500), settlement.FinalBid)

	_, err = s.SettleAuction(ctx, due[0], now)
	assert.ErrorIs(t, err, ErrNotFound)

	participants, err = s.Participants(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, participants)

	pending, err := s.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].AnnouncedAt)
	require.NoError(t, s.MarkSettlementAnnounced(ctx, pending[0].ID, now))
	pending, err = s.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotNil(t, pending[0].AnnouncedAt)
	require.NoError(t, s.MarkSettlementDelivered(ctx, pending[0].ID, now))
	pending, err = s.PendingSettlements(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	listed, err := s.ListSettlements(ctx, 5)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotNil(t, listed[0].DeliveredAt)
}

func TestGormStore_DeleteAuction(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, err := s.DeleteAuction(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	a := &model.Auction{ResourceID: "a1", EndTime: 500, BidIncrement: 100, BidCurrent: 1000}
	require.NoError(t, s.CreateAuction(ctx, a))
	_, _, err = s.ApplyBid(ctx, "a1", func(cur model.Auction) (model.BidHistoryEntry, error) {
		return model.BidHistoryEntry{UserID: "alice", ResultingTotal: cur.BidCurrent}, nil
	})
	require.NoError(t, err)

	deleted, err := s.DeleteAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, deleted.ID)

	_, err = s.GetAuction(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}
