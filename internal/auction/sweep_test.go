package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-backend/internal/model"
	"venue-backend/internal/store"
	"venue-backend/internal/transport"
)

func TestSweep_NoWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	a := &model.Auction{ResourceID: res, EndTime: t0.Unix() - 1, BidIncrement: 100, BidCurrent: 5000, BidCount: 5, LastBidderUserID: model.NoBidder}
	require.NoError(t, f.store.CreateAuction(ctx, a))
	f.tr.SetLabels(res, transport.LabelInProgress)

	events, err := f.svc.Sweep(ctx, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].HasWinner())
	assert.Equal(t, 5, events[0].BidCount)
	assert.Equal(t, int64(5000), events[0].FinalBid)

	assert.Equal(t, []transport.Label{transport.LabelArchived}, f.tr.LabelsOf(res))
	notices := f.tr.ChannelNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, res, notices[0].To)
	assert.Contains(t, notices[0].Text, "no winner")
	assert.Empty(t, f.tr.UserNotices())

	_, err = f.store.GetAuction(ctx, res)
	assert.ErrorIs(t, err, store.ErrNotFound)
	participants, err := f.store.Participants(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, participants)

	// A second sweep finds nothing to do.
	events, err = f.svc.Sweep(ctx, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Len(t, f.tr.ChannelNotices(), 1)
}

func TestSweep_Winner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{PublicChannel: "-100:1", OperatorChannel: "-100:2"})
	a := f.begin(t, "1000", "300")
	_, err := f.svc.PlaceBid(ctx, res, "alice", "")
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, res, "bob", "")
	require.NoError(t, err)

	// Not due yet.
	events, err := f.svc.Sweep(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)

	bidMsgBefore, _ := f.tr.Message(a.BidMessageRef)
	events, err = f.svc.Sweep(ctx, a.EndsAt())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].WinnerUserID)
	assert.Equal(t, int64(1300), events[0].FinalBid)
	assert.Equal(t, 2, events[0].BidCount)
	assert.True(t, events[0].WinnerReached)

	bidMsg, _ := f.tr.Message(a.BidMessageRef)
	assert.Equal(t, bidMsgBefore.Edits+1, bidMsg.Edits)
	for _, c := range bidMsg.Message.Controls {
		assert.True(t, c.Disabled)
	}
	assert.True(t, bidMsg.Deleted)
	assert.Empty(t, f.tr.Live(res))

	users := f.tr.UserNotices()
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].To)
	assert.Contains(t, users[0].Text, "1,300 Gil")

	var toOperator int
	for _, n := range f.tr.ChannelNotices() {
		if n.To == "-100:2" {
			toOperator++
		}
	}
	assert.Equal(t, 1, toOperator)

	announcement, _ := f.tr.Message(a.AnnouncementMessageRef)
	assert.Contains(t, announcement.Message.Text, "has ended")

	settlements, err := f.svc.Settlements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.NotNil(t, settlements[0].DeliveredAt)
}

func TestSweep_UnreachableWinnerAnnouncedInThread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.begin(t, "1000", "300")
	_, err := f.svc.PlaceBid(ctx, res, "alice", "")
	require.NoError(t, err)
	f.tr.Forbid("alice")
	f.tr.Lose(a.BidMessageRef)

	events, err := f.svc.Sweep(ctx, a.EndsAt())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].WinnerReached)

	notices := f.tr.ChannelNotices()
	require.Len(t, notices, 2)
	assert.Contains(t, notices[1].Text, "@alice, you won this auction!")
}

func TestSweep_FailedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.begin(t, "1000", "300")

	f.tr.Err = errors.New("platform down")
	events, err := f.svc.Sweep(ctx, a.EndsAt())
	require.Error(t, err)
	assert.Empty(t, events)

	// The auction is settled durably even though nothing went out.
	_, err = f.store.GetAuction(ctx, res)
	assert.ErrorIs(t, err, store.ErrNotFound)
	pending, err := f.store.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.tr.Err = nil
	events, err = f.svc.Sweep(ctx, a.EndsAt().Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []transport.Label{transport.LabelArchived}, f.tr.LabelsOf(res))

	pending, err = f.store.PendingSettlements(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweep_WinnerNotifyErrorFallsBackOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.begin(t, "1000", "300")
	_, err := f.svc.PlaceBid(ctx, res, "alice", "")
	require.NoError(t, err)
	f.tr.FailUser("alice", errors.New("telegram: 502 bad gateway"))

	events, err := f.svc.Sweep(ctx, a.EndsAt())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].WinnerReached)

	for i := 1; i <= 2; i++ {
		events, err = f.svc.Sweep(ctx, a.EndsAt().Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	notices := f.tr.ChannelNotices()
	require.Len(t, notices, 2)
	assert.Contains(t, notices[0].Text, "This auction has ended!")
	assert.Contains(t, notices[1].Text, "@alice, you won this auction!")
	assert.Equal(t, []string{res}, f.tr.Purged())
	assert.Empty(t, f.tr.UserNotices())
}

func TestSweep_RetryAfterResultsSkipsPublicSteps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.begin(t, "1000", "300")
	_, err := f.svc.PlaceBid(ctx, res, "alice", "")
	require.NoError(t, err)

	f.tr.Err = errors.New("platform down")
	_, err = f.svc.Sweep(ctx, a.EndsAt())
	require.Error(t, err)
	pending, err := f.store.PendingSettlements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, f.store.MarkSettlementAnnounced(ctx, pending[0].ID, a.EndsAt()))

	// A new auction in the same thread must not be touched by the retry.
	f.tr.Err = nil
	f.tr.SetLabels(res, transport.LabelInProgress)
	events, err := f.svc.Sweep(ctx, a.EndsAt().Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].WinnerReached)

	assert.Equal(t, []transport.Label{transport.LabelInProgress}, f.tr.LabelsOf(res))
	assert.Empty(t, f.tr.Purged())
	assert.Empty(t, f.tr.ChannelNotices())
	users := f.tr.UserNotices()
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].To)
}
