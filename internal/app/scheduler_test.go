package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelterflex/rent-service/internal/domain"
	"github.com/shelterflex/rent-service/pkg/ledger"
)

func TestRetryScheduler_RunOnceSendsDueItems(t *testing.T) {
	f := newSenderFixture(t)
	f.adapter.FailReceipt = func(ledger.ReceiptRequest) error { return errLedgerDown }
	item := f.create(t, "stripe:sweep")
	_, err := f.sender.Send(context.Background(), *item)
	require.NoError(t, err)
	f.adapter.FailReceipt = nil

	s := NewRetryScheduler(f.sender, discardLogger(), "@every 1m")
	s.now = func() time.Time { return time.Now().Add(time.Minute) }
	s.RunOnce()

	assert.Equal(t, domain.OutboxStatusSent, f.get(t, item.ID).Status)
}

func TestRetryScheduler_StartRejectsBadSchedule(t *testing.T) {
	f := newSenderFixture(t)
	s := NewRetryScheduler(f.sender, discardLogger(), "every now and then")
	require.Error(t, s.Start())

	ok := NewRetryScheduler(f.sender, discardLogger(), "@every 1h")
	require.NoError(t, ok.Start())
	<-ok.Stop().Done()
}
