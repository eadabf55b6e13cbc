package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/domain"
	"github.com/lumenpress/courier/internal/repository/memory"
	"github.com/lumenpress/courier/internal/worker"
)

// seedSentDelivery creates a campaign, recipient, and a delivery already
// handed to the provider.
func seedSentDelivery(t *testing.T, store *memory.Store, email, messageID string) (*domain.Campaign, *domain.Recipient) {
	t.Helper()
	ctx := context.Background()

	c := seedSendingCampaign(t, store, "c1")
	r := seedRecipient(t, store, email, domain.RecipientActive)

	now := time.Now().UTC()
	_, err := store.CreateDeliveries(ctx, []domain.Delivery{{
		CampaignID:  c.ID,
		RecipientID: r.ID,
		Email:       r.Email,
		Status:      domain.DeliveryQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}})
	require.NoError(t, err)
	require.NoError(t, store.MarkDeliverySent(ctx, c.ID, r.ID, messageID, now))
	return c, r
}

func TestHardBounceSuppressesRecipient(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "bouncer@example.com", "msg-1")
	in := worker.NewIngestor(store)
	ctx := context.Background()

	ev := domain.ProviderEvent{
		Type:       domain.EventBounce,
		BounceType: domain.BouncePermanent,
		Email:      "bouncer@example.com",
		CampaignID: c.ID,
		MessageID:  "msg-1",
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, in.Process(ctx, ev))

	del := store.GetDelivery(c.ID, r.ID)
	assert.Equal(t, domain.DeliveryBouncedHard, del.Status)

	got, err := store.RecipientByEmail(ctx, "bouncer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientSuppressed, got.Status)
	require.NotNil(t, got.SuppressedAt)

	// The provider redelivers the same event; nothing changes.
	firstSuppressedAt := *got.SuppressedAt
	require.NoError(t, in.Process(ctx, ev))
	again, err := store.RecipientByEmail(ctx, "bouncer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientSuppressed, again.Status)
	assert.Equal(t, firstSuppressedAt, *again.SuppressedAt)
	assert.Equal(t, domain.DeliveryBouncedHard, store.GetDelivery(c.ID, r.ID).Status)
}

func TestSoftBounceDoesNotSuppress(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "greylisted@example.com", "msg-1")
	in := worker.NewIngestor(store)

	require.NoError(t, in.Process(context.Background(), domain.ProviderEvent{
		Type:       domain.EventBounce,
		BounceType: domain.BounceTransient,
		Email:      "greylisted@example.com",
		CampaignID: c.ID,
		Timestamp:  time.Now().UTC(),
	}))

	assert.Equal(t, domain.DeliveryBouncedSoft, store.GetDelivery(c.ID, r.ID).Status)

	got, err := store.RecipientByEmail(context.Background(), "greylisted@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientActive, got.Status)
}

func TestComplaintSuppressesRecipient(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "annoyed@example.com", "msg-1")
	in := worker.NewIngestor(store)

	require.NoError(t, in.Process(context.Background(), domain.ProviderEvent{
		Type:       domain.EventComplaint,
		Email:      "Annoyed@Example.com", // mixed case must still match
		CampaignID: c.ID,
		Timestamp:  time.Now().UTC(),
	}))

	assert.Equal(t, domain.DeliveryComplained, store.GetDelivery(c.ID, r.ID).Status)

	got, err := store.RecipientByEmail(context.Background(), "annoyed@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientSuppressed, got.Status)
}

func TestUnmatchedEventDiscarded(t *testing.T) {
	store := memory.NewStore()
	in := worker.NewIngestor(store)

	err := in.Process(context.Background(), domain.ProviderEvent{
		Type:       domain.EventBounce,
		BounceType: domain.BouncePermanent,
		Email:      "stranger@example.com",
		CampaignID: "no-such-campaign",
		MessageID:  "msg-unknown",
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err, "unmatched events are discarded, not failed")
}

func TestDeliveryEventPromotesSent(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "reader@example.com", "msg-1")
	in := worker.NewIngestor(store)
	ctx := context.Background()

	ev := domain.ProviderEvent{
		Type:      domain.EventDelivery,
		Email:     "reader@example.com",
		MessageID: "msg-1",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, in.Process(ctx, ev))
	assert.Equal(t, domain.DeliveryDelivered, store.GetDelivery(c.ID, r.ID).Status)

	// Duplicate delivery event is a no-op.
	require.NoError(t, in.Process(ctx, ev))
	assert.Equal(t, domain.DeliveryDelivered, store.GetDelivery(c.ID, r.ID).Status)
}

func TestOpenImpliesDelivered(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "reader@example.com", "msg-1")
	in := worker.NewIngestor(store)
	ctx := context.Background()

	openAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, in.Process(ctx, domain.ProviderEvent{
		Type:      domain.EventOpen,
		Email:     "reader@example.com",
		MessageID: "msg-1",
		Timestamp: openAt,
	}))

	del := store.GetDelivery(c.ID, r.ID)
	assert.Equal(t, domain.DeliveryDelivered, del.Status)
	require.NotNil(t, del.OpenedAt)
	assert.Equal(t, openAt, *del.OpenedAt)

	// A second open keeps the first timestamp.
	require.NoError(t, in.Process(ctx, domain.ProviderEvent{
		Type:      domain.EventOpen,
		Email:     "reader@example.com",
		MessageID: "msg-1",
		Timestamp: openAt.Add(time.Hour),
	}))
	assert.Equal(t, openAt, *store.GetDelivery(c.ID, r.ID).OpenedAt)
}

func TestClickImpliesOpen(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "clicker@example.com", "msg-1")
	in := worker.NewIngestor(store)

	require.NoError(t, in.Process(context.Background(), domain.ProviderEvent{
		Type:      domain.EventClick,
		Email:     "clicker@example.com",
		MessageID: "msg-1",
		Timestamp: time.Now().UTC(),
	}))

	del := store.GetDelivery(c.ID, r.ID)
	assert.Equal(t, domain.DeliveryDelivered, del.Status)
	assert.NotNil(t, del.OpenedAt)
	assert.NotNil(t, del.ClickedAt)
}

func TestUnsubscribeEvent(t *testing.T) {
	store := memory.NewStore()
	c, r := seedSentDelivery(t, store, "done@example.com", "msg-1")
	in := worker.NewIngestor(store)

	require.NoError(t, in.Process(context.Background(), domain.ProviderEvent{
		Type:      domain.EventUnsub,
		Email:     "done@example.com",
		MessageID: "msg-1",
		Timestamp: time.Now().UTC(),
	}))

	assert.NotNil(t, store.GetDelivery(c.ID, r.ID).UnsubscribedAt)

	got, err := store.RecipientByEmail(context.Background(), "done@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientUnsubscribed, got.Status)
}

func TestSuppressionOutranksUnsubscribe(t *testing.T) {
	store := memory.NewStore()
	c, _ := seedSentDelivery(t, store, "both@example.com", "msg-1")
	in := worker.NewIngestor(store)
	ctx := context.Background()

	require.NoError(t, in.Process(ctx, domain.ProviderEvent{
		Type:       domain.EventBounce,
		BounceType: domain.BouncePermanent,
		Email:      "both@example.com",
		CampaignID: c.ID,
		Timestamp:  time.Now().UTC(),
	}))
	require.NoError(t, in.Process(ctx, domain.ProviderEvent{
		Type:      domain.EventUnsub,
		Email:     "both@example.com",
		MessageID: "msg-1",
		Timestamp: time.Now().UTC(),
	}))

	got, err := store.RecipientByEmail(ctx, "both@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientSuppressed, got.Status, "suppression is never downgraded")
}

func TestEnqueueNeverBlocks(t *testing.T) {
	store := memory.NewStore()
	in := worker.NewIngestor(store)

	ok := in.Enqueue(domain.ProviderEvent{Type: domain.EventOpen, Email: "x@example.com"})
	assert.True(t, ok)
}
