package chookeye

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAlert(id int, title string, updatedAt time.Time) Alert {
	return Alert{
		ID:        id,
		Title:     title,
		Status:    StatusActive,
		UpdatedAt: updatedAt,
	}
}

func TestFeedStore_InsertAndSnapshotOrder(t *testing.T) {
	store := NewFeedStore(10)
	now := time.Now()

	store.Upsert(feedAlert(3, "third", now))
	store.Upsert(feedAlert(1, "first", now))
	store.Upsert(feedAlert(2, "second", now))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, []int{3, 1, 2}, []int{snapshot[0].ID, snapshot[1].ID, snapshot[2].ID},
		"snapshot preserves first-observed order")
}

func TestFeedStore_UpsertNeverDuplicatesIDs(t *testing.T) {
	store := NewFeedStore(10)
	now := time.Now()

	store.Upsert(feedAlert(7, "original", now))
	store.Upsert(feedAlert(7, "updated", now.Add(time.Second)))

	assert.Equal(t, 1, store.Len())

	alert, ok := store.Get(7)
	require.True(t, ok)
	assert.Equal(t, "updated", alert.Title, "an existing ID has its fields updated, not dropped")
}

func TestFeedStore_UpdatePreservesPosition(t *testing.T) {
	store := NewFeedStore(10)
	now := time.Now()

	store.Upsert(feedAlert(1, "a", now))
	store.Upsert(feedAlert(2, "b", now))
	store.Upsert(feedAlert(1, "a2", now.Add(time.Second)))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 1, snapshot[0].ID)
	assert.Equal(t, "a2", snapshot[0].Title)
}

func TestFeedStore_StaleUpdateRejected(t *testing.T) {
	store := NewFeedStore(10)
	now := time.Now()

	require.True(t, store.Upsert(feedAlert(5, "newer", now)))
	assert.False(t, store.Upsert(feedAlert(5, "older", now.Add(-time.Minute))),
		"a reordered push must not overwrite newer state")

	alert, _ := store.Get(5)
	assert.Equal(t, "newer", alert.Title)
}

func TestFeedStore_PushedAlertRendersByUrgency(t *testing.T) {
	store := NewFeedStore(10)

	alert := feedAlert(7, "fire", time.Now())
	alert.Urgency = 9
	store.Upsert(alert)

	require.Equal(t, 1, store.Len())
	got, ok := store.Get(7)
	require.True(t, ok)
	assert.Equal(t, 9, got.Urgency)
	assert.Equal(t, UrgencyHigh, got.UrgencyLevel())
}

func TestFeedStore_Remove(t *testing.T) {
	store := NewFeedStore(10)
	store.Upsert(feedAlert(1, "a", time.Now()))

	assert.True(t, store.Remove(1))
	assert.False(t, store.Remove(1))
	assert.Equal(t, 0, store.Len())
}

func TestFeedStore_CapacityEvictsOldest(t *testing.T) {
	store := NewFeedStore(3)
	now := time.Now()

	for i := 1; i <= 4; i++ {
		store.Upsert(feedAlert(i, fmt.Sprintf("alert-%d", i), now))
	}

	assert.Equal(t, 3, store.Len())
	_, ok := store.Get(1)
	assert.False(t, ok, "the oldest entry is evicted first")
	_, ok = store.Get(4)
	assert.True(t, ok)
}

func TestFeedStore_PruneOutside(t *testing.T) {
	store := NewFeedStore(10)
	now := time.Now()

	near := feedAlert(1, "near", now)
	near.Location = Location{Latitude: 10.0, Longitude: 20.0}
	far := feedAlert(2, "far", now)
	far.Location = Location{Latitude: 11.0, Longitude: 20.0} // ~111km away

	store.Upsert(near)
	store.Upsert(far)

	removed := store.PruneOutside(Location{Latitude: 10.0, Longitude: 20.0}, 1000)

	assert.Equal(t, 1, removed)
	_, ok := store.Get(1)
	assert.True(t, ok)
	_, ok = store.Get(2)
	assert.False(t, ok)
}

func TestFeedStore_OnChange(t *testing.T) {
	store := NewFeedStore(10)

	var seen []int
	sub := store.OnChange(func(alert Alert) {
		seen = append(seen, alert.ID)
	})

	store.Upsert(feedAlert(1, "a", time.Now()))
	store.Upsert(feedAlert(2, "b", time.Now()))
	sub.Off()
	store.Upsert(feedAlert(3, "c", time.Now()))

	assert.Equal(t, []int{1, 2}, seen)
}
