package content

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreListsNewestFirstForProduct(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(
		Testimonial{ID: "1", ProductSlug: "course", Author: "Ana", Quote: "Great", CreatedAt: base},
		Testimonial{ID: "2", ProductSlug: "course", Author: "Ben", Quote: "Loved it", CreatedAt: base.Add(48 * time.Hour)},
		Testimonial{ID: "3", ProductSlug: "other", Author: "Cy", Quote: "Meh", CreatedAt: base.Add(time.Hour)},
		Testimonial{ID: "4", ProductSlug: "COURSE", Author: "Di", Quote: "Solid", CreatedAt: base.Add(24 * time.Hour)},
	)

	got, err := store.ListApproved(context.Background(), "course", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2", got[0].ID)
	require.Equal(t, "4", got[1].ID)

	got, err = store.ListApproved(context.Background(), "missing", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}
