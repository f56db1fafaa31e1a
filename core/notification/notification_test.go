package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liceojbh/intranet/core/notification"
	testutil "github.com/liceojbh/intranet/tests"
)

func TestService(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.NotificationSvc

	require.NoError(t, svc.Notify(ctx, "u1", notification.KindGrade, "Nueva nota: 6.0", "", "/notas"))
	require.NoError(t, svc.Notify(ctx, "u1", notification.KindNews, "Feria científica", "", "/noticias/feria"))
	require.NoError(t, svc.Notify(ctx, "u2", notification.KindGrade, "Nueva nota: 4.0", "", "/notas"))

	list, unread, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
	require.Len(t, list, 2)

	n, err := svc.MarkRead(ctx, "u2", list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "users cannot mark the notifications of others")

	n, err = svc.MarkRead(ctx, "u1", list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, unread, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	t.Run("purge keeps recent and unread notifications", func(t *testing.T) {
		n, err := svc.Purge(ctx, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = svc.Purge(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		list, unread, err := svc.List(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, 1, unread)
	})

	t.Run("mark all", func(t *testing.T) {
		n, err := svc.MarkRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = svc.MarkRead(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
