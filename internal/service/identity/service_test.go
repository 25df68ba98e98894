package identity_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/db"
	apperr "github.com/driftchat/driftchat/internal/errors"
	"github.com/driftchat/driftchat/internal/service/identity"
)

func setupService(t *testing.T) (*identity.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := app.New(gdb, nil, logger)
	return identity.NewService(appCtx), gdb
}

func TestRegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	creds, err := svc.Register(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, creds.Token)
	require.NotEmpty(t, creds.Secret)

	ident, err := svc.Resolve(ctx, creds.Token)
	require.NoError(t, err)
	assert.True(t, ident.Active)

	// secret is stored hashed, never in the clear
	var stored db.Identity
	require.NoError(t, gdb.First(&stored, ident.ID).Error)
	assert.NotEqual(t, creds.Secret, stored.SecretHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.SecretHash), []byte(creds.Secret)))
}

func TestResolve_UnknownToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	_, err := svc.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHeartbeat_RefreshesActivity(t *testing.T) {
	ctx := context.Background()
	svc, gdb := setupService(t)

	creds, err := svc.Register(ctx)
	require.NoError(t, err)
	ident, err := svc.Resolve(ctx, creds.Token)
	require.NoError(t, err)

	// simulate a stale, deactivated identity
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, gdb.Model(&db.Identity{}).
		Where("id = ?", ident.ID).
		Updates(map[string]interface{}{"active": false, "last_seen_at": stale}).Error)

	require.NoError(t, svc.Heartbeat(ctx, ident.ID))

	var refreshed db.Identity
	require.NoError(t, gdb.First(&refreshed, ident.ID).Error)
	assert.True(t, refreshed.Active)
	assert.True(t, refreshed.LastSeenAt.After(stale))
}

func TestHeartbeat_UnknownIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	err := svc.Heartbeat(ctx, 12345)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
