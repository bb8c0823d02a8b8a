// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateward/gateward/internal/antibot"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var banCols = []string{"id", "ip", "reason", "level", "permanent", "created_by", "created_at", "expires_at"}

func TestBanRepository_Create(t *testing.T) {
	now := time.Now()
	expires := now.Add(5 * time.Minute)
	ban := &antibot.Ban{
		ID:        ulid.Make(),
		IP:        "203.0.113.9",
		Reason:    "authentication failure threshold",
		Level:     1,
		CreatedBy: antibot.SystemActor,
		CreatedAt: now,
		ExpiresAt: &expires,
	}

	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO ip_bans`).
		WithArgs(ban.ID.String(), ban.IP, ban.Reason, ban.Level, ban.Permanent,
			ban.CreatedBy, ban.CreatedAt, ban.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewBanRepository(mock)
	require.NoError(t, repo.Create(context.Background(), ban))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBanRepository_GetActiveByIP(t *testing.T) {
	t.Run("returns active ban", func(t *testing.T) {
		id := ulid.Make()
		now := time.Now()
		expires := now.Add(time.Hour)

		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM ip_bans`).
			WithArgs("203.0.113.9", now).
			WillReturnRows(pgxmock.NewRows(banCols).
				AddRow(id.String(), "203.0.113.9", "griefing", 2, false, "admin_dave", now.Add(-time.Hour), &expires))

		repo := NewBanRepository(mock)
		ban, err := repo.GetActiveByIP(context.Background(), "203.0.113.9", now)
		require.NoError(t, err)
		assert.Equal(t, id, ban.ID)
		assert.Equal(t, 2, ban.Level)
		assert.False(t, ban.Permanent)
		require.NotNil(t, ban.ExpiresAt)
	})

	t.Run("no active ban wraps ErrNotFound", func(t *testing.T) {
		now := time.Now()
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM ip_bans`).
			WithArgs("198.51.100.1", now).
			WillReturnRows(pgxmock.NewRows(banCols))

		repo := NewBanRepository(mock)
		_, err := repo.GetActiveByIP(context.Background(), "198.51.100.1", now)
		require.ErrorIs(t, err, antibot.ErrNotFound)
	})
}

func TestBanRepository_DeactivateByIP(t *testing.T) {
	now := time.Now()
	mock := newMock(t)
	mock.ExpectExec(`UPDATE ip_bans SET permanent = FALSE`).
		WithArgs("203.0.113.9", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewBanRepository(mock)
	lifted, err := repo.DeactivateByIP(context.Background(), "203.0.113.9", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lifted)
}

func TestBanRepository_ListActive(t *testing.T) {
	now := time.Now()
	first := ulid.Make()
	second := ulid.Make()
	expires := now.Add(time.Hour)

	mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM ip_bans`).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(banCols).
			AddRow(first.String(), "203.0.113.1", "", 1, false, "system", now, &expires).
			AddRow(second.String(), "203.0.113.2", "bot farm", 0, true, "admin_dave", now.Add(-time.Minute), nil))

	repo := NewBanRepository(mock)
	bans, err := repo.ListActive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, bans, 2)
	assert.Equal(t, first, bans[0].ID)
	assert.True(t, bans[1].Permanent)
	assert.Nil(t, bans[1].ExpiresAt)
}
