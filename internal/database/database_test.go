package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/config"
	"ladder-trade-bot-go/internal/models"
)

func TestNewDatabase(t *testing.T) {
	db, err := NewDatabase(config.Database{DSN: "file::memory:", MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)

	for _, model := range []interface{}{&models.Bot{}, &models.Order{}, &models.Trade{}, &models.Ticker{}} {
		assert.True(t, db.Migrator().HasTable(model))
	}
}
