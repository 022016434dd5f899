package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/spire-automator/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "spire", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=spire sslmode=disable", dsn)
}

func TestNewPostgresDisabled(t *testing.T) {
	db, err := NewPostgres(context.Background(), config.DatabaseConfig{})
	assert.NoError(t, err)
	assert.Nil(t, db)
}
