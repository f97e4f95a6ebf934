package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "faers", Password: "p@ss word", DBName: "faers"}
	assert.Equal(t, "postgres://faers:p%40ss%20word@db:5433/faers?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")

	cfg.URL = "postgres://other/db"
	assert.Equal(t, "postgres://other/db", cfg.DSN())
}

func TestConnectRejectsOtherBackends(t *testing.T) {
	_, err := Connect(context.Background(), Config{Type: "mysql"})
	var backendErr *faerserrors.UnsupportedBackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "mysql", backendErr.Type)
}
