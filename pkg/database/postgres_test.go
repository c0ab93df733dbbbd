package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/clearance-api/pkg/config"
)

func TestConnectionStrings(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "clearance",
		Password: "p@ss word",
		Name:     "clearance",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5432 user=clearance password=p@ss word dbname=clearance sslmode=disable", DSN(cfg))
	assert.Equal(t, "postgres://clearance:p%40ss%20word@db:5432/clearance?sslmode=disable", URL(cfg))
}
