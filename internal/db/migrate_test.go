package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr bool
	}{
		{name: "postgres scheme", dsn: "postgres://u:p@localhost:5432/runsheet?sslmode=disable", want: "pgx5://u:p@localhost:5432/runsheet?sslmode=disable"},
		{name: "postgresql scheme", dsn: "postgresql://localhost/runsheet", want: "pgx5://localhost/runsheet"},
		{name: "already pgx5", dsn: "pgx5://localhost/runsheet", want: "pgx5://localhost/runsheet"},
		{name: "key value dsn", dsn: "host=localhost user=u password=secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MigrateURL(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs))
}
