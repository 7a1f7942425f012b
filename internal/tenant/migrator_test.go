package tenant

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUp(t *testing.T) {
	t.Parallel()

	store, err := openStore(filepath.Join(t.TempDir(), "test.db"), KindDoctor, 1)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// a new database should have a user_version of 0
	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 0, v)

	source := fstest.MapFS{
		"0001_first.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER PRIMARY KEY);`)},
		"0003_third.sql":  {Data: []byte(`CREATE TABLE c (id INTEGER PRIMARY KEY);`)},
		"0002_second.sql": {Data: []byte(`CREATE TABLE b (id INTEGER PRIMARY KEY);`)},
	}

	migrator := NewMigrator(store, zaptest.NewLogger(t))
	require.NoError(t, migrator.Up(ctx, source))

	v, err = store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 3, v)

	// running again is a no-op
	require.NoError(t, migrator.Up(ctx, source))

	tables, err := store.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, tables)
}

func TestUpFailureKeepsVersion(t *testing.T) {
	t.Parallel()

	store, err := openStore(filepath.Join(t.TempDir(), "test.db"), KindDoctor, 1)
	require.NoError(t, err)
	defer store.Close()

	source := fstest.MapFS{
		"0001_ok.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER PRIMARY KEY);`)},
		"0002_bad.sql": {Data: []byte(`CREATE TABLE nope (`)},
	}

	err = NewMigrator(store, zaptest.NewLogger(t)).Up(context.Background(), source)
	require.Error(t, err)

	v, err := store.userVersion()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestScriptVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     int
		wantErr  bool
	}{
		{"single digit number", "0001_some_file_name.sql", 1, false},
		{"larger number", "0921_another_file.sql", 921, false},
		{"bad name", "not_numbered_correctly.sql", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := scriptVersion(tt.filename)
			require.Equal(t, tt.want, got)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
