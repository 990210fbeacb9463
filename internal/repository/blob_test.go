package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

type blobRepositoryFactory func(t *testing.T) BlobRepository

// blobRepositories は契約テストを実行する実装の一覧を返します
// 外部サービスを使う実装は接続先の環境変数が設定されている場合のみ含めます
func blobRepositories() map[string]blobRepositoryFactory {
	factories := map[string]blobRepositoryFactory{
		"memory": func(t *testing.T) BlobRepository {
			return NewMemoryBlobRepository()
		},
		"file/memmap": func(t *testing.T) BlobRepository {
			repo, err := NewFileBlobRepository(afero.NewMemMapFs(), "/data")
			require.NoError(t, err)
			return repo
		},
		"file/os": func(t *testing.T) BlobRepository {
			repo, err := NewFileBlobRepository(afero.NewOsFs(), t.TempDir())
			require.NoError(t, err)
			return repo
		},
		"sql/sqlite": func(t *testing.T) BlobRepository {
			conn, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "blobs.db"))
			require.NoError(t, err)
			conn.SetMaxOpenConns(1)
			return newSQLTestRepository(t, conn)
		},
	}
	if dsn := os.Getenv("RESERVATIONS_TEST_POSTGRES_DSN"); dsn != "" {
		factories["sql/postgres"] = func(t *testing.T) BlobRepository {
			conn, err := sqlx.Open("postgres", dsn)
			require.NoError(t, err)
			return newSQLTestRepository(t, conn)
		}
	}
	if dsn := os.Getenv("RESERVATIONS_TEST_MYSQL_DSN"); dsn != "" {
		factories["sql/mysql"] = func(t *testing.T) BlobRepository {
			conn, err := sqlx.Open("mysql", dsn)
			require.NoError(t, err)
			return newSQLTestRepository(t, conn)
		}
	}
	if addr := os.Getenv("RESERVATIONS_TEST_REDIS_ADDR"); addr != "" {
		factories["redis"] = func(t *testing.T) BlobRepository {
			client := redis.NewClient(&redis.Options{Addr: addr})
			t.Cleanup(func() { client.Close() })
			return NewRedisBlobRepository(client, "test:")
		}
	}
	return factories
}

func newSQLTestRepository(t *testing.T, conn *sqlx.DB) BlobRepository {
	t.Helper()
	t.Cleanup(func() { conn.Close() })
	db, err := NewDB(conn)
	require.NoError(t, err)
	repo := NewSQLBlobRepository(db)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

// testKey は共有の保存先でもテスト同士が衝突しないキーを返します
func testKey() string {
	return "test_" + uuid.NewString()
}

func TestBlobRepository_Contract(t *testing.T) {
	for name, newRepo := range blobRepositories() {
		t.Run(name, func(t *testing.T) {
			t.Run("存在しないキー", func(t *testing.T) {
				repo := newRepo(t)
				blob, version, err := repo.Get(context.Background(), testKey())
				require.NoError(t, err)
				require.Nil(t, blob)
				require.Equal(t, NoVersion, version)
			})

			t.Run("Set と Get", func(t *testing.T) {
				ctx := context.Background()
				repo := newRepo(t)
				key := testKey()

				v1, err := repo.Set(ctx, key, []byte(`[{"n":1}]`))
				require.NoError(t, err)
				require.NotEqual(t, NoVersion, v1)

				blob, got, err := repo.Get(ctx, key)
				require.NoError(t, err)
				require.JSONEq(t, `[{"n":1}]`, string(blob))
				require.Equal(t, v1, got)

				v2, err := repo.Set(ctx, key, []byte(`[{"n":2}]`))
				require.NoError(t, err)
				require.NotEqual(t, v1, v2)
			})

			t.Run("CompareAndSet はキーの不在を条件にできる", func(t *testing.T) {
				ctx := context.Background()
				repo := newRepo(t)
				key := testKey()

				v, err := repo.CompareAndSet(ctx, key, []byte(`[{"n":1}]`), NoVersion)
				require.NoError(t, err)
				require.NotEqual(t, NoVersion, v)

				_, err = repo.CompareAndSet(ctx, key, []byte(`[{"n":2}]`), NoVersion)
				require.ErrorIs(t, err, ErrVersionConflict)

				blob, got, err := repo.Get(ctx, key)
				require.NoError(t, err)
				require.JSONEq(t, `[{"n":1}]`, string(blob))
				require.Equal(t, v, got)
			})

			t.Run("古い版での CompareAndSet は何も書き込まない", func(t *testing.T) {
				ctx := context.Background()
				repo := newRepo(t)
				key := testKey()

				stale, err := repo.Set(ctx, key, []byte(`[{"n":1}]`))
				require.NoError(t, err)
				current, err := repo.CompareAndSet(ctx, key, []byte(`[{"n":2}]`), stale)
				require.NoError(t, err)

				_, err = repo.CompareAndSet(ctx, key, []byte(`[{"n":3}]`), stale)
				require.ErrorIs(t, err, ErrVersionConflict)

				blob, got, err := repo.Get(ctx, key)
				require.NoError(t, err)
				require.JSONEq(t, `[{"n":2}]`, string(blob))
				require.Equal(t, current, got)

				_, err = repo.CompareAndSet(ctx, key, []byte(`[{"n":3}]`), Version("not-a-version"))
				require.ErrorIs(t, err, ErrVersionConflict)
			})

			t.Run("Remove", func(t *testing.T) {
				ctx := context.Background()
				repo := newRepo(t)
				key := testKey()

				require.NoError(t, repo.Remove(ctx, key), "存在しないキーの削除も成功する")

				_, err := repo.Set(ctx, key, []byte(`[]`))
				require.NoError(t, err)
				require.NoError(t, repo.Remove(ctx, key))

				blob, version, err := repo.Get(ctx, key)
				require.NoError(t, err)
				require.Nil(t, blob)
				require.Equal(t, NoVersion, version)

				_, err = repo.CompareAndSet(ctx, key, []byte(`[{"n":1}]`), NoVersion)
				require.NoError(t, err, "削除後は再び不在を条件に書き込める")
			})

			t.Run("不正なキー", func(t *testing.T) {
				repo := newRepo(t)
				for _, key := range []string{"", "  ", "../escape", `a\b`} {
					_, _, err := repo.Get(context.Background(), key)
					require.ErrorIs(t, err, ErrInvalidKey, "key=%q", key)
				}
			})

			t.Run("同じ版での同時書き込みは1つだけ成功する", func(t *testing.T) {
				ctx := context.Background()
				repo := newRepo(t)
				key := testKey()

				base, err := repo.Set(ctx, key, []byte(`[]`))
				require.NoError(t, err)

				var succeeded atomic.Int32
				var g errgroup.Group
				for i := 0; i < 8; i++ {
					blob := []byte(fmt.Sprintf(`[{"n":%d}]`, i))
					g.Go(func() error {
						_, err := repo.CompareAndSet(ctx, key, blob, base)
						if errors.Is(err, ErrVersionConflict) {
							return nil
						}
						if err != nil {
							return err
						}
						succeeded.Add(1)
						return nil
					})
				}
				require.NoError(t, g.Wait())
				require.EqualValues(t, 1, succeeded.Load())
			})
		})
	}
}

func TestFileBlobRepository_FailedWriteKeepsPreviousBlob(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	writable, err := NewFileBlobRepository(base, "/data")
	require.NoError(t, err)

	version, err := writable.Set(ctx, "university_reservations", []byte(`[{"n":1}]`))
	require.NoError(t, err)

	// 読み取り専用のファイルシステムでは書き込みが失敗する
	readOnly := &FileBlobRepository{fs: afero.NewReadOnlyFs(base), dir: "/data"}
	_, err = readOnly.CompareAndSet(ctx, "university_reservations", []byte(`[{"n":2}]`), version)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrVersionConflict)

	blob, got, err := writable.Get(ctx, "university_reservations")
	require.NoError(t, err)
	require.JSONEq(t, `[{"n":1}]`, string(blob))
	require.Equal(t, version, got)
}

func TestFileBlobRepository_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	repo, err := NewFileBlobRepository(fsys, "/data")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := repo.Set(ctx, "university_reservations", []byte(fmt.Sprintf(`[{"n":%d}]`, i)))
		require.NoError(t, err)
	}

	entries, err := afero.ReadDir(fsys, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "university_reservations.json", entries[0].Name())
	require.Equal(t, "/data/university_reservations.json", repo.Path("university_reservations"))
}

func TestContentVersion(t *testing.T) {
	require.Equal(t, ContentVersion([]byte("a")), ContentVersion([]byte("a")))
	require.NotEqual(t, ContentVersion([]byte("a")), ContentVersion([]byte("b")))
	require.Len(t, string(ContentVersion(nil)), 64)
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{driver: "postgres", want: DialectPostgres},
		{driver: "mysql", want: DialectMySQL},
		{driver: "sqlite", want: DialectSQLite},
		{driver: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := DialectFor(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDB_InTx(t *testing.T) {
	ctx := context.Background()
	conn, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	db, err := NewDB(conn)
	require.NoError(t, err)
	repo := NewSQLBlobRepository(db)
	require.NoError(t, repo.EnsureSchema(ctx))

	insert := `INSERT INTO ` + blobTable + ` (blob_key, payload, version) VALUES (?, ?, ?)`

	t.Run("エラー時はロールバック", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.InTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := db.ExecTx(ctx, tx, insert, "rolled_back", `[]`, 1); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		blob, version, err := repo.Get(ctx, "rolled_back")
		require.NoError(t, err)
		require.Nil(t, blob)
		require.Equal(t, NoVersion, version)
	})

	t.Run("成功時はコミット", func(t *testing.T) {
		err := db.InTx(ctx, func(tx *sqlx.Tx) error {
			_, err := db.ExecTx(ctx, tx, insert, "committed", `[1]`, 7)
			return err
		})
		require.NoError(t, err)

		blob, version, err := repo.Get(ctx, "committed")
		require.NoError(t, err)
		require.Equal(t, `[1]`, string(blob))
		require.Equal(t, Version("7"), version)

		next, err := repo.CompareAndSet(ctx, "committed", []byte(`[2]`), version)
		require.NoError(t, err)
		require.Equal(t, Version("8"), next)
	})
}

func TestFileBlobRepository_SeparateInstancesShareLock(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	const writers = 8

	first, err := NewFileBlobRepository(fsys, "/data")
	require.NoError(t, err)
	base, err := first.Set(ctx, "university_reservations", []byte(`[]`))
	require.NoError(t, err)

	// 別プロセスに相当する独立したインスタンスが同じ版を条件に書き込む
	repos := make([]*FileBlobRepository, writers)
	for i := range repos {
		repos[i], err = NewFileBlobRepository(fsys, "/data")
		require.NoError(t, err)
	}

	var succeeded atomic.Int32
	var g errgroup.Group
	for i, repo := range repos {
		g.Go(func() error {
			_, err := repo.CompareAndSet(ctx, "university_reservations", []byte(fmt.Sprintf(`[{"writer":%d}]`, i)), base)
			switch {
			case err == nil:
				succeeded.Add(1)
				return nil
			case errors.Is(err, ErrVersionConflict):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, succeeded.Load())

	exists, err := afero.Exists(fsys, first.LockPath("university_reservations"))
	require.NoError(t, err)
	require.False(t, exists, "lock must be released")
}

func TestFileBlobRepository_Lock(t *testing.T) {
	fsys := afero.NewMemMapFs()
	repo, err := NewFileBlobRepository(fsys, "/data")
	require.NoError(t, err)
	version, err := repo.Set(context.Background(), "university_reservations", []byte(`[{"n":1}]`))
	require.NoError(t, err)

	lockPath := repo.LockPath("university_reservations")
	require.NoError(t, afero.WriteFile(fsys, lockPath, nil, 0o644))

	t.Run("ロック中は書き込めない", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := repo.CompareAndSet(ctx, "university_reservations", []byte(`[{"n":2}]`), version)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrVersionConflict)

		blob, _, err := repo.Get(context.Background(), "university_reservations")
		require.NoError(t, err)
		require.JSONEq(t, `[{"n":1}]`, string(blob))
	})

	t.Run("古いロックは取り除く", func(t *testing.T) {
		old := time.Now().Add(-2 * staleLockAge)
		require.NoError(t, fsys.Chtimes(lockPath, old, old))

		_, err := repo.CompareAndSet(context.Background(), "university_reservations", []byte(`[{"n":2}]`), version)
		require.NoError(t, err)

		exists, err := afero.Exists(fsys, lockPath)
		require.NoError(t, err)
		require.False(t, exists)
	})
}
