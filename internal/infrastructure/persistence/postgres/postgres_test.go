package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rag-retrieval-api/internal/domain/repository"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return &Client{db: db}, mock
}

func TestFileRepositoryGetByIDMissing(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectQuery(`SELECT \* FROM "files"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	file, err := NewFileRepository(client).GetByID(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Nil(t, file)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryGetByIDError(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectQuery(`SELECT \* FROM "files"`).WillReturnError(errors.New("connection reset"))

	_, err := NewFileRepository(client).GetByID(context.Background(), "f-1")
	assert.ErrorContains(t, err, "connection reset")
}

func TestTxManagerCommit(t *testing.T) {
	client, mock := newMockClient(t)
	items := NewFileItemRepository(client)
	tx := NewTxManager(client)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "file_items"`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := tx.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, ctx.Value(repository.TxKey{}))
		// 嵌套调用复用外层事务
		return tx.WithTransaction(ctx, func(ctx context.Context) error {
			return items.DeleteByFile(ctx, "f-1")
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManagerRollback(t *testing.T) {
	client, mock := newMockClient(t)
	items := NewFileItemRepository(client)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "file_items"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("vector store unavailable")
	err := NewTxManager(client).WithTransaction(context.Background(), func(ctx context.Context) error {
		if err := items.ReplaceByFile(ctx, "f-1", nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchFilePagesGuards(t *testing.T) {
	client, mock := newMockClient(t)
	items := NewFileItemRepository(client)

	_, err := items.MatchFilePages(context.Background(), repository.MatchParams{
		Column:     "content; DROP TABLE files",
		MatchCount: 5,
		FileIDs:    []string{"f-1"},
	})
	assert.Error(t, err)

	rows, err := items.MatchFilePages(context.Background(), repository.MatchParams{
		Column:     "local_embedding",
		Embedding:  []float32{1, 0},
		MatchCount: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)

	pages, err := items.ListPagesByIDs(context.Background(), "u-1", []string{"f-1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
