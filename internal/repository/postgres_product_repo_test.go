package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/recipeman/internal/model"
)

func strPtr(s string) *string { return &s }

func TestPostgresProductRepo_FindAll(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products ORDER BY created_at, id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "image"}).
			AddRow("p1", "Curry", "Spicy", "").
			AddRow("p2", "Miso soup", "Warm", "https://example.com/miso.jpg"))

	products, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Product{
		{ID: "p1", Title: "Curry", Description: "Spicy"},
		{ID: "p2", Title: "Miso soup", Description: "Warm", Image: "https://example.com/miso.jpg"},
	}, products)
}

func TestPostgresProductRepo_FindAll_EmptyIsNotNil(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectQuery("FROM products").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "image"}))

	products, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

func TestPostgresProductRepo_FindAll_QueryError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectQuery("FROM products").WillReturnError(errors.New("connection refused"))

	_, err := repo.FindAll(context.Background())
	assert.ErrorContains(t, err, "failed to query products")
}

func TestPostgresProductRepo_Create_ReturnsAssignedID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectQuery("INSERT INTO products").
		WithArgs("Curry", "Spicy", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("new-id"))

	p, err := repo.Create(context.Background(), model.NewProductFields("Curry", "Spicy", ""))
	require.NoError(t, err)
	assert.Equal(t, model.Product{ID: "new-id", Title: "Curry", Description: "Spicy"}, p)
}

func TestPostgresProductRepo_Update_OnlyGivenFields(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET title = $1, updated_at = now() WHERE id = $2")).
		WithArgs("Green curry", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "p1", model.ProductFields{Title: strPtr("Green curry")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProductRepo_Update_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), "missing", model.NewProductFields("a", "b", ""))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresProductRepo_Delete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "p1"))
}

func TestPostgresProductRepo_Delete_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresProductRepo(db)

	mock.ExpectExec("DELETE FROM products").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "p1"), ErrNotFound)
}
