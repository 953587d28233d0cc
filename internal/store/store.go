package store

import (
	"context"
	"errors"
	"time"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	AddStock(ctx context.Context, productID string, qty int, costPriceCents int64) (*domain.Product, error)

	// CreateSale persists the header and all lines as one atomic write and
	// decrements on-hand stock per line, failing the whole sale when any
	// product cannot cover its quantity.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpenses(ctx context.Context) ([]domain.Expense, error)
	ExpenseTotal(ctx context.Context, from time.Time, to time.Time) (int64, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateUserPassword(ctx context.Context, username string, passwordHash string, mustChange bool) error
	UpdateUserLicense(ctx context.Context, id string, licenseYear string) (*domain.UserAccount, error)
}
