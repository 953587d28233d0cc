package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	sales    map[string]domain.Sale
	expenses map[string]domain.Expense
	users    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables, with hardcoded dev defaults and a warning when
// unset. Production deployments use PostgreSQL (DATABASE_URL) instead.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		fullName string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Store Admin"},
		{"cashier", cashierPwd, domain.RoleCashier, "Front Cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:           xid.New("user"),
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			FullName:     u.fullName,
			LicenseYear:  "2099",
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-seed-rice", Name: "Rice 5kg", Type: "grocery", QtyOnHand: 40, CostPriceCents: 620000, CreatedAt: now},
		{ID: "prod-seed-oil", Name: "Cooking Oil 1L", Type: "grocery", QtyOnHand: 25, CostPriceCents: 180000, CreatedAt: now},
		{ID: "prod-seed-soap", Name: "Bath Soap", Type: "household", QtyOnHand: 60, CostPriceCents: 45000, CreatedAt: now},
		{ID: "prod-seed-noodle", Name: "Instant Noodles", Type: "grocery", QtyOnHand: 120, CostPriceCents: 28000, CreatedAt: now},
		{ID: "prod-seed-battery", Name: "AA Battery Pack", Type: "electronics", QtyOnHand: 3, CostPriceCents: 95000, CreatedAt: now},
		{ID: "prod-seed-candle", Name: "Emergency Candle", Type: "household", QtyOnHand: 0, CostPriceCents: 15000, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products: productMap,
		sales:    make(map[string]domain.Sale),
		expenses: make(map[string]domain.Expense),
		users:    seedUsers(),
	}
}

// New returns an empty store, used by tests that seed their own data.
func New() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.Sale),
		expenses: make(map[string]domain.Expense),
		users:    make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Type == b.Type {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Type, b.Type)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.QtyOnHand < 0 || product.CostPriceCents < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) AddStock(_ context.Context, productID string, qty int, costPriceCents int64) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.QtyOnHand += qty
	if costPriceCents > 0 {
		product.CostPriceCents = costPriceCents
	}
	s.products[productID] = product

	updated := product
	return &updated, nil
}

// CreateSale re-checks stock under the write lock so two concurrent sales
// can never drive a quantity below zero.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needed := make(map[string]int, len(sale.Items))
	for _, line := range sale.Items {
		if line.Quantity < 1 || line.SalePriceCents < 1 {
			return nil, store.ErrValidation
		}
		if _, exists := s.products[line.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
		needed[line.ProductID] += line.Quantity
	}
	for productID, qty := range needed {
		if s.products[productID].QtyOnHand < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	for productID, qty := range needed {
		product := s.products[productID]
		product.QtyOnHand -= qty
		s.products[productID] = product
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	sale.Items = cloneLines(sale.Items)
	s.sales[sale.ID] = sale

	saved := sale
	saved.Items = cloneLines(sale.Items)
	return &saved, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		at := sale.SaleDate.UTC()
		if at.Before(from) || !at.Before(to) {
			continue
		}
		copySale := sale
		copySale.Items = cloneLines(sale.Items)
		sales = append(sales, copySale)
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return cmpString(a.ID, b.ID)
		}
		if a.SaleDate.After(b.SaleDate) {
			return -1
		}
		return 1
	})

	return sales, nil
}

func (s *Store) ListSaleLines(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, len(s.sales))
	for _, sale := range s.sales {
		for _, line := range sale.Items {
			at := line.SoldAt.UTC()
			if at.Before(from) || !at.Before(to) {
				continue
			}
			lines = append(lines, line)
		}
	}

	slices.SortFunc(lines, func(a, b domain.SaleLine) int {
		if a.SoldAt.Equal(b.SoldAt) {
			return cmpString(a.ProductID, b.ProductID)
		}
		if a.SoldAt.After(b.SoldAt) {
			return -1
		}
		return 1
	})

	return lines, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.AmountCents < 1 || expense.ExpenseDate.IsZero() {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	s.expenses[expense.ID] = expense

	saved := expense
	return &saved, nil
}

func (s *Store) UpdateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.AmountCents < 1 || expense.ExpenseDate.IsZero() {
		return nil, store.ErrValidation
	}
	if _, exists := s.expenses[expense.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.expenses[expense.ID] = expense

	saved := expense
	return &saved, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		expenses = append(expenses, expense)
	}

	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.ExpenseDate.Equal(b.ExpenseDate) {
			return cmpString(a.ID, b.ID)
		}
		if a.ExpenseDate.After(b.ExpenseDate) {
			return -1
		}
		return 1
	})

	return expenses, nil
}

func (s *Store) ExpenseTotal(_ context.Context, from time.Time, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, expense := range s.expenses {
		at := expense.ExpenseDate.UTC()
		if at.Before(from) || !at.Before(to) {
			continue
		}
		total += expense.AmountCents
	}
	return total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.PasswordHash == "" {
		return store.ErrValidation
	}
	if _, exists := s.users[username]; exists {
		return store.ErrValidation
	}

	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	s.users[username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}

	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})

	return users, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, user := range s.users {
		if user.ID == id {
			delete(s.users, username)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string, mustChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}

	user.PasswordHash = passwordHash
	user.MustChangePassword = mustChange
	user.UpdatedAt = time.Now().UTC()
	s.users[username] = user
	return nil
}

func (s *Store) UpdateUserLicense(_ context.Context, id string, licenseYear string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, user := range s.users {
		if user.ID == id {
			user.LicenseYear = licenseYear
			user.UpdatedAt = time.Now().UTC()
			s.users[username] = user
			updated := user
			return &updated, nil
		}
	}
	return nil, store.ErrNotFound
}

func cloneLines(lines []domain.SaleLine) []domain.SaleLine {
	if len(lines) == 0 {
		return nil
	}
	cloned := make([]domain.SaleLine, len(lines))
	copy(cloned, lines)
	return cloned
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
