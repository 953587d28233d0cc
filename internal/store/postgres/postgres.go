package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, qty_on_hand, cost_price_cents, created_at
		FROM products
		ORDER BY type, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.QtyOnHand, &p.CostPriceCents, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.QtyOnHand < 0 || product.CostPriceCents < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, type, qty_on_hand, cost_price_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, product.ID, product.Name, product.Type, product.QtyOnHand, product.CostPriceCents, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, qty_on_hand, cost_price_cents, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Type, &product.QtyOnHand, &product.CostPriceCents, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) AddStock(ctx context.Context, productID string, qty int, costPriceCents int64) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET qty_on_hand = qty_on_hand + $2,
		    cost_price_cents = CASE WHEN $3 > 0 THEN $3 ELSE cost_price_cents END
		WHERE id = $1
		RETURNING id, name, type, qty_on_hand, cost_price_cents, created_at
	`, productID, qty, costPriceCents).Scan(&product.ID, &product.Name, &product.Type, &product.QtyOnHand, &product.CostPriceCents, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

// CreateSale writes the header and every line in one serializable
// transaction. Stock rows are locked up front and decremented with a
// conditional update so concurrent sales cannot oversell.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	if len(ids) == 0 {
		return nil, store.ErrValidation
	}

	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, qty_on_hand
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]int, len(ids))
	for stockRows.Next() {
		var id string
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stock[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	needed := make(map[string]int, len(ids))
	for _, line := range sale.Items {
		if line.Quantity < 1 || line.SalePriceCents < 1 {
			return nil, store.ErrValidation
		}
		if _, exists := stock[line.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
		needed[line.ProductID] += line.Quantity
	}
	for productID, qty := range needed {
		if stock[productID] < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	for productID, qty := range needed {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET qty_on_hand = qty_on_hand - $1
			WHERE id = $2 AND qty_on_hand >= $1
		`, qty, productID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, sale_date, total_amount_cents)
		VALUES ($1,$2,$3)
	`, sale.ID, sale.SaleDate, sale.TotalAmountCents)
	if err != nil {
		return nil, err
	}

	for _, line := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, product_name, qty, sale_price_cents, cost_price_cents, line_total_cents, sold_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, line.ProductID, line.ProductName, line.Quantity, line.SalePriceCents, line.CostPriceCents, line.LineTotalCents, line.SoldAt)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := sale
	return &saved, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_date, total_amount_cents
		FROM sales
		WHERE sale_date >= $1 AND sale_date < $2
		ORDER BY sale_date DESC, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	index := make(map[string]int, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.SaleDate, &sale.TotalAmountCents); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(sales) == 0 {
		return sales, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT l.sale_id, l.product_id, l.product_name, l.qty, l.sale_price_cents, l.cost_price_cents, l.line_total_cents, l.sold_at
		FROM sale_lines l
		JOIN sales s ON s.id = l.sale_id
		WHERE s.sale_date >= $1 AND s.sale_date < $2
		ORDER BY l.sold_at DESC, l.product_id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := lineRows.Scan(&saleID, &line.ProductID, &line.ProductName, &line.Quantity, &line.SalePriceCents, &line.CostPriceCents, &line.LineTotalCents, &line.SoldAt); err != nil {
			return nil, err
		}
		line.SoldAt = line.SoldAt.UTC()
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, sale_price_cents, cost_price_cents, line_total_cents, sold_at
		FROM sale_lines
		WHERE sold_at >= $1 AND sold_at < $2
		ORDER BY sold_at DESC, product_id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 128)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Quantity, &line.SalePriceCents, &line.CostPriceCents, &line.LineTotalCents, &line.SoldAt); err != nil {
			return nil, err
		}
		line.SoldAt = line.SoldAt.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || expense.ExpenseDate.IsZero() {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, expense_date, amount_cents, description)
		VALUES ($1,$2,$3,$4)
	`, expense.ID, expense.ExpenseDate, expense.AmountCents, expense.Description)
	if err != nil {
		return nil, err
	}

	saved := expense
	return &saved, nil
}

func (s *Store) UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || expense.ExpenseDate.IsZero() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE expenses
		SET expense_date = $2, amount_cents = $3, description = $4
		WHERE id = $1
	`, expense.ID, expense.ExpenseDate, expense.AmountCents, expense.Description)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := expense
	return &saved, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, expense_date, amount_cents, description
		FROM expenses
		ORDER BY expense_date DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 64)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.ExpenseDate, &expense.AmountCents, &expense.Description); err != nil {
			return nil, err
		}
		expense.ExpenseDate = expense.ExpenseDate.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return expenses, nil
}

func (s *Store) ExpenseTotal(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM expenses
		WHERE expense_date >= $1 AND expense_date < $2
	`, from, to).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.PasswordHash == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, full_name, license_year, must_change_password, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, user.ID, username, user.PasswordHash, user.Role, user.FullName, user.LicenseYear, user.MustChangePassword, user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, full_name, license_year, must_change_password, active, created_at, updated_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.FullName,
		&user.LicenseYear, &user.MustChangePassword, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, full_name, license_year, must_change_password, active, created_at, updated_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(
			&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.FullName,
			&user.LicenseYear, &user.MustChangePassword, &user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		user.UpdatedAt = user.UpdatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string, mustChange bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, must_change_password = $3, updated_at = now()
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), passwordHash, mustChange)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserLicense(ctx context.Context, id string, licenseYear string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET license_year = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, username, password_hash, role, full_name, license_year, must_change_password, active, created_at, updated_at
	`, id, licenseYear).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.FullName,
		&user.LicenseYear, &user.MustChangePassword, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

func uniqueProductIDs(lines []domain.SaleLine) []string {
	if len(lines) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		if _, exists := set[line.ProductID]; exists {
			continue
		}
		set[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
