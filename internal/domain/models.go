package domain

import "time"

// Stock classification buckets. The boundary between low and in stock is
// configurable; zero on hand is always out of stock.
const (
	StockStatusOut = "Out of Stock"
	StockStatusLow = "Low Stock"
	StockStatusIn  = "In Stock"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	QtyOnHand      int       `json:"qty_on_hand"`
	CostPriceCents int64     `json:"cost_price_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	QtyOnHand      int    `json:"qty_on_hand"`
	CostPriceCents int64  `json:"cost_price_cents"`
}

// StockAddRequest increments on-hand quantity. CostPriceCents replaces the
// stored cost price only when it is provided and positive.
type StockAddRequest struct {
	Quantity       int   `json:"quantity"`
	CostPriceCents int64 `json:"cost_price_cents"`
}

type ProductView struct {
	Product
	StockStatus string `json:"stock_status"`
}

// ClassifyStock maps an on-hand quantity to a stock status label.
// lowThreshold is the smallest quantity considered fully stocked.
func ClassifyStock(qty int, lowThreshold int) string {
	if lowThreshold < 1 {
		lowThreshold = 5
	}
	switch {
	case qty <= 0:
		return StockStatusOut
	case qty < lowThreshold:
		return StockStatusLow
	default:
		return StockStatusIn
	}
}

type SaleLineRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	SalePriceCents int64  `json:"sale_price_cents"`
}

type SaleRequest struct {
	Lines []SaleLineRequest `json:"lines"`
}

// SaleLine is a priced line of a recorded sale. CostPriceCents is copied
// from the product at sale time so later cost updates do not rewrite the
// margin of past sales.
type SaleLine struct {
	ProductID      string    `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	SalePriceCents int64     `json:"sale_price_cents"`
	CostPriceCents int64     `json:"cost_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	SoldAt         time.Time `json:"sold_at"`
}

type Sale struct {
	ID               string     `json:"id"`
	SaleDate         time.Time  `json:"sale_date"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	Items            []SaleLine `json:"items"`
}

// Rejection reasons reported per failing line when a sale aborts.
const (
	RejectUnknownProduct    = "unknown product"
	RejectBadQuantity       = "quantity must be positive"
	RejectBadPrice          = "price must be positive"
	RejectInsufficientStock = "insufficient stock"
)

type SaleRejection struct {
	LineIndex int    `json:"line_index"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

type SaleResponse struct {
	Sale       *Sale           `json:"sale,omitempty"`
	Rejections []SaleRejection `json:"rejections,omitempty"`
}

// SaleListResponse returns whole sales, header plus lines, for a period
// window.
type SaleListResponse struct {
	Period string    `json:"period"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Sales  []Sale    `json:"sales"`
}

type Expense struct {
	ID          string    `json:"id"`
	ExpenseDate time.Time `json:"expense_date"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
}

type ExpenseRequest struct {
	ExpenseDate string `json:"expense_date"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type ProfitReport struct {
	Period       string    `json:"period"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	RevenueCents int64     `json:"revenue_cents"`
	CostCents    int64     `json:"cost_cents"`
	ProfitCents  int64     `json:"profit_cents"`
	LineCount    int       `json:"line_count"`
}

type TopSeller struct {
	ProductName  string `json:"product_name"`
	QuantitySold int    `json:"quantity_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

type TopSellersReport struct {
	Period      string      `json:"period"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	GeneratedAt time.Time   `json:"generated_at"`
	Items       []TopSeller `json:"items"`
}

type Dashboard struct {
	TotalUnitsOnHand  int   `json:"total_units_on_hand"`
	RevenueCents      int64 `json:"revenue_cents"`
	CostCents         int64 `json:"cost_cents"`
	ProfitCents       int64 `json:"profit_cents"`
	MonthExpenseCents int64 `json:"month_expense_cents"`
	NetProfitCents    int64 `json:"net_profit_cents"`
	OutOfStockCount   int   `json:"out_of_stock_count"`
	LowStockCount     int   `json:"low_stock_count"`
}

type UserAccount struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"`
	FullName           string    `json:"full_name"`
	LicenseYear        string    `json:"license_year"`
	MustChangePassword bool      `json:"must_change_password"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type UserCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	LicenseYear string `json:"license_year"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken        string `json:"access_token"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
	ExpiresAt          string `json:"expires_at"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type LicenseUpdateRequest struct {
	LicenseYear string `json:"license_year"`
}

type Actor struct {
	Username string
	Role     string
}
