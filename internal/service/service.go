package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/report"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	reportCache       cache.ReportCache
	reportTTL         time.Duration
	lowStockThreshold int
}

func New(repo store.Repository, reportCache cache.ReportCache, reportTTL time.Duration, lowStockThreshold int) *Service {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 30 * time.Second
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 5
	}

	return &Service{
		repo:              repo,
		reportCache:       reportCache,
		reportTTL:         reportTTL,
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *Service) LowStockThreshold() int {
	return s.lowStockThreshold
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return s.toViews(products), nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ProductView{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	if req.Name == "" {
		return domain.ProductView{}, fmt.Errorf("%w: product name required", store.ErrValidation)
	}
	if req.QtyOnHand < 0 || req.CostPriceCents < 0 {
		return domain.ProductView{}, fmt.Errorf("%w: quantity and cost price must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             xid.New("prod"),
		Name:           req.Name,
		Type:           req.Type,
		QtyOnHand:      req.QtyOnHand,
		CostPriceCents: req.CostPriceCents,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.ProductView{}, err
	}

	log.Printf("[service] product created id=%s name=%q by=%s", created.ID, created.Name, actor.Username)
	return s.toView(*created), nil
}

func (s *Service) AddStock(ctx context.Context, productID string, req domain.StockAddRequest) (domain.ProductView, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductView{}, fmt.Errorf("%w: product id required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.ProductView{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	updated, err := s.repo.AddStock(ctx, productID, req.Quantity, req.CostPriceCents)
	if err != nil {
		return domain.ProductView{}, err
	}

	if actor, ok := ActorFromContext(ctx); ok {
		log.Printf("[service] stock added product=%s qty=%d by=%s", productID, req.Quantity, actor.Username)
	}
	return s.toView(*updated), nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.ProductView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		if p.QtyOnHand >= s.lowStockThreshold {
			continue
		}
		low = append(low, s.toView(p))
	}
	return low, nil
}

// RecordSale validates every line before anything is written. A single bad
// line aborts the whole sale and the response names every failing line, not
// just the first one.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: no valid lines", store.ErrValidation)
	}

	now := time.Now().UTC()
	products := make(map[string]*domain.Product, len(req.Lines))
	needed := make(map[string]int, len(req.Lines))
	rejections := make([]domain.SaleRejection, 0)
	stockShort := false

	for i, line := range req.Lines {
		if line.Quantity < 1 {
			rejections = append(rejections, domain.SaleRejection{LineIndex: i, ProductID: line.ProductID, Reason: domain.RejectBadQuantity})
			continue
		}
		if line.SalePriceCents < 1 {
			rejections = append(rejections, domain.SaleRejection{LineIndex: i, ProductID: line.ProductID, Reason: domain.RejectBadPrice})
			continue
		}

		product, cached := products[line.ProductID]
		if !cached {
			fetched, err := s.repo.GetProductByID(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					products[line.ProductID] = nil
					rejections = append(rejections, domain.SaleRejection{LineIndex: i, ProductID: line.ProductID, Reason: domain.RejectUnknownProduct})
					continue
				}
				return domain.SaleResponse{}, err
			}
			products[line.ProductID] = fetched
			product = fetched
		}
		if product == nil {
			rejections = append(rejections, domain.SaleRejection{LineIndex: i, ProductID: line.ProductID, Reason: domain.RejectUnknownProduct})
			continue
		}

		needed[line.ProductID] += line.Quantity
		if needed[line.ProductID] > product.QtyOnHand {
			rejections = append(rejections, domain.SaleRejection{LineIndex: i, ProductID: line.ProductID, Reason: domain.RejectInsufficientStock})
			stockShort = true
		}
	}

	if len(rejections) > 0 {
		err := fmt.Errorf("%w: sale aborted", store.ErrValidation)
		if stockShort {
			err = fmt.Errorf("%w: sale aborted", store.ErrInsufficientStock)
		}
		return domain.SaleResponse{Rejections: rejections}, err
	}

	sale := domain.Sale{
		ID:       xid.New("sale"),
		SaleDate: now,
		Items:    make([]domain.SaleLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		product := products[line.ProductID]
		saleLine := domain.SaleLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			SalePriceCents: line.SalePriceCents,
			CostPriceCents: product.CostPriceCents,
			LineTotalCents: int64(line.Quantity) * line.SalePriceCents,
			SoldAt:         now,
		}
		sale.Items = append(sale.Items, saleLine)
		sale.TotalAmountCents += saleLine.LineTotalCents
	}

	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		// The store re-checks stock under its own lock; a concurrent sale
		// may have drained a product between validation and commit.
		return domain.SaleResponse{}, err
	}

	if actor, ok := ActorFromContext(ctx); ok {
		log.Printf("[service] sale recorded id=%s lines=%d total=%d by=%s", saved.ID, len(saved.Items), saved.TotalAmountCents, actor.Username)
	}
	return domain.SaleResponse{Sale: saved}, nil
}

// Sell records a single-line sale through the same path as RecordSale.
func (s *Service) Sell(ctx context.Context, line domain.SaleLineRequest) (domain.SaleResponse, error) {
	return s.RecordSale(ctx, domain.SaleRequest{Lines: []domain.SaleLineRequest{line}})
}

// ListSalesForPeriod returns the sales whose header date falls inside the
// period window, each with its full set of lines.
func (s *Service) ListSalesForPeriod(ctx context.Context, period string, anchor time.Time) (domain.SaleListResponse, error) {
	from, to, normalized := report.Window(period, anchor)
	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{
		Period: normalized,
		From:   from,
		To:     to,
		Sales:  sales,
	}, nil
}

func (s *Service) ProfitReport(ctx context.Context, period string, anchor time.Time) (domain.ProfitReport, error) {
	from, to, normalized := report.Window(period, anchor)

	key := fmt.Sprintf("reports:profit:%s:%s", normalized, from.Format("2006-01-02"))
	var cached domain.ProfitReport
	if hit := s.cacheGet(ctx, key, &cached); hit {
		return cached, nil
	}

	lines, err := s.repo.ListSaleLines(ctx, from, to)
	if err != nil {
		return domain.ProfitReport{}, err
	}

	rep := report.Profit(normalized, from, to, lines)
	s.cacheSet(ctx, key, rep)
	return rep, nil
}

func (s *Service) TopSellers(ctx context.Context, period string, anchor time.Time) (domain.TopSellersReport, error) {
	from, to, normalized := report.Window(period, anchor)

	key := fmt.Sprintf("reports:top-sellers:%s:%s", normalized, from.Format("2006-01-02"))
	var cached domain.TopSellersReport
	if hit := s.cacheGet(ctx, key, &cached); hit {
		return cached, nil
	}

	lines, err := s.repo.ListSaleLines(ctx, from, to)
	if err != nil {
		return domain.TopSellersReport{}, err
	}

	rep := domain.TopSellersReport{
		Period:      normalized,
		From:        from,
		To:          to,
		GeneratedAt: time.Now().UTC(),
		Items:       report.TopSellers(lines, report.DefaultTopSellerLimit),
	}
	s.cacheSet(ctx, key, rep)
	return rep, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	now := time.Now().UTC()

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}

	var dash domain.Dashboard
	for _, p := range products {
		dash.TotalUnitsOnHand += p.QtyOnHand
		switch domain.ClassifyStock(p.QtyOnHand, s.lowStockThreshold) {
		case domain.StockStatusOut:
			dash.OutOfStockCount++
		case domain.StockStatusLow:
			dash.LowStockCount++
		}
	}

	lines, err := s.repo.ListSaleLines(ctx, time.Time{}, now.Add(time.Minute))
	if err != nil {
		return domain.Dashboard{}, err
	}
	for _, line := range lines {
		dash.RevenueCents += line.LineTotalCents
		dash.CostCents += line.CostPriceCents * int64(line.Quantity)
	}
	dash.ProfitCents = dash.RevenueCents - dash.CostCents

	monthFrom, monthTo, _ := report.Window(report.PeriodMonthly, now)
	monthExpense, err := s.repo.ExpenseTotal(ctx, monthFrom, monthTo)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dash.MonthExpenseCents = monthExpense
	dash.NetProfitCents = dash.ProfitCents - monthExpense

	return dash, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseRequest) (domain.Expense, error) {
	expense, err := expenseFromRequest("", req)
	if err != nil {
		return domain.Expense{}, err
	}
	expense.ID = xid.New("exp")

	saved, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	return *saved, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (domain.Expense, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Expense{}, fmt.Errorf("%w: expense id required", store.ErrValidation)
	}

	expense, err := expenseFromRequest(id, req)
	if err != nil {
		return domain.Expense{}, err
	}

	saved, err := s.repo.UpdateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: expense id required", store.ErrValidation)
	}

	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	log.Printf("[service] expense deleted id=%s by=%s", id, actor.Username)
	return nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx)
}

func (s *Service) toViews(products []domain.Product) []domain.ProductView {
	views := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, s.toView(p))
	}
	return views
}

func (s *Service) toView(p domain.Product) domain.ProductView {
	return domain.ProductView{
		Product:     p,
		StockStatus: domain.ClassifyStock(p.QtyOnHand, s.lowStockThreshold),
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dest any) bool {
	payload, found, err := s.reportCache.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: report cache get %s: %v", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		log.Printf("[service] WARN: report cache decode %s: %v", key, err)
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.reportCache.Set(ctx, key, payload, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache set %s: %v", key, err)
	}
}

func expenseFromRequest(id string, req domain.ExpenseRequest) (domain.Expense, error) {
	if req.AmountCents < 1 {
		return domain.Expense{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.ExpenseDate), time.UTC)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("%w: expense_date must be YYYY-MM-DD", store.ErrValidation)
	}

	return domain.Expense{
		ID:          id,
		ExpenseDate: date,
		AmountCents: req.AmountCents,
		Description: strings.TrimSpace(req.Description),
	}, nil
}
