package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshotter is implemented by mocks that take part in MockTransactor
// transactions. Snapshot returns a function restoring the captured state.
type Snapshotter interface {
	Snapshot() func()
}

// MockTransactor runs WithinTx callbacks and restores every participant when
// the callback fails, mimicking a rollback
type MockTransactor struct {
	participants []Snapshotter
	BeginErr     error
	CommitErr    error
	Calls        int
	Rollbacks    int
}

// NewMockTransactor creates a MockTransactor over the given participants
func NewMockTransactor(participants ...Snapshotter) *MockTransactor {
	return &MockTransactor{participants: participants}
}

type mockTx struct{}

// WithinTx runs fn and rolls participants back on error
func (m *MockTransactor) WithinTx(ctx context.Context, fn func(tx any) error) error {
	m.Calls++
	if m.BeginErr != nil {
		return m.BeginErr
	}

	restores := make([]func(), len(m.participants))
	for i, p := range m.participants {
		restores[i] = p.Snapshot()
	}
	rollback := func() {
		m.Rollbacks++
		for _, r := range restores {
			r()
		}
	}

	if err := fn(mockTx{}); err != nil {
		rollback()
		return err
	}
	if m.CommitErr != nil {
		rollback()
		return m.CommitErr
	}
	return nil
}

func cloneEntry(e *domain.EscrowEntry) *domain.EscrowEntry {
	c := *e
	return &c
}

// MockEscrowRepository is an in-memory implementation of domain.EscrowRepository
type MockEscrowRepository struct {
	mu      sync.Mutex
	Entries map[uuid.UUID]*domain.EscrowEntry
	order   []uuid.UUID

	CreateBatchFn      func(entries []*domain.EscrowEntry) error
	ConsumeForPayoutFn func(entryIDs []uuid.UUID, payoutID uuid.UUID) (int, error)
	ListEligibleFn     func() ([]*domain.EscrowEntry, error)
}

// NewMockEscrowRepository creates a new MockEscrowRepository
func NewMockEscrowRepository() *MockEscrowRepository {
	return &MockEscrowRepository{
		Entries: make(map[uuid.UUID]*domain.EscrowEntry),
	}
}

// AddEntry stores an entry directly
func (m *MockEscrowRepository) AddEntry(e *domain.EscrowEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, ok := m.Entries[e.ID]; !ok {
		m.order = append(m.order, e.ID)
	}
	m.Entries[e.ID] = cloneEntry(e)
}

// Snapshot implements Snapshotter
func (m *MockEscrowRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[uuid.UUID]*domain.EscrowEntry, len(m.Entries))
	for id, e := range m.Entries {
		entries[id] = cloneEntry(e)
	}
	order := append([]uuid.UUID(nil), m.order...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Entries = entries
		m.order = order
	}
}

func (m *MockEscrowRepository) list(match func(e *domain.EscrowEntry) bool) []*domain.EscrowEntry {
	result := []*domain.EscrowEntry{}
	for _, id := range m.order {
		e, ok := m.Entries[id]
		if ok && match(e) {
			result = append(result, cloneEntry(e))
		}
	}
	return result
}

// CreateBatchTx stores entries, rejecting a second entry for the same order and seller
func (m *MockEscrowRepository) CreateBatchTx(ctx context.Context, tx any, entries []*domain.EscrowEntry) error {
	if m.CreateBatchFn != nil {
		if err := m.CreateBatchFn(entries); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		for _, existing := range m.Entries {
			if existing.OrderID == e.OrderID && existing.SellerID == e.SellerID {
				return domain.ErrEscrowAlreadyHeld
			}
		}
		m.Entries[e.ID] = cloneEntry(e)
		m.order = append(m.order, e.ID)
	}
	return nil
}

// ExistsForOrderSellersTx reports whether any of the sellers already has escrow for the order
func (m *MockEscrowRepository) ExistsForOrderSellersTx(ctx context.Context, tx any, orderID uuid.UUID, sellerIDs []uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.OrderID != orderID {
			continue
		}
		for _, s := range sellerIDs {
			if e.SellerID == s {
				return true, nil
			}
		}
	}
	return false, nil
}

// GetByOrderIDForUpdateTx returns an order's entries, optionally for one seller
func (m *MockEscrowRepository) GetByOrderIDForUpdateTx(ctx context.Context, tx any, orderID uuid.UUID, sellerID *uuid.UUID) ([]*domain.EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(e *domain.EscrowEntry) bool {
		return e.OrderID == orderID && (sellerID == nil || e.SellerID == *sellerID)
	}), nil
}

// TransitionTx moves held entries to the target status
func (m *MockEscrowRepository) TransitionTx(ctx context.Context, tx any, t domain.EscrowTransition) ([]*domain.EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []*domain.EscrowEntry{}
	for _, id := range t.IDs {
		e, ok := m.Entries[id]
		if !ok || e.Status != domain.EscrowStatusHeld {
			continue
		}
		at := t.At
		e.Status = t.To
		e.UpdatedAt = at
		e.IsEligibleForPayout = t.To == domain.EscrowStatusReleased
		switch t.To {
		case domain.EscrowStatusReleased:
			e.ReleasedAt = &at
		case domain.EscrowStatusRefunded:
			e.RefundedAt = &at
		}
		if t.AuditNote != nil {
			e.AuditNote = t.AuditNote
		}
		result = append(result, cloneEntry(e))
	}
	return result, nil
}

// ListEligibleForPayoutTx returns released entries not yet consumed by a payout
func (m *MockEscrowRepository) ListEligibleForPayoutTx(ctx context.Context, tx any) ([]*domain.EscrowEntry, error) {
	if m.ListEligibleFn != nil {
		return m.ListEligibleFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(e *domain.EscrowEntry) bool {
		return e.Status == domain.EscrowStatusReleased && e.IsEligibleForPayout
	}), nil
}

// ConsumeForPayoutTx clears eligibility on the entries and links them to the payout
func (m *MockEscrowRepository) ConsumeForPayoutTx(ctx context.Context, tx any, entryIDs []uuid.UUID, payoutID uuid.UUID, at time.Time) (int, error) {
	if m.ConsumeForPayoutFn != nil {
		return m.ConsumeForPayoutFn(entryIDs, payoutID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range entryIDs {
		e, ok := m.Entries[id]
		if !ok || e.Status != domain.EscrowStatusReleased || !e.IsEligibleForPayout {
			continue
		}
		pid := payoutID
		e.IsEligibleForPayout = false
		e.PayoutID = &pid
		e.UpdatedAt = at
		n++
	}
	return n, nil
}

// GetByOrderID returns every entry of an order
func (m *MockEscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(e *domain.EscrowEntry) bool { return e.OrderID == orderID }), nil
}

// GetBySellerID returns a seller's entries, optionally filtered by status
func (m *MockEscrowRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.EscrowStatus) ([]*domain.EscrowEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(e *domain.EscrowEntry) bool {
		return e.SellerID == sellerID && (status == nil || e.Status == *status)
	}), nil
}

func cloneCommission(r *domain.CommissionRecord) *domain.CommissionRecord {
	c := *r
	return &c
}

// MockCommissionRepository is an in-memory implementation of domain.CommissionRepository
type MockCommissionRepository struct {
	mu      sync.Mutex
	Records map[uuid.UUID]*domain.CommissionRecord
	order   []uuid.UUID

	CreateBatchFn func(records []*domain.CommissionRecord) ([]*domain.CommissionRecord, error)
	CreateCalls   int
}

// NewMockCommissionRepository creates a new MockCommissionRepository
func NewMockCommissionRepository() *MockCommissionRepository {
	return &MockCommissionRepository{
		Records: make(map[uuid.UUID]*domain.CommissionRecord),
	}
}

// AddRecord stores a record directly
func (m *MockCommissionRepository) AddRecord(r *domain.CommissionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.Records[r.ID] = cloneCommission(r)
	m.order = append(m.order, r.ID)
}

func (m *MockCommissionRepository) list(match func(r *domain.CommissionRecord) bool) []*domain.CommissionRecord {
	result := []*domain.CommissionRecord{}
	for _, id := range m.order {
		if r, ok := m.Records[id]; ok && match(r) {
			result = append(result, cloneCommission(r))
		}
	}
	return result
}

// CreateBatch inserts records, skipping any (order, seller) pair that already exists
func (m *MockCommissionRepository) CreateBatch(ctx context.Context, records []*domain.CommissionRecord) ([]*domain.CommissionRecord, error) {
	m.CreateCalls++
	if m.CreateBatchFn != nil {
		return m.CreateBatchFn(records)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := []*domain.CommissionRecord{}
	for _, r := range records {
		if len(m.list(func(x *domain.CommissionRecord) bool {
			return x.OrderID == r.OrderID && x.SellerID == r.SellerID
		})) > 0 {
			continue
		}
		m.Records[r.ID] = cloneCommission(r)
		m.order = append(m.order, r.ID)
		inserted = append(inserted, cloneCommission(r))
	}
	return inserted, nil
}

// GetByOrderAndSeller returns the record for one allocation
func (m *MockCommissionRepository) GetByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*domain.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.list(func(r *domain.CommissionRecord) bool {
		return r.OrderID == orderID && r.SellerID == sellerID
	})
	if len(found) == 0 {
		return nil, domain.ErrCommissionNotFound
	}
	return found[0], nil
}

// GetByOrderID returns an order's records
func (m *MockCommissionRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(r *domain.CommissionRecord) bool { return r.OrderID == orderID }), nil
}

// GetBySellerID returns a seller's records
func (m *MockCommissionRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID) ([]*domain.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(r *domain.CommissionRecord) bool { return r.SellerID == sellerID }), nil
}

// UpdateNetCommission applies a larger cumulative refund. If a larger refund
// was already stored the current record is returned unchanged.
func (m *MockCommissionRepository) UpdateNetCommission(ctx context.Context, record *domain.CommissionRecord) (*domain.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.Records[record.ID]
	if !ok {
		return nil, domain.ErrCommissionNotFound
	}
	if stored.RefundedAmount.LessThan(record.RefundedAmount) && stored.NetCommissionAmount.GreaterThanOrEqual(record.NetCommissionAmount) {
		stored.NetCommissionAmount = record.NetCommissionAmount
		stored.RefundedAmount = record.RefundedAmount
		stored.LastUpdatedAt = record.LastUpdatedAt
	}
	return cloneCommission(stored), nil
}

func clonePayout(p *domain.Payout) *domain.Payout {
	c := *p
	return &c
}

// MockPayoutRepository is an in-memory implementation of domain.PayoutRepository
type MockPayoutRepository struct {
	mu      sync.Mutex
	Payouts map[uuid.UUID]*domain.Payout
	order   []uuid.UUID

	CreateBatchFn   func(payouts []*domain.Payout) error
	CompleteBatchFn func(payouts []*domain.Payout) error
	// BeforeClaimForRetry runs before the compare-and-swap, letting tests
	// interleave a competing claim
	BeforeClaimForRetry func(id uuid.UUID)
}

// NewMockPayoutRepository creates a new MockPayoutRepository
func NewMockPayoutRepository() *MockPayoutRepository {
	return &MockPayoutRepository{
		Payouts: make(map[uuid.UUID]*domain.Payout),
	}
}

// AddPayout stores a payout directly
func (m *MockPayoutRepository) AddPayout(p *domain.Payout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := m.Payouts[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.Payouts[p.ID] = clonePayout(p)
}

// Get returns a copy of a stored payout, or nil
func (m *MockPayoutRepository) Get(id uuid.UUID) *domain.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Payouts[id]; ok {
		return clonePayout(p)
	}
	return nil
}

// All returns copies of every stored payout in insertion order
func (m *MockPayoutRepository) All() []*domain.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(*domain.Payout) bool { return true })
}

// Snapshot implements Snapshotter
func (m *MockPayoutRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	payouts := make(map[uuid.UUID]*domain.Payout, len(m.Payouts))
	for id, p := range m.Payouts {
		payouts[id] = clonePayout(p)
	}
	order := append([]uuid.UUID(nil), m.order...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Payouts = payouts
		m.order = order
	}
}

func (m *MockPayoutRepository) list(match func(p *domain.Payout) bool) []*domain.Payout {
	result := []*domain.Payout{}
	for _, id := range m.order {
		if p, ok := m.Payouts[id]; ok && match(p) {
			result = append(result, clonePayout(p))
		}
	}
	return result
}

// CreateBatchTx stores new payouts
func (m *MockPayoutRepository) CreateBatchTx(ctx context.Context, tx any, payouts []*domain.Payout) error {
	if m.CreateBatchFn != nil {
		if err := m.CreateBatchFn(payouts); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payouts {
		m.Payouts[p.ID] = clonePayout(p)
		m.order = append(m.order, p.ID)
	}
	return nil
}

// GetByID returns one payout
func (m *MockPayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	if p := m.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrPayoutNotFound
}

// GetBySellerID returns a seller's payouts, optionally filtered by status
func (m *MockPayoutRepository) GetBySellerID(ctx context.Context, sellerID uuid.UUID, status *domain.PayoutStatus) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(p *domain.Payout) bool {
		return p.SellerID == sellerID && (status == nil || p.Status == *status)
	}), nil
}

// GetFiltered returns a seller's payouts matching the filter
func (m *MockPayoutRepository) GetFiltered(ctx context.Context, f domain.PayoutFilter) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(p *domain.Payout) bool {
		if p.SellerID != f.SellerID {
			return false
		}
		if f.Status != nil && p.Status != *f.Status {
			return false
		}
		if f.From != nil && p.ScheduledAt.Before(*f.From) {
			return false
		}
		if f.To != nil && p.ScheduledAt.After(*f.To) {
			return false
		}
		return true
	}), nil
}

// ListScheduledDue returns scheduled payouts due at or before the cutoff, oldest first
func (m *MockPayoutRepository) ListScheduledDue(ctx context.Context, before time.Time, limit int) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.list(func(p *domain.Payout) bool {
		return p.Status == domain.PayoutStatusScheduled && !p.ScheduledAt.After(before)
	})
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListRetryable returns failed payouts under the retry limit
func (m *MockPayoutRepository) ListRetryable(ctx context.Context, maxAttempts int, failedBefore *time.Time) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(p *domain.Payout) bool {
		if failedBefore != nil && !p.UpdatedAt.Before(*failedBefore) {
			return false
		}
		return p.Status == domain.PayoutStatusFailed && p.RetryCount < maxAttempts
	}), nil
}

// FailStaleProcessing fails payouts processing since before the cutoff
func (m *MockPayoutRepository) FailStaleProcessing(ctx context.Context, startedBefore, at time.Time) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := []*domain.Payout{}
	for _, id := range m.order {
		p := m.Payouts[id]
		if p.Status != domain.PayoutStatusProcessing || p.ProcessingStartedAt == nil || !p.ProcessingStartedAt.Before(startedBefore) {
			continue
		}
		ref, msg := domain.ErrorReferenceStaleProcessing, "Processing did not record an outcome"
		p.Status = domain.PayoutStatusFailed
		p.CompletedAt = nil
		p.ErrorReference = &ref
		p.ErrorMessage = &msg
		p.UpdatedAt = at
		stale = append(stale, clonePayout(p))
	}
	return stale, nil
}

// ClaimScheduled moves the still-scheduled payouts among IDs to processing
func (m *MockPayoutRepository) ClaimScheduled(ctx context.Context, claim domain.PayoutClaim) ([]*domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claimed := []*domain.Payout{}
	for _, id := range claim.IDs {
		p, ok := m.Payouts[id]
		if !ok || p.Status != domain.PayoutStatusScheduled {
			continue
		}
		at := claim.At
		p.Status = domain.PayoutStatusProcessing
		p.ProcessingStartedAt = &at
		p.BatchID = claim.BatchID
		p.UpdatedAt = at
		claimed = append(claimed, clonePayout(p))
	}
	return claimed, nil
}

// ClaimForRetry moves a failed payout under the retry limit to processing
func (m *MockPayoutRepository) ClaimForRetry(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time, auditNote *string) (*domain.Payout, error) {
	if m.BeforeClaimForRetry != nil {
		m.BeforeClaimForRetry(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Payouts[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	if p.Status != domain.PayoutStatusFailed || p.RetryCount >= maxAttempts {
		return nil, domain.ErrPayoutInFlight
	}
	p.Status = domain.PayoutStatusProcessing
	p.RetryCount++
	p.ErrorReference = nil
	p.ErrorMessage = nil
	p.ProcessingStartedAt = &at
	p.CompletedAt = nil
	p.UpdatedAt = at
	if auditNote != nil {
		p.AuditNote = auditNote
	}
	return clonePayout(p), nil
}

// CompleteBatchTx writes the outcome of processing payouts
func (m *MockPayoutRepository) CompleteBatchTx(ctx context.Context, tx any, payouts []*domain.Payout) error {
	if m.CompleteBatchFn != nil {
		if err := m.CompleteBatchFn(payouts); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payouts {
		stored, ok := m.Payouts[p.ID]
		if !ok || stored.Status != domain.PayoutStatusProcessing {
			return errors.New("payout is not processing: " + p.ID.String())
		}
		stored.Status = p.Status
		stored.CompletedAt = p.CompletedAt
		stored.ErrorReference = p.ErrorReference
		stored.ErrorMessage = p.ErrorMessage
		stored.UpdatedAt = p.UpdatedAt
	}
	return nil
}

// MockOrderDirectory maps orders to their buyer
type MockOrderDirectory struct {
	Buyers map[uuid.UUID]string
	Err    error
}

// NewMockOrderDirectory creates a new MockOrderDirectory
func NewMockOrderDirectory() *MockOrderDirectory {
	return &MockOrderDirectory{Buyers: make(map[uuid.UUID]string)}
}

// GetOrderBuyerID returns the buyer of an order
func (m *MockOrderDirectory) GetOrderBuyerID(ctx context.Context, orderID uuid.UUID) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	buyer, ok := m.Buyers[orderID]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return buyer, nil
}

// MockSellerDirectory maps sellers to email addresses
type MockSellerDirectory struct {
	Emails map[uuid.UUID]string
	Err    error
}

// NewMockSellerDirectory creates a new MockSellerDirectory
func NewMockSellerDirectory() *MockSellerDirectory {
	return &MockSellerDirectory{Emails: make(map[uuid.UUID]string)}
}

// GetSellerEmail returns the seller's email or nil
func (m *MockSellerDirectory) GetSellerEmail(ctx context.Context, sellerID uuid.UUID) (*string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if email, ok := m.Emails[sellerID]; ok {
		return &email, nil
	}
	return nil, nil
}

// MockPayoutProvider records instructions and succeeds unless told otherwise
type MockPayoutProvider struct {
	mu        sync.Mutex
	Calls     []domain.PayoutInstruction
	FailFor   map[uuid.UUID]domain.ProviderResult
	ErrFor    map[uuid.UUID]error
	ExecuteFn func(ctx context.Context, in domain.PayoutInstruction) (domain.ProviderResult, error)
}

// NewMockPayoutProvider creates a new MockPayoutProvider
func NewMockPayoutProvider() *MockPayoutProvider {
	return &MockPayoutProvider{
		FailFor: make(map[uuid.UUID]domain.ProviderResult),
		ErrFor:  make(map[uuid.UUID]error),
	}
}

// Execute implements domain.PayoutProvider
func (m *MockPayoutProvider) Execute(ctx context.Context, in domain.PayoutInstruction) (domain.ProviderResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, in)
	fail, failing := m.FailFor[in.PayoutID]
	err := m.ErrFor[in.PayoutID]
	fn := m.ExecuteFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}
	if err != nil {
		return domain.ProviderResult{}, err
	}
	if failing {
		return fail, nil
	}
	return domain.ProviderResult{Success: true}, nil
}

// Succeed clears any failure configured for the payout
func (m *MockPayoutProvider) Succeed(payoutID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.FailFor, payoutID)
	delete(m.ErrFor, payoutID)
}

// CallCount returns the number of provider calls
func (m *MockPayoutProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SentNotification is one recorded paid notification
type SentNotification struct {
	PayoutID uuid.UUID
	Email    string
	Amount   decimal.Decimal
}

// MockPayoutNotifier records paid notifications
type MockPayoutNotifier struct {
	mu   sync.Mutex
	Sent []SentNotification
	Err  error
}

// NotifyPayoutPaid implements domain.PayoutNotifier
func (m *MockPayoutNotifier) NotifyPayoutPaid(ctx context.Context, payout *domain.Payout, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentNotification{PayoutID: payout.ID, Email: email, Amount: payout.Amount})
	return nil
}

// MockBatchReportStore keeps reports in memory
type MockBatchReportStore struct {
	mu      sync.Mutex
	Reports map[uuid.UUID][]byte
	Err     error
}

// NewMockBatchReportStore creates a new MockBatchReportStore
func NewMockBatchReportStore() *MockBatchReportStore {
	return &MockBatchReportStore{Reports: make(map[uuid.UUID][]byte)}
}

// PutBatchReport implements domain.BatchReportStore
func (m *MockBatchReportStore) PutBatchReport(ctx context.Context, batchID uuid.UUID, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Reports[batchID] = body
	return nil
}

// PublishedEvent is one event captured by MockEventPublisher
type PublishedEvent struct {
	SellerID uuid.UUID
	Event    websocket.Event
}

// MockEventPublisher captures published websocket events
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

// Publish implements websocket.EventPublisher
func (m *MockEventPublisher) Publish(sellerID uuid.UUID, event websocket.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{SellerID: sellerID, Event: event})
}

// Types returns the event types in publish order
func (m *MockEventPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Events))
	for i, e := range m.Events {
		types[i] = e.Event.Type
	}
	return types
}
