package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dafibh/marketplace/settlement-backend/internal/config"
	"github.com/dafibh/marketplace/settlement-backend/internal/middleware"
	"github.com/dafibh/marketplace/settlement-backend/internal/service"
	"github.com/dafibh/marketplace/settlement-backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminToken       = "admin-token"
	systemToken      = "system-token"
	buyerToken       = "buyer-token"
	sellerToken      = "seller-token"
	otherSellerToken = "other-seller-token"

	buyerSubject = "auth0|buyer"
)

// tokenValidator resolves fixed test tokens to claims
type tokenValidator map[string]*validator.ValidatedClaims

func (v tokenValidator) ValidateToken(ctx context.Context, token string) (interface{}, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, errors.New("unknown token")
}

func tokenClaims(subject string, custom *middleware.CustomClaims) *validator.ValidatedClaims {
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: subject},
		CustomClaims:     custom,
	}
}

// fakeReportLinker signs batch report links without S3
type fakeReportLinker struct {
	err error
}

func (f *fakeReportLinker) BatchReportURL(ctx context.Context, batchID uuid.UUID, expiry time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://reports.test/payout-batches/" + batchID.String() + ".json?sig=abc", nil
}

type apiFixture struct {
	e              *echo.Echo
	escrowRepo     *testutil.MockEscrowRepository
	commissionRepo *testutil.MockCommissionRepository
	payoutRepo     *testutil.MockPayoutRepository
	orders         *testutil.MockOrderDirectory
	provider       *testutil.MockPayoutProvider
	reports        *fakeReportLinker
	sellerID       uuid.UUID
	otherSellerID  uuid.UUID
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		escrowRepo:     testutil.NewMockEscrowRepository(),
		commissionRepo: testutil.NewMockCommissionRepository(),
		payoutRepo:     testutil.NewMockPayoutRepository(),
		orders:         testutil.NewMockOrderDirectory(),
		provider:       testutil.NewMockPayoutProvider(),
		reports:        &fakeReportLinker{},
		sellerID:       uuid.New(),
		otherSellerID:  uuid.New(),
	}

	settings := service.DefaultSettlementSettings()
	settings.ProviderRatePerSecond = 0
	tx := testutil.NewMockTransactor(f.escrowRepo, f.payoutRepo)

	escrowService := service.NewEscrowService(tx, f.escrowRepo, f.orders)
	commissionService := service.NewCommissionService(f.commissionRepo, config.NewCommissionRates(decimal.NewFromInt(10)), settings)
	scheduler := service.NewPayoutScheduler(tx, f.escrowRepo, f.payoutRepo, settings, zerolog.Nop())
	processor := service.NewPayoutProcessor(tx, f.payoutRepo, f.provider, settings, zerolog.Nop())

	auth := middleware.NewAuthMiddlewareWithValidator(tokenValidator{
		adminToken:       tokenClaims("auth0|admin", &middleware.CustomClaims{Role: "admin"}),
		systemToken:      tokenClaims("payments-service@clients", &middleware.CustomClaims{Role: "system"}),
		buyerToken:       tokenClaims(buyerSubject, nil),
		sellerToken:      tokenClaims("auth0|seller", &middleware.CustomClaims{SellerID: f.sellerID.String()}),
		otherSellerToken: tokenClaims("auth0|other", &middleware.CustomClaims{SellerID: f.otherSellerID.String()}),
	})

	f.e = echo.New()
	RegisterRoutes(f.e, auth, nil, Handlers{
		Settlement: NewSettlementHandler(escrowService, commissionService, settings.DefaultCurrency),
		Escrow:     NewEscrowHandler(escrowService, settings.EscrowPayoutEligibilityDays),
		Commission: NewCommissionHandler(commissionService),
		Payout:     NewPayoutHandler(scheduler, processor, f.reports),
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	var problem ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestRoutes_RequireAuthentication(t *testing.T) {
	f := setupAPI(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/settlement/payments/confirmed"},
		{http.MethodGet, "/api/v1/escrow/orders/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/commissions/sellers/" + uuid.NewString()},
		{http.MethodPost, "/api/v1/payouts/process"},
		{http.MethodGet, "/api/v1/payouts/" + uuid.NewString()},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := f.do(t, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = f.do(t, p.method, p.path, "forged", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRoutes_PrivilegedOperations(t *testing.T) {
	f := setupAPI(t)
	orderID, sellerID := uuid.NewString(), uuid.NewString()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/settlement/payments/confirmed"},
		{http.MethodPost, "/api/v1/escrow/orders/" + orderID + "/refund"},
		{http.MethodPost, "/api/v1/commissions/orders/" + orderID + "/sellers/" + sellerID + "/refund"},
		{http.MethodGet, "/api/v1/commissions/orders/" + orderID},
		{http.MethodPost, "/api/v1/payouts/schedule"},
		{http.MethodPost, "/api/v1/payouts/process"},
		{http.MethodPost, "/api/v1/payouts/retry"},
		{http.MethodPost, "/api/v1/payouts/" + uuid.NewString() + "/retry"},
		{http.MethodGet, "/api/v1/payouts/batches/" + uuid.NewString() + "/report"},
	}

	for _, p := range paths {
		for _, token := range []string{buyerToken, sellerToken} {
			t.Run(token+" "+p.path, func(t *testing.T) {
				rec := f.do(t, p.method, p.path, token, nil)
				assert.Equal(t, http.StatusForbidden, rec.Code)
				assert.Equal(t, ErrorTypeForbidden, decodeProblem(t, rec).Type)
			})
		}
	}
}
