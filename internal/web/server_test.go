package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/events"
	"github.com/vadiminshakov/svault/internal/ledger"
)

type mockVault struct {
	mock.Mock
}

func (m *mockVault) Status() domain.VaultStatus {
	return m.Called().Get(0).(domain.VaultStatus)
}

func (m *mockVault) Collaterals() []domain.Collateral {
	return m.Called().Get(0).([]domain.Collateral)
}

func (m *mockVault) Collateral(id uint64) (domain.Collateral, error) {
	args := m.Called(id)
	return args.Get(0).(domain.Collateral), args.Error(1)
}

func (m *mockVault) Redemptions(owner domain.AccountID) ([]domain.PendingRedemption, error) {
	args := m.Called(owner)
	return args.Get(0).([]domain.PendingRedemption), args.Error(1)
}

func (m *mockVault) Rate(ctx context.Context, code string) (uint64, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockVault) Outbox() ([]domain.Command, error) {
	args := m.Called()
	return args.Get(0).([]domain.Command), args.Error(1)
}

func (m *mockVault) TriggerSettlement(ctx context.Context, caller, owner domain.AccountID) error {
	return m.Called(ctx, caller, owner).Error(0)
}

func (m *mockVault) HarvestIncome(ctx context.Context, caller domain.AccountID) error {
	return m.Called(ctx, caller).Error(0)
}

type mockTransferer struct {
	mock.Mock
}

func (m *mockTransferer) Transfer(ctx context.Context, contract, from, to domain.AccountID, quantity domain.Amount, memo string) error {
	return m.Called(ctx, contract, from, to, quantity, memo).Error(0)
}

type stubBalances map[domain.AccountID][]ledger.Balance

func (s stubBalances) Balances(_ context.Context, account domain.AccountID) []ledger.Balance {
	return s[account]
}

type memAudit struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (m *memAudit) EventsAfter(index uint64) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditRecord
	for _, r := range m.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAudit) add(r domain.AuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(callerHeader, "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_ReadEndpoints(t *testing.T) {
	v := &mockVault{}
	c := domain.Collateral{ID: 1, DepositDenom: domain.Denomination{Code: "EOS", Precision: 4}}
	v.On("Status").Return(domain.DefaultVaultStatus())
	v.On("Collaterals").Return([]domain.Collateral{c})
	v.On("Collateral", uint64(1)).Return(c, nil)
	v.On("Collateral", uint64(2)).Return(domain.Collateral{}, domain.NotFoundf("collateral 2"))
	v.On("Rate", mock.Anything, "SEOS").Return(uint64(125_000_000), nil)
	v.On("Redemptions", domain.AccountID("alice")).Return([]domain.PendingRedemption(nil), nil)
	v.On("Outbox").Return([]domain.Command{}, nil)

	balances := stubBalances{"alice": {{Contract: "eosio.token", Amount: domain.MustAmount("1.0000 EOS")}}}
	h := NewServer(Options{Vault: v, Balances: balances}).Handler()

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantBody string
	}{
		{"status", "/status", http.StatusOK, `"deposit_enabled":true`},
		{"collaterals", "/collaterals", http.StatusOK, `"id":1`},
		{"collateral", "/collaterals/1", http.StatusOK, `"id":1`},
		{"unknown collateral", "/collaterals/2", http.StatusNotFound, "collateral 2"},
		{"rate", "/rates/SEOS", http.StatusOK, `"ratio":"1.25"`},
		{"empty redemptions", "/redemptions/alice", http.StatusOK, `[]`},
		{"balances", "/balances/alice", http.StatusOK, `"1.0000 EOS"`},
		{"outbox", "/outbox", http.StatusOK, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestServer_Triggers(t *testing.T) {
	v := &mockVault{}
	v.On("TriggerSettlement", mock.Anything, domain.AccountID("bob"), domain.AccountID("alice")).Return(nil)
	v.On("TriggerSettlement", mock.Anything, domain.AccountID("bob"), domain.AccountID("carol")).
		Return(domain.Shortfallf("vault holds 0.0000 EOS"))
	v.On("HarvestIncome", mock.Anything, domain.AccountID("bob")).Return(nil)
	h := NewServer(Options{Vault: v}).Handler()

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/settlements/alice", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/settlements/carol", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/harvest", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/harvest", "").Code)

	// transfers are only routed in simulate mode
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/ledger/transfers", "{}").Code)
	v.AssertExpectations(t)
}

func TestServer_SimulatedTransfer(t *testing.T) {
	sim := &mockTransferer{}
	qty := domain.MustAmount("10.0000 EOS")
	sim.On("Transfer", mock.Anything, domain.AccountID("eosio.token"), domain.AccountID("alice"), domain.AccountID("vault"), qty, "hi").
		Return(nil)
	sim.On("Transfer", mock.Anything, domain.AccountID("eosio.token"), domain.AccountID("bob"), domain.AccountID("vault"), qty, "").
		Return(domain.Pausedf("deposit"))
	h := NewServer(Options{Vault: &mockVault{}, Simulator: sim}).Handler()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"accepted", `{"contract":"eosio.token","from":"alice","to":"vault","quantity":"10.0000 EOS","memo":"hi"}`, http.StatusNoContent},
		{"rejected by vault", `{"contract":"eosio.token","from":"bob","to":"vault","quantity":"10.0000 EOS"}`, http.StatusConflict},
		{"bad amount", `{"contract":"eosio.token","from":"bob","to":"vault","quantity":"ten"}`, http.StatusBadRequest},
		{"missing account", `{"contract":"eosio.token","to":"vault","quantity":"10.0000 EOS"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, do(t, h, http.MethodPost, "/ledger/transfers", tt.body).Code)
		})
	}
	sim.AssertNumberOfCalls(t, "Transfer", 2)
}

func TestServer_AuditStream(t *testing.T) {
	audit := &memAudit{}
	audit.add(domain.AuditRecord{Index: 1, Kind: domain.AuditDepositCompleted, Payload: json.RawMessage(`{"owner":"alice"}`)})
	audit.add(domain.AuditRecord{Index: 2, Kind: domain.AuditStatusChanged, Payload: json.RawMessage(`{}`)})
	broadcaster := events.NewAuditBroadcaster(8)

	srv := httptest.NewServer(NewServer(Options{
		Vault:        &mockVault{},
		Audit:        audit,
		Broadcaster:  broadcaster,
		PollInterval: 50 * time.Millisecond,
	}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/audit/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextID := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "id: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "id: "))
			}
		}
	}

	// backlog resumes after the given id
	assert.Equal(t, "2", nextID())

	require.Eventually(t, func() bool { return broadcaster.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	rec := domain.AuditRecord{Index: 3, Kind: domain.AuditIncomeHarvested, Payload: json.RawMessage(`{}`)}
	audit.add(rec)
	broadcaster.Publish(rec)
	assert.Equal(t, "3", nextID())

	// records missed by the broadcaster arrive through the poll
	audit.add(domain.AuditRecord{Index: 4, Kind: domain.AuditIncomeHarvested, Payload: json.RawMessage(`{}`)})
	assert.Equal(t, "4", nextID())
}

func TestServer_AuditStreamKindFilter(t *testing.T) {
	audit := &memAudit{}
	audit.add(domain.AuditRecord{Index: 1, Kind: domain.AuditDepositCompleted, Payload: json.RawMessage(`{}`)})
	audit.add(domain.AuditRecord{Index: 2, Kind: domain.AuditStatusChanged, Payload: json.RawMessage(`{}`)})
	audit.add(domain.AuditRecord{Index: 3, Kind: domain.AuditDepositCompleted, Payload: json.RawMessage(`{}`)})
	broadcaster := events.NewAuditBroadcaster(8)

	srv := httptest.NewServer(NewServer(Options{
		Vault:        &mockVault{},
		Audit:        audit,
		Broadcaster:  broadcaster,
		PollInterval: 50 * time.Millisecond,
	}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/audit/stream?kind=deposit_completed", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "id: ") {
				id := strings.TrimSpace(strings.TrimPrefix(line, "id: "))
				line, err = reader.ReadString('\n')
				require.NoError(t, err)
				return id + " " + strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	assert.Equal(t, "1 deposit_completed", nextEvent())
	assert.Equal(t, "3 deposit_completed", nextEvent())

	require.Eventually(t, func() bool { return broadcaster.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	for _, rec := range []domain.AuditRecord{
		{Index: 4, Kind: domain.AuditIncomeHarvested, Payload: json.RawMessage(`{}`)},
		{Index: 5, Kind: domain.AuditDepositCompleted, Payload: json.RawMessage(`{}`)},
	} {
		audit.add(rec)
		broadcaster.Publish(rec)
	}
	assert.Equal(t, "5 deposit_completed", nextEvent())
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, uint64(7), parseLastEventID(" 7 ", "9"))
	assert.Equal(t, uint64(9), parseLastEventID("", "9"))
	assert.Equal(t, uint64(0), parseLastEventID("x", ""))
}
