package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"repay/internal/domain"
	"repay/internal/repository"
	"repay/internal/service"
)

type stubUsers struct {
	byPhone map[string]*domain.User
}

func (s *stubUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range s.byPhone {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	if u, ok := s.byPhone[phone]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

type stubRides struct {
	unpaid map[string][]*domain.Ride
	paid   map[string]string
}

func (s *stubRides) FindUnpaid(ctx context.Context, q repository.UnpaidQuery) (*repository.UnpaidPage, error) {
	return &repository.UnpaidPage{End: q.Cursor}, nil
}

func (s *stubRides) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRides) LatestUnpaidForUser(ctx context.Context, userID string) (*domain.Ride, error) {
	return nil, nil
}

func (s *stubRides) ListUnpaidForUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	return s.unpaid[userID], nil
}

func (s *stubRides) Escalate(ctx context.Context, userID, rideID string, level int, at time.Time) error {
	return nil
}

func (s *stubRides) MarkPaid(ctx context.Context, userID, rideID, paymentRef string, amount int64) error {
	s.paid[rideID] = paymentRef
	return nil
}

type stubFees struct{}

func (stubFees) GetByBranch(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	return &domain.FeeSchedule{Branch: branch, StartCost: 1000, FreeMinutes: 5, PerMinuteCost: 100}, nil
}

func newOverrideRouter(rides *stubRides) *gin.Engine {
	gin.SetMode(gin.TestMode)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rides.unpaid = map[string][]*domain.Ride{
		"user-1": {{ID: "r1", UserID: "user-1", Branch: "서울", StartedAt: start, EndedAt: start.Add(15 * time.Minute), Unpaid: true}},
	}
	users := &stubUsers{byPhone: map[string]*domain.User{"01012345678": {ID: "user-1", Phone: "01012345678"}}}
	overrides := service.NewOverrideService(users, rides, stubFees{}, service.DefaultPricingOptions(), zap.NewNop())

	router := gin.New()
	router.POST("/v1/overrides", NewOverrideHandler(overrides, zap.NewNop()).Create)
	return router
}

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOverrideHandler_Create(t *testing.T) {
	rides := &stubRides{paid: map[string]string{}}
	router := newOverrideRouter(rides)

	rec := postJSON(router, "/v1/overrides", `{"phone":"010-1234-5678"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result service.OverrideResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.UserID != "user-1" || len(result.Rides) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// 1000 + (15-5)*100
	if result.Rides[0].Amount != 2000 {
		t.Errorf("expected amount 2000, got %d", result.Rides[0].Amount)
	}
	if rides.paid["r1"] != result.Rides[0].PaymentRef {
		t.Errorf("ride not marked paid with the returned reference")
	}
}

func TestOverrideHandler_CreateErrors(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing phone", `{}`, http.StatusBadRequest},
		{"invalid phone", `{"phone":"abc"}`, http.StatusBadRequest},
		{"unknown phone", `{"phone":"01099999999"}`, http.StatusNotFound},
	}

	router := newOverrideRouter(&stubRides{paid: map[string]string{}})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(router, "/v1/overrides", tc.body)
			if rec.Code != tc.expected {
				t.Errorf("expected %d, got %d: %s", tc.expected, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRunHandler_GetState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	kst := time.FixedZone("KST", 9*60*60)
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, kst)

	state := service.NewLocalRunState()
	cursor := domain.Cursor{EndedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), RideID: "r9"}
	if err := state.SaveCursor(ctx, cursor); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := state.IncrProcessed(ctx, "2026-03-10"); err != nil {
			t.Fatal(err)
		}
	}

	h := NewRunHandler(state, kst)
	h.now = func() time.Time { return now }
	router := gin.New()
	router.GET("/v1/runs/state", h.GetState)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp RunStateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Day != "2026-03-10" || resp.ProcessedToday != 3 {
		t.Errorf("unexpected state: %+v", resp)
	}
	if resp.Cursor.RideID != "r9" || !resp.Cursor.EndedAt.Equal(cursor.EndedAt) {
		t.Errorf("unexpected cursor: %+v", resp.Cursor)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	testCases := []struct {
		err      error
		expected int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", service.ErrInvalidPhone), http.StatusBadRequest},
		{service.ErrRunInProgress, http.StatusConflict},
		{repository.ErrAlreadyPaid, http.StatusConflict},
		{service.ErrNoFeeSchedule, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.expected {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.expected, got)
		}
	}
}
