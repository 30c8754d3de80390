package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sweet-shop/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func asUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestMiddleware_MissingHeader(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{"items":[]}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ord_1"}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, asUser(newRequest("abc-123", `{"items":[1]}`), "uid-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, asUser(newRequest("abc-123", `{"items":[1]}`), "uid-1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr1.Code != http.StatusCreated || rr2.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", rr1.Code, rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" || rr1.Header().Get(replayHeaderName) != "" {
		t.Fatalf("expected replay header only on the replay")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), asUser(newRequest("shared", `{}`), "uid-1"))
	handler.ServeHTTP(httptest.NewRecorder(), asUser(newRequest("shared", `{}`), "uid-2"))

	if calls != 2 {
		t.Fatalf("expected each caller to run the handler, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest("same-key", `{"qty":1}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest("same-key", `{"qty":2}`))

	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked while a reservation is pending")
		}))

	req := newRequest("pending-key", `{"qty":1}`)
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	requester := requesterFromContext(req.Context())
	if _, err := store.Reserve(req.Context(), "pending-key|"+requester, requestFingerprint(req, body, requester), fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotReplayed(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest("retry-key", `{}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest("retry-key", `{}`))

	if rr1.Code != http.StatusBadGateway || rr2.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after 502, got %d then %d (%d calls)", rr1.Code, rr2.Code, calls)
	}
}

func TestMiddleware_SaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("fail-key", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to be delivered, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_StoreUnavailable(t *testing.T) {
	handler := Middleware(&stubStore{failReserve: true})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a reservation")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("k", `{}`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_unavailable")
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Hour); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(2*time.Hour), time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(90*time.Minute), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed with limit, got %d (%v)", removed, err)
	}
	removed, _ = store.CleanupExpired(ctx, fixedTime.Add(90*time.Minute), 0)
	if removed != 1 {
		t.Fatalf("expected the remaining expired key to be removed, got %d", removed)
	}
	if res, _ := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(2*time.Hour), time.Hour); res.State != ReservationStatePending {
		t.Fatalf("expected unexpired key to survive cleanup")
	}
}

func TestMemoryStoreExpiredKeyIsReclaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "k", "fp-1", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "fp-2", fixedTime.Add(time.Hour), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reclaimable, got %+v (%v)", res, err)
	}
}

type stubStore struct {
	failSave    bool
	failReserve bool
	released    bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.failReserve {
		return Reservation{}, errors.New("store down")
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
