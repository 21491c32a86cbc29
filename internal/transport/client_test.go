package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/missionlog/internal/credentials"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	reasons []error
}

func (r *recordingInvalidator) Invalidate(reason error) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func newStore(t *testing.T, access, refresh string) credentials.Store {
	t.Helper()
	s := credentials.NewMemoryStore()
	if access != "" {
		s.Set(credentials.AccessTokenKey, access)
	}
	if refresh != "" {
		s.Set(credentials.RefreshTokenKey, refresh)
	}
	return s
}

func TestDoAttachesBearerAndRequestID(t *testing.T) {
	var gotAuth, gotID, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(requestIDHeader)
		gotCT = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newStore(t, "tok", "ref"))
	var out struct{ OK bool }
	if err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x/", Body: map[string]int{"a": 1}}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotID == "" {
		t.Error("X-Request-ID not set")
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
}

func TestAnonymousRequestOmitsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := &recordingInvalidator{}
	c := New(srv.URL, newStore(t, "tok", "ref"), WithInvalidator(inv))
	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login/", Anonymous: true}, nil)

	if StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 HTTPError", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
	if inv.count() != 0 {
		t.Error("anonymous 401 must not invalidate the session")
	}
}

func TestRefreshThenRetryOnce(t *testing.T) {
	var calls, refreshes atomic.Int32
	var retryAuth, firstID, retryID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshes.Add(1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refresh"] != "ref" {
				t.Errorf("refresh body = %v", body)
			}
			w.Write([]byte(`{"access":"new"}`))
			return
		}
		if calls.Add(1) == 1 {
			firstID = r.Header.Get(requestIDHeader)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		retryAuth = r.Header.Get("Authorization")
		retryID = r.Header.Get(requestIDHeader)
		w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	store := newStore(t, "old", "ref")
	c := New(srv.URL, store)
	var out struct{ Value int }
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/journey/stats/"}, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if out.Value != 42 {
		t.Errorf("Value = %d, want 42", out.Value)
	}
	if calls.Load() != 2 || refreshes.Load() != 1 {
		t.Errorf("calls = %d, refreshes = %d; want 2, 1", calls.Load(), refreshes.Load())
	}
	if retryAuth != "Bearer new" {
		t.Errorf("retry Authorization = %q", retryAuth)
	}
	if firstID == "" || firstID != retryID {
		t.Errorf("request ids differ: %q vs %q", firstID, retryID)
	}
	access, refresh, _ := credentials.Tokens(store)
	if access != "new" || refresh != "ref" {
		t.Errorf("stored tokens = (%q, %q)", access, refresh)
	}
}

func TestRepeated401RetriesAtMostOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			w.Write([]byte(`{"access":"new","refresh":"ref2"}`))
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token not valid"}`))
	}))
	defer srv.Close()

	store := newStore(t, "old", "ref")
	c := New(srv.URL, store)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/journey/days/1/"}, nil)

	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 HTTPError", err)
	}
	if he.Message() != "token not valid" {
		t.Errorf("Message() = %q", he.Message())
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if _, r, _ := credentials.Tokens(store); r != "ref2" {
		t.Errorf("rotated refresh token not stored: %q", r)
	}
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newStore(t, "old", "ref")
	inv := &recordingInvalidator{}
	c := New(srv.URL, store, WithInvalidator(inv))
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me/"}, nil)

	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if a, r, _ := credentials.Tokens(store); a != "" || r != "" {
		t.Errorf("tokens not cleared: (%q, %q)", a, r)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
}

func TestMissingRefreshTokenExpiresWithoutRefreshCall(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshes.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := newStore(t, "old", "")
	inv := &recordingInvalidator{}
	c := New(srv.URL, store, WithInvalidator(inv))
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me/"}, nil)

	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if refreshes.Load() != 0 {
		t.Errorf("refresh endpoint called %d times", refreshes.Load())
	}
	if a, _, _ := credentials.Tokens(store); a != "" {
		t.Errorf("access token not cleared: %q", a)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const n = 8
	var refreshes atomic.Int32
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(n)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshes.Add(1)
			// Hold the refresh until every request has hit its 401.
			<-release
			w.Write([]byte(`{"access":"new"}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer new" {
			w.Write([]byte(`{}`))
			return
		}
		arrived.Done()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, newStore(t, "old", "ref"))

	errs := make(chan error, n)
	for range n {
		go func() {
			errs <- c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/journey/stats/"}, nil)
		}()
	}

	arrived.Wait()
	// Give the losers time to join the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range n {
		if err := <-errs; err != nil {
			t.Errorf("Do: %v", err)
		}
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestStaleTokenReusesStoredToken(t *testing.T) {
	var refreshes atomic.Int32
	store := newStore(t, "old", "ref")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == refreshPath {
			refreshes.Add(1)
			w.Write([]byte(`{"access":"unexpected"}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer old" {
			// Another process refreshed while this request was in flight.
			store.Set(credentials.AccessTokenKey, "fresh")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, store)
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me/"}, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if refreshes.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", refreshes.Load())
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, newStore(t, "tok", ""))
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me/"}, nil)

	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %T %v, want *NetworkError", err, err)
	}
	if !strings.HasSuffix(ne.URL, "/auth/me/") {
		t.Errorf("URL = %q", ne.URL)
	}
}

func TestOtherStatusReturnedUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"title required","type":"invalid_request"}}`))
	}))
	defer srv.Close()

	inv := &recordingInvalidator{}
	c := New(srv.URL, newStore(t, "tok", "ref"), WithInvalidator(inv))
	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/journey/tasks/"}, nil)

	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
	if he.Message() != "title required" {
		t.Errorf("Message() = %q", he.Message())
	}
	if inv.count() != 0 {
		t.Error("400 must not invalidate the session")
	}
}

func TestLoginAndLogout(t *testing.T) {
	var blacklisted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case loginPath:
			if body["username"] != "ada" || body["password"] != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"access":"a","refresh":"r"}`))
		case logoutPath:
			if r.Header.Get("Authorization") != "" {
				t.Error("logout should be anonymous")
			}
			blacklisted = body["refresh"]
			w.WriteHeader(http.StatusResetContent)
		}
	}))
	defer srv.Close()

	store := credentials.NewMemoryStore()
	c := New(srv.URL, store)

	if _, err := c.Login(context.Background(), "ada", "bad"); StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("bad login err = %v, want 401", err)
	}

	tok, err := c.Login(context.Background(), "ada", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.Access != "a" || tok.Refresh != "r" {
		t.Errorf("tokens = %+v", tok)
	}
	credentials.SaveTokens(store, tok.Access, tok.Refresh)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if blacklisted != "r" {
		t.Errorf("blacklisted = %q, want r", blacklisted)
	}
	if a, r, _ := credentials.Tokens(store); a != "" || r != "" {
		t.Errorf("tokens after logout = (%q, %q)", a, r)
	}
}

func TestLogoutClearsEvenWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newStore(t, "a", "r")
	inv := &recordingInvalidator{}
	c := New(srv.URL, store, WithInvalidator(inv))
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if inv.count() != 1 {
		t.Errorf("invalidations = %d, want 1", inv.count())
	}
}

func TestHTTPErrorMessageFallbacks(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"bad thing"}`, "bad thing"},
		{`{"detail":"nope"}`, "nope"},
		{`{"message":"msg"}`, "msg"},
		{`plain text`, "plain text"},
		{``, "Not Found"},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: http.StatusNotFound, Body: []byte(tt.body)}
		if got := e.Message(); got != tt.want {
			t.Errorf("Message(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
