package directory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sakif/user-directory/internal/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFetchProfile_Success(t *testing.T) {
	// httptest.NewServer spins up a real HTTP server on a random local port.
	// The client talks to it exactly as it would talk to the real upstream.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/1" {
			t.Errorf("upstream path = %q, want /users/1", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":1,"email":"george.bluth@reqres.in","first_name":"George","last_name":"Bluth","avatar":"https://reqres.in/img/faces/1-image.jpg"}}`))
	}))
	defer upstream.Close()

	client := New(upstream.URL, testLogger())

	profile, err := client.FetchProfile(context.Background(), "1")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}

	if profile.ID != 1 {
		t.Errorf("ID = %d, want 1", profile.ID)
	}
	if profile.FullName() != "George Bluth" {
		t.Errorf("FullName() = %q, want %q", profile.FullName(), "George Bluth")
	}
	if profile.AvatarBasename() != "1-image.jpg" {
		t.Errorf("AvatarBasename() = %q, want %q", profile.AvatarBasename(), "1-image.jpg")
	}
}

func TestFetchProfile_NotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	client := New(upstream.URL, testLogger())

	_, err := client.FetchProfile(context.Background(), "23")
	if err == nil {
		t.Fatal("FetchProfile() should error on upstream 404")
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err.Error() != "User does not exist" {
		t.Errorf("message = %q, want %q", err.Error(), "User does not exist")
	}
}

func TestFetchProfile_UpstreamError_CarriesStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := New(upstream.URL, testLogger())

	_, err := client.FetchProfile(context.Background(), "1")
	if err == nil {
		t.Fatal("FetchProfile() should error on upstream 502")
	}
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("error should be an *AppError")
	}
	if appErr.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", appErr.Status)
	}
}

func TestFetchProfile_TransportFailure(t *testing.T) {
	// Point the client at a server that's already closed — the dial fails.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	client := New(upstream.URL, testLogger())

	_, err := client.FetchProfile(context.Background(), "1")
	if err == nil {
		t.Fatal("FetchProfile() should error when the upstream is unreachable")
	}
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Errorf("error = %v, want ErrUpstream", err)
	}
}
