package comicskingdom

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/discover"
	"github.com/johnstcn/comicsync/internal/session"
	"github.com/johnstcn/comicsync/internal/testutil/slogtest"
)

const (
	testSessionCookie = "ck_session"
	testSessionValue  = "sekrit"
	testCSRFToken     = "tok123"
)

func authed(r *http.Request) bool {
	c, err := r.Cookie(testSessionCookie)
	return err == nil && c.Value == testSessionValue
}

// newPublisher fakes enough of Comics Kingdom for the discoverer and the
// login driver: a login form, a paginated catalog and a favorites page.
func newPublisher(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprintf(w, `<html><body><form method="post">
				<input name="_token" value="%s">
				<input name="email"><input name="password" type="password">
			</form></body></html>`, testCSRFToken)
			return
		}
		if r.PostFormValue("_token") != testCSRFToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.PostFormValue("email") != "user@example.com" || r.PostFormValue("password") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:    testSessionCookie,
			Value:   testSessionValue,
			Path:    "/",
			Expires: time.Now().Add(24 * time.Hour),
		})
		fmt.Fprint(w, `<html><body><a href="/logout">Log Out</a></body></html>`)
	})

	mux.HandleFunc("/comics", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `<html><body>
				<a href="/hagar-the-horrible">Hagar the Horrible</a>
			</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a href="/beetle-bailey">Beetle Bailey</a>
			<a href="/blondie">Blondie</a>
			<a href="/search?q=x">Search</a>
			<a rel="next" href="/comics?page=2">Next</a>
		</body></html>`)
	})

	mux.HandleFunc("/favorites", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `<html><body><a href="/blondie">Blondie</a></body></html>`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func validState() session.State {
	return session.State{
		CapturedAt: time.Now(),
		Cookies: []session.Cookie{{
			Name:   testSessionCookie,
			Value:  testSessionValue,
			Path:   "/",
			Expiry: time.Now().Add(24 * time.Hour),
		}},
	}
}

func TestLoginDriver(t *testing.T) {
	t.Parallel()

	t.Run("OK", func(t *testing.T) {
		t.Parallel()
		srv := newPublisher(t)
		l := &LoginDriver{BaseURL: srv.URL, Logger: slogtest.New(t)}

		state, err := l.Login(context.Background(), session.Credentials{Username: "user@example.com", Password: "hunter2"})
		require.NoError(t, err)
		require.NotEmpty(t, state.Cookies)
		assert.Equal(t, testSessionCookie, state.Cookies[0].Name)
		assert.Equal(t, testSessionValue, state.Cookies[0].Value)
		assert.True(t, state.IsValid(time.Now()))
	})

	t.Run("BadCredentials", func(t *testing.T) {
		t.Parallel()
		srv := newPublisher(t)
		l := &LoginDriver{BaseURL: srv.URL, Logger: slogtest.New(t)}

		_, err := l.Login(context.Background(), session.Credentials{Username: "user@example.com", Password: "wrong"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, session.ErrAuthentication))
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		t.Parallel()
		l := &LoginDriver{BaseURL: "http://127.0.0.1:1", Logger: slogtest.New(t)}
		_, err := l.Login(context.Background(), session.Credentials{})
		assert.True(t, errors.Is(err, session.ErrAuthentication))
	})

	t.Run("UnreachableIsTransient", func(t *testing.T) {
		t.Parallel()
		l := &LoginDriver{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, Logger: slogtest.New(t)}
		_, err := l.Login(context.Background(), session.Credentials{Username: "u", Password: "p"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, session.ErrTransientNetwork))
	})

	t.Run("CookieSetOnRedirectIsCaptured", func(t *testing.T) {
		t.Parallel()
		mux := http.NewServeMux()
		mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				fmt.Fprintf(w, `<html><body><form method="post">
					<input name="_token" value="%s">
				</form></body></html>`, testCSRFToken)
				return
			}
			// Cookie rides the redirect, not the landing page.
			http.SetCookie(w, &http.Cookie{
				Name:  testSessionCookie,
				Value: testSessionValue,
				Path:  "/",
			})
			http.Redirect(w, r, "/account", http.StatusFound)
		})
		mux.HandleFunc("/account", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `<html><body><a href="/logout">Log Out</a></body></html>`)
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)

		l := &LoginDriver{BaseURL: srv.URL, Logger: slogtest.New(t)}
		state, err := l.Login(context.Background(), session.Credentials{Username: "user@example.com", Password: "hunter2"})
		require.NoError(t, err)
		require.NotEmpty(t, state.Cookies)
		assert.Equal(t, testSessionCookie, state.Cookies[0].Name)
		assert.Equal(t, testSessionValue, state.Cookies[0].Value)
	})
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	t.Run("FullCatalogPaginates", func(t *testing.T) {
		t.Parallel()
		srv := newPublisher(t)
		d, err := New(&Args{BaseURL: srv.URL, State: validState(), Logger: slogtest.New(t)})
		require.NoError(t, err)
		require.Equal(t, catalog.SourceComicsKingdom, d.Source())

		cands, err := d.Discover(context.Background(), discover.ScopeFull)
		require.NoError(t, err)
		require.Len(t, cands, 3)
		assert.Equal(t, "beetle-bailey", cands[0].Slug)
		assert.Equal(t, "blondie", cands[1].Slug)
		assert.Equal(t, "hagar-the-horrible", cands[2].Slug)
		for _, c := range cands {
			assert.Equal(t, catalog.SourceComicsKingdom, c.Source)
		}
	})

	t.Run("FavoritesScope", func(t *testing.T) {
		t.Parallel()
		srv := newPublisher(t)
		d, err := New(&Args{BaseURL: srv.URL, State: validState(), Logger: slogtest.New(t)})
		require.NoError(t, err)

		cands, err := d.Discover(context.Background(), discover.ScopeFavorites)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "blondie", cands[0].Slug)
	})

	t.Run("MissingSessionIsAuthError", func(t *testing.T) {
		t.Parallel()
		srv := newPublisher(t)
		d, err := New(&Args{BaseURL: srv.URL, Logger: slogtest.New(t)})
		require.NoError(t, err)

		_, err = d.Discover(context.Background(), discover.ScopeFull)
		require.Error(t, err)
		assert.True(t, errors.Is(err, session.ErrAuthentication))
	})

	t.Run("MidPaginationFailureYieldsPartialResults", func(t *testing.T) {
		t.Parallel()
		mux := http.NewServeMux()
		mux.HandleFunc("/comics", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "2" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `<html><body>
				<a href="/beetle-bailey">Beetle Bailey</a>
				<a rel="next" href="/comics?page=2">Next</a>
			</body></html>`)
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)

		d, err := New(&Args{BaseURL: srv.URL, State: validState(), Logger: slogtest.New(t)})
		require.NoError(t, err)

		cands, err := d.Discover(context.Background(), discover.ScopeFull)
		require.Error(t, err)
		assert.True(t, errors.Is(err, discover.ErrTransientScrape))
		// Partial results are valid and must be kept.
		require.Len(t, cands, 1)
		assert.Equal(t, "beetle-bailey", cands[0].Slug)
	})

	t.Run("CyclicNextLinkStops", func(t *testing.T) {
		t.Parallel()
		var requests int
		mux := http.NewServeMux()
		mux.HandleFunc("/comics", func(w http.ResponseWriter, r *http.Request) {
			requests++
			fmt.Fprint(w, `<html><body>
				<a href="/beetle-bailey">Beetle Bailey</a>
				<a rel="next" href="/comics">Next</a>
			</body></html>`)
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)

		d, err := New(&Args{BaseURL: srv.URL, State: validState(), Logger: slogtest.New(t)})
		require.NoError(t, err)

		cands, err := d.Discover(context.Background(), discover.ScopeFull)
		require.NoError(t, err)
		assert.Equal(t, 1, requests)
		require.Len(t, cands, 1)
		assert.Equal(t, "beetle-bailey", cands[0].Slug)
	})
}
