package comicskingdom

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/session"
)

// LoginDriver drives the Comics Kingdom username/password login flow and
// captures the resulting session cookies.
type LoginDriver struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger

	now func() time.Time
}

var _ session.LoginDriver = (*LoginDriver)(nil)

// Login fetches the login form, posts the credentials with the form's CSRF
// token and captures the cookies set on success.
func (l *LoginDriver) Login(ctx context.Context, creds session.Credentials) (session.State, error) {
	if creds.Username == "" || creds.Password == "" {
		return session.State{}, errors.Wrap(session.ErrAuthentication, "missing credentials")
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	baseURL, client, err := newClient(l.BaseURL, l.UserAgent, l.Timeout)
	if err != nil {
		return session.State{}, err
	}

	res, err := client.R().SetContext(ctx).Get(loginPath)
	if err != nil {
		return session.State{}, errors.Wrapf(session.ErrTransientNetwork, "get login page: %v", err)
	}
	if res.StatusCode() != http.StatusOK {
		return session.State{}, errors.Wrapf(session.ErrTransientNetwork, "get login page: status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return session.State{}, errors.Wrapf(session.ErrAuthentication, "parse login page: %v", err)
	}
	token := doc.Find("input[name=_token]").AttrOr("value", "")
	if token == "" {
		return session.State{}, errors.Wrap(session.ErrAuthentication, "login page has no csrf token")
	}

	res, err = client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"email":    creds.Username,
			"password": creds.Password,
			"_token":   token,
		}).
		Post(loginPath)
	if err != nil {
		return session.State{}, errors.Wrapf(session.ErrTransientNetwork, "post login: %v", err)
	}
	if res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden {
		return session.State{}, errors.Wrapf(session.ErrAuthentication, "post login: status %d", res.StatusCode())
	}
	if res.StatusCode() != http.StatusOK && res.StatusCode() != http.StatusFound {
		return session.State{}, errors.Wrapf(session.ErrTransientNetwork, "post login: status %d", res.StatusCode())
	}

	loginDoc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err == nil && isLoginPage(loginDoc) {
		// Landed back on the form: the publisher rejected the
		// credentials without an error status.
		return session.State{}, errors.Wrap(session.ErrAuthentication, "credentials rejected")
	}

	// Session cookies are usually set on a 302 before the redirect to the
	// landing page, so the final response alone may carry none. The jar has
	// seen every Set-Cookie along the chain.
	cookies := client.GetClient().Jar.Cookies(baseURL)
	if len(cookies) == 0 {
		cookies = res.Cookies()
	}
	if len(cookies) == 0 {
		return session.State{}, errors.Wrap(session.ErrAuthentication, "no session cookies captured")
	}

	now := l.now
	if now == nil {
		now = time.Now
	}
	log.Info("captured session cookies", "identity", Identity, "cookies", len(cookies))
	return session.FromHTTPCookies(cookies, now()), nil
}
