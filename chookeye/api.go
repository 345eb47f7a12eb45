package chookeye

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrAlertNotFound is returned by FetchAlert when the server has no alert
// with the requested ID.
var ErrAlertNotFound = errors.New("alert not found")

// APIError is a non-2xx response from the chookeye REST API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (HTTP %d)", e.StatusCode)
}

// APIClient handles request/response communication with the chookeye
// backend. The realtime channel is Conn's job; everything here is plain
// JSON over HTTP. No retries are attempted: failures surface to the caller,
// who decides whether to retry the triggering action.
type APIClient struct {
	rest *resty.Client
	log  logrus.FieldLogger
}

// NewAPIClient creates a REST client for the given base URL.
func NewAPIClient(baseURL string, log logrus.FieldLogger) *APIClient {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &APIClient{
		rest: rest,
		log:  log,
	}
}

// SetToken installs the bearer token sent with every subsequent request.
// An empty token clears it.
func (c *APIClient) SetToken(token string) {
	c.rest.SetAuthToken(token)
}

// SignIn authenticates with email and password. On success the returned
// session's token is installed on this client for subsequent requests.
func (c *APIClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var out struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/api/auth/signin")
	if err != nil {
		return nil, errors.Wrap(err, "signin request failed")
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}
	if out.Token == "" {
		return nil, errors.New("signin response missing token")
	}

	session := &Session{Token: out.Token, User: out.User}
	if session.User.ID == 0 {
		// Older backends omit the user object; recover identity from the
		// token claims instead.
		user, err := UserFromToken(out.Token)
		if err != nil {
			c.log.WithError(err).Warn("Could not recover user identity from token")
		} else {
			session.User = user
		}
	}

	c.SetToken(out.Token)
	c.log.WithField("user", session.User.Username).Info("Signed in")
	return session, nil
}

// SignUp registers a new account. The server responds 201 on success.
func (c *APIClient) SignUp(ctx context.Context, email, username, password string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"email":    email,
			"username": username,
			"password": password,
		}).
		SetError(&APIError{}).
		Post("/api/auth/signup")
	if err != nil {
		return errors.Wrap(err, "signup request failed")
	}
	if resp.IsError() {
		return c.apiError(resp)
	}
	return nil
}

// CheckUsername reports whether the username is still available.
func (c *APIClient) CheckUsername(ctx context.Context, username string) (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("username", username).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/api/user/check-username")
	if err != nil {
		return false, errors.Wrap(err, "check-username request failed")
	}
	if resp.IsError() {
		return false, c.apiError(resp)
	}
	return out.Available, nil
}

// ReportAlert submits a new alert at the given coordinates and returns the
// server-assigned entity.
func (c *APIClient) ReportAlert(ctx context.Context, content string, coords Coordinates) (*Alert, error) {
	var alert Alert

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"content": content,
			"location": map[string]float64{
				"latitude":  coords.Latitude,
				"longitude": coords.Longitude,
			},
		}).
		SetResult(&alert).
		SetError(&APIError{}).
		Post("/api/alert")
	if err != nil {
		return nil, errors.Wrap(err, "report alert request failed")
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}

	c.log.WithField("alertID", alert.ID).Info("Alert reported")
	return &alert, nil
}

// FetchAlert retrieves the full detail of one alert, including its flags.
func (c *APIClient) FetchAlert(ctx context.Context, id int) (*Alert, error) {
	var out struct {
		Alert Alert `json:"alert"`
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&APIError{}).
		Get(fmt.Sprintf("/api/alert/%d", id))
	if err != nil {
		return nil, errors.Wrap(err, "fetch alert request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrAlertNotFound
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}
	return &out.Alert, nil
}

// SubmitFlag records the viewing user's verdict (FlagVerify or FlagDismiss)
// on an alert. The server rejects a second flag for the same pair.
func (c *APIClient) SubmitFlag(ctx context.Context, id int, flagType string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"Type": flagType}).
		SetError(&APIError{}).
		Post(fmt.Sprintf("/api/flag/%d", id))
	if err != nil {
		return errors.Wrap(err, "flag request failed")
	}
	if resp.IsError() {
		return c.apiError(resp)
	}
	return nil
}

// apiError converts a non-2xx resty response into an *APIError.
func (c *APIClient) apiError(resp *resty.Response) error {
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	c.log.WithFields(logrus.Fields{
		"status": apiErr.StatusCode,
		"path":   resp.Request.URL,
	}).Warn("Request failed")
	return apiErr
}
