package discuz

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"go.opentelemetry.io/otel/codes"
)

const (
	report_client_signin      = "client.signin"
	report_client_visit_homes = "client.visit-homes"
	report_client_coins       = "client.coins"
)

// ErrInfoNotFound means an account info fragment did not contain the expected field.
var ErrInfoNotFound = errors.New("account info not found")

// SigninResult is what the check-in endpoint answered. Err is set instead of
// being returned since a failed check-in must not stop the run.
type SigninResult struct {
	Status int
	Body   string
	Err    error
}

func (r SigninResult) Ok() bool {
	return r.Err == nil && r.Status == 200
}

// Signin submits the daily check-in with the session's action token.
func (c *Client) Signin(ctx context.Context, formhash string) SigninResult {
	ctx, span := tracer.Start(ctx, "Signin")
	defer span.End()

	c.tel.ReportInfo("checking in", signinPath(formhash))
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(signinPath(formhash))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check-in request failed")
		c.tel.ReportWarning(report_client_signin, err)
		return SigninResult{Err: err}
	}

	result := SigninResult{Status: res.StatusCode(), Body: res.String()}
	c.tel.ReportInfo("check-in status", result.Status)
	c.tel.ReportInfo("check-in response", result.Body)
	return result
}

// ProfileIds draws count uniformly random user ids from [lo, hi].
func ProfileIds(rng *rand.Rand, count, lo, hi int) []int {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = lo + rng.Intn(hi-lo+1)
	}
	return ids
}

// VisitHomes opens a batch of random member profiles, pausing before each one.
// Unlike Signin a failed request aborts the batch, the ids visited so far are
// returned either way.
func (c *Client) VisitHomes(ctx context.Context) ([]int, error) {
	ctx, span := tracer.Start(ctx, "VisitHomes")
	defer span.End()

	ids := ProfileIds(c.rand, c.limits.Visits, c.limits.VisitMinUid, c.limits.VisitMaxUid)
	visited := make([]int, 0, len(ids))
	for _, uid := range ids {
		err := sleep(ctx, c.pacing.VisitDelay)
		if err != nil {
			return visited, err
		}

		res, err := c.Http.R().
			SetContext(ctx).
			SetHeaders(c.pageHeaders()).
			Get(profilePath(uid))
		if err != nil {
			err = fmt.Errorf("visit uid %d: %w", uid, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "visit failed")
			c.tel.ReportWarning(report_client_visit_homes, err)
			return visited, err
		}
		visited = append(visited, uid)
		c.tel.ReportInfo("visited profile", uid, res.StatusCode())
	}
	c.tel.ReportCount(report_client_visit_homes, int64(len(visited)))
	return visited, nil
}

// Coins reads the account's coin balance from the credit menu fragment.
func (c *Client) Coins(ctx context.Context) (string, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.ajaxHeaders()).
		Get(creditPath)
	if err != nil {
		c.tel.ReportWarning(report_client_coins, err)
		return "", err
	}
	coins, ok := ExtractCoins(res.String())
	if !ok {
		return "", ErrInfoNotFound
	}
	return coins, nil
}
