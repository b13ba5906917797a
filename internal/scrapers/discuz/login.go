package discuz

import (
	"context"
	"discuz-signin/internal/ocr"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/codes"
)

const (
	report_client_wait_for_challenge   = "client.wait-for-challenge"
	report_client_form_hash            = "client.form-hash"
	report_client_login_without_verify = "client.login-without-verify"
	report_client_verify_code_once     = "client.verify-code-once"
	report_client_verify_code          = "client.verify-code"
	report_client_login_with_code      = "client.login-with-code"
	report_client_post_hash            = "client.post-hash"
	report_client_login                = "client.login"
	report_client_session_info         = "client.session-info"
)

var (
	// ErrTokenNotFound means the login page carried no formhash.
	ErrTokenNotFound = errors.New("login form token not found")
	// ErrSeccodeNotFound means the login page carried no captcha id.
	ErrSeccodeNotFound = errors.New("captcha id not found")
	// ErrNotImage means the captcha endpoint answered with something other than an image.
	ErrNotImage         = errors.New("captcha response is not an image")
	ErrNoClassifier     = errors.New("no captcha classifier configured")
	ErrCaptchaRequired  = errors.New("login requires a captcha")
	ErrUnexpectedAnswer = errors.New("unexpected login response")
	ErrCodeRejected     = errors.New("captcha code rejected")
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")
	ErrLoginRejected    = errors.New("login submission rejected")
	ErrLoginFailed      = errors.New("login failed")

	errSubmissionRefused = errors.New("login submission not accepted")
)

// Seccode is a captcha answer the forum has already accepted.
type Seccode struct {
	Code   string
	IdHash string
}

// Session is what a successful login yields. Only ActionToken is required
// for later actions, the rest is informational and may be empty.
type Session struct {
	ActionToken string
	Credit      string
	Coins       string
}

// WaitForChallenge polls the home page until the challenge marker disappears.
// It reports false when the challenge is still up after every poll, the
// caller is expected to carry on regardless.
func (c *Client) WaitForChallenge(ctx context.Context) bool {
	for i := 0; i < c.limits.ChallengePolls; i++ {
		res, err := c.Http.R().
			SetContext(ctx).
			SetHeaders(c.pageHeaders()).
			Get(homePath)
		if err != nil {
			c.tel.ReportWarning(report_client_wait_for_challenge, err)
		} else if !strings.Contains(res.String(), challengeMarker) {
			c.tel.ReportInfo("challenge passed")
			return true
		} else {
			c.tel.ReportInfo("waiting on challenge", i+1, c.limits.ChallengePolls)
		}
		if sleep(ctx, c.pacing.ChallengePoll) != nil {
			return false
		}
	}
	c.tel.ReportWarning(report_client_wait_for_challenge, fmt.Errorf("challenge still present after %d polls", c.limits.ChallengePolls))
	return false
}

// FormHash loads the login page and reads the tokens the login form needs.
func (c *Client) FormHash(ctx context.Context) (LoginTokens, error) {
	err := c.jitter(ctx)
	if err != nil {
		return LoginTokens{}, err
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(loginPagePath)
	if err != nil {
		c.tel.ReportWarning(report_client_form_hash, err)
		return LoginTokens{}, err
	}

	tokens, ok := ExtractLoginTokens(res.String())
	if !ok {
		c.tel.ReportWarning(report_client_form_hash, ErrTokenNotFound)
		return LoginTokens{}, ErrTokenNotFound
	}
	c.tel.ReportDebug("login tokens", tokens.LoginHash, tokens.FormHash)
	return tokens, nil
}

// LoginWithoutVerify submits the plain login form. It returns nil when the
// forum accepted it and ErrCaptchaRequired when the forum wants a captcha.
func (c *Client) LoginWithoutVerify(ctx context.Context) error {
	tokens, err := c.FormHash(ctx)
	if err != nil {
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.loginHeaders()).
		SetFormData(map[string]string{
			"formhash":  tokens.FormHash,
			"referer":   c.origin(),
			"username":  c.credentials.Username,
			"password":  c.credentials.Password,
			"handlekey": "ls",
		}).
		Post(loginSubmitPath(tokens.LoginHash))
	if err != nil {
		c.tel.ReportWarning(report_client_login_without_verify, err)
		return err
	}

	body := res.String()
	switch {
	case strings.Contains(body, "succeed"):
		c.tel.ReportInfo("logged in without captcha")
		return nil
	case strings.Contains(body, "seccodeverify"):
		return ErrCaptchaRequired
	default:
		c.tel.ReportDebug("unexpected login response", body)
		return ErrUnexpectedAnswer
	}
}

// VerifyCodeOnce fetches a fresh captcha and returns the classifier's reading of it.
func (c *Client) VerifyCodeOnce(ctx context.Context) (string, error) {
	if c.classifier == nil {
		return "", ErrNoClassifier
	}

	err := c.jitter(ctx)
	if err != nil {
		return "", err
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(loginPagePath)
	if err != nil {
		return "", err
	}
	err = c.jitter(ctx)
	if err != nil {
		return "", err
	}

	idhash, ok := ExtractSeccodeId(res.String())
	if !ok {
		return "", ErrSeccodeNotFound
	}
	c.tel.ReportDebug("captcha id", idhash)

	// asks the forum to generate a new image for this id
	_, err = c.Http.R().
		SetContext(ctx).
		SetHeaders(c.captchaHeaders()).
		Get(seccodeUpdatePath(idhash))
	if err != nil {
		return "", err
	}

	err = c.jitter(ctx)
	if err != nil {
		return "", err
	}
	res, err = c.Http.R().
		SetContext(ctx).
		SetHeaders(c.captchaHeaders()).
		Get(seccodeImagePath(idhash, c.clock.Now().Unix()))
	if err != nil {
		return "", err
	}
	if res.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("captcha image: unexpected status %d", res.StatusCode())
	}
	contentType := res.Header().Get("content-type")
	if !strings.Contains(strings.ToLower(contentType), "image") {
		return "", fmt.Errorf("%w: %q", ErrNotImage, contentType)
	}

	code, err := c.classifier.Classify(ctx, res.Body())
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ocr.ErrEmptyResult
	}
	return code, nil
}

// checkCode asks the forum whether code answers the captcha currently on the
// login page.
func (c *Client) checkCode(ctx context.Context, code string) (Seccode, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(loginPagePath)
	if err != nil {
		return Seccode{}, err
	}
	idhash, ok := ExtractVerifySeccodeId(res.String())
	if !ok {
		return Seccode{}, ErrSeccodeNotFound
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetHeaders(c.ajaxHeaders()).
		Get(seccodeCheckPath(idhash, code))
	if err != nil {
		return Seccode{}, err
	}
	if !strings.Contains(res.String(), "succeed") {
		return Seccode{}, ErrCodeRejected
	}
	return Seccode{Code: code, IdHash: idhash}, nil
}

// VerifyCode keeps solving captchas until the forum accepts one or the
// attempt limit is hit.
func (c *Client) VerifyCode(ctx context.Context) (Seccode, error) {
	for attempt := 1; attempt <= c.limits.VerifyAttempts; attempt++ {
		code, err := c.VerifyCodeOnce(ctx)
		if err == nil {
			var seccode Seccode
			seccode, err = c.checkCode(ctx, code)
			if err == nil {
				c.tel.ReportInfo("captcha accepted", attempt, code)
				return seccode, nil
			}
		}
		if ctx.Err() != nil {
			return Seccode{}, ctx.Err()
		}
		if errors.Is(err, ErrNoClassifier) {
			return Seccode{}, err
		}
		c.tel.ReportWarning(report_client_verify_code_once, err, attempt, c.limits.VerifyAttempts)

		err = sleep(ctx, c.pacing.RetryDelay)
		if err != nil {
			return Seccode{}, err
		}
	}
	c.tel.ReportBroken(report_client_verify_code, ErrCaptchaExhausted, c.limits.VerifyAttempts)
	return Seccode{}, ErrCaptchaExhausted
}

// LoginWithCode submits the full login form with an accepted captcha. Every
// attempt reloads the login page for fresh tokens, a page without them counts
// as a failed attempt.
func (c *Client) LoginWithCode(ctx context.Context, seccode Seccode) error {
	questionId := c.credentials.QuestionID
	if questionId == "" {
		questionId = "0"
	}

	for attempt := 1; attempt <= c.limits.LoginAttempts; attempt++ {
		err := c.submitWithCode(ctx, seccode, questionId)
		if err == nil {
			c.tel.ReportInfo("logged in with captcha", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.tel.ReportWarning(report_client_login_with_code, err, attempt, c.limits.LoginAttempts)

		if attempt < c.limits.LoginAttempts {
			err = sleep(ctx, c.pacing.RetryDelay)
			if err != nil {
				return err
			}
		}
	}
	return ErrLoginRejected
}

func (c *Client) submitWithCode(ctx context.Context, seccode Seccode, questionId string) error {
	tokens, err := c.FormHash(ctx)
	if err != nil {
		return err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.loginHeaders()).
		SetFormData(map[string]string{
			"formhash":      tokens.FormHash,
			"referer":       c.origin(),
			"loginfield":    "username",
			"username":      c.credentials.Username,
			"password":      c.credentials.Password,
			"questionid":    questionId,
			"answer":        c.credentials.Answer,
			"cookietime":    cookieTime,
			"seccodehash":   seccode.IdHash,
			"seccodemodid":  seccodeModId,
			"seccodeverify": seccode.Code,
		}).
		Post(loginSubmitPath(tokens.LoginHash))
	if err != nil {
		return err
	}
	if !strings.Contains(res.String(), "succeed") {
		return errSubmissionRefused
	}
	return nil
}

// PostHash reads the action token off the forum index. An empty string means
// it could not be found.
func (c *Client) PostHash(ctx context.Context) string {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(forumPath)
	if err != nil {
		c.tel.ReportWarning(report_client_post_hash, err)
		return ""
	}
	formhash, ok := ExtractPostFormhash(res.String())
	if !ok {
		c.tel.ReportWarning(report_client_post_hash, ErrTokenNotFound)
		return ""
	}
	return formhash
}

// AccountLogin logs in, falling back to the captcha flow when the plain form
// is not accepted, and returns the action token.
func (c *Client) AccountLogin(ctx context.Context) (string, error) {
	err := c.LoginWithoutVerify(ctx)
	if err == nil {
		return c.PostHash(ctx), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, ErrCaptchaRequired) {
		c.tel.ReportInfo("captcha required")
	} else {
		c.tel.ReportWarning(report_client_login_without_verify, err)
	}

	seccode, err := c.VerifyCode(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	err = c.LoginWithCode(ctx, seccode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return c.PostHash(ctx), nil
}

// Login runs the whole login sequence and gathers what it can about the
// account afterwards.
func (c *Client) Login(ctx context.Context) (Session, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	formhash, err := c.AccountLogin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		c.tel.ReportBroken(report_client_login, err)
		return Session{}, err
	}

	session := Session{ActionToken: formhash}
	c.sessionInfo(ctx, &session)
	c.tel.ReportInfo("logged in", c.credentials.Username, session.Credit, session.Coins)
	return session, nil
}

// sessionInfo refreshes the action token from the forum index and reads the
// account's credit and coins, none of which is allowed to fail the login.
func (c *Client) sessionInfo(ctx context.Context, session *Session) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeaders(c.pageHeaders()).
		Get(forumPath)
	if err != nil {
		c.tel.ReportWarning(report_client_session_info, err)
	} else {
		page := res.String()
		formhash, ok := ExtractHomeFormhash(page)
		if ok {
			session.ActionToken = formhash
		}
		credit, ok := ExtractCredit(page)
		if ok {
			session.Credit = credit
		}
	}

	coins, err := c.Coins(ctx)
	if err != nil {
		c.tel.ReportWarning(report_client_session_info, err)
		return
	}
	session.Coins = coins
}
