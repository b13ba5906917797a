// client.go contains the session setup shared by the login sequence and the
// authenticated actions.

package discuz

import (
	"context"
	"discuz-signin/internal/components/assert"
	"discuz-signin/internal/components/chrono"
	"discuz-signin/internal/components/telemetry"
	"discuz-signin/internal/ocr"
	"discuz-signin/lib/restyutil"
	"fmt"
	"math/rand"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/discuz")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

type Credentials struct {
	Username string
	Password string
	// QuestionID is the security question id, "0" means none.
	QuestionID string
	Answer     string
}

// Pacing holds the sleeps that make the session look like a person browsing.
// A zero value disables every sleep.
type Pacing struct {
	// a uniformly random delay in [TokenJitterMin, TokenJitterMax] is slept
	// around login page and captcha fetches
	TokenJitterMin time.Duration
	TokenJitterMax time.Duration
	RetryDelay     time.Duration
	ChallengePoll  time.Duration
	VisitDelay     time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{
		TokenJitterMin: time.Second,
		TokenJitterMax: 2 * time.Second,
		RetryDelay:     time.Second,
		ChallengePoll:  3 * time.Second,
		VisitDelay:     5 * time.Second,
	}
}

// Limits bounds every retry loop, fields <= 0 fall back to DefaultLimits.
type Limits struct {
	ChallengePolls int
	VerifyAttempts int
	LoginAttempts  int
	Visits         int
	VisitMinUid    int
	VisitMaxUid    int
}

func DefaultLimits() Limits {
	return Limits{
		ChallengePolls: 5,
		VerifyAttempts: 10,
		LoginAttempts:  3,
		Visits:         10,
		VisitMinUid:    611111,
		VisitMaxUid:    670000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ChallengePolls <= 0 {
		l.ChallengePolls = d.ChallengePolls
	}
	if l.VerifyAttempts <= 0 {
		l.VerifyAttempts = d.VerifyAttempts
	}
	if l.LoginAttempts <= 0 {
		l.LoginAttempts = d.LoginAttempts
	}
	if l.Visits <= 0 {
		l.Visits = d.Visits
	}
	if l.VisitMinUid <= 0 || l.VisitMaxUid <= 0 {
		l.VisitMinUid = d.VisitMinUid
		l.VisitMaxUid = d.VisitMaxUid
	}
	return l
}

type Options struct {
	Hostname string
	// Scheme defaults to https.
	Scheme      string
	Credentials Credentials
	Classifier  ocr.Classifier
	Pacing      Pacing
	Limits      Limits
	// RateLimit is the maximum requests per second, 0 leaves requests unthrottled.
	RateLimit float64
	Timeout   time.Duration
	// DisableChallengeBypass sends requests over the plain transport.
	DisableChallengeBypass bool
	// Dump receives every http exchange when set.
	Dump  restyutil.InstrumentOutput
	Clock chrono.API
	Rand  *rand.Rand
}

// Client is a logged in (or logging in) session against a single forum host.
// It is not safe for concurrent use.
type Client struct {
	Hostname string
	BaseUrl  *url.URL
	Http     *resty.Client

	credentials Credentials
	classifier  ocr.Classifier
	pacing      Pacing
	limits      Limits
	clock       chrono.API
	rand        *rand.Rand
	tel         telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(opts.Hostname, "hostname")

	scoped := telemetry.NewScopedAPI("discuz", tel)
	tel = scoped

	if opts.Pacing.TokenJitterMin > opts.Pacing.TokenJitterMax {
		return nil, fmt.Errorf("invalid token jitter range [%s, %s]", opts.Pacing.TokenJitterMin, opts.Pacing.TokenJitterMax)
	}
	limits := opts.Limits.withDefaults()
	if limits.VisitMinUid > limits.VisitMaxUid {
		return nil, fmt.Errorf("invalid visit uid range [%d, %d]", limits.VisitMinUid, limits.VisitMaxUid)
	}

	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	baseUrl, err := url.Parse(fmt.Sprintf("%s://%s", scheme, opts.Hostname))
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if !opts.DisableChallengeBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient.SetTimeout(timeout)

	if opts.RateLimit > 0 {
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, scoped.Scope("http"))
	restyutil.InstrumentClient(httpClient, tracer, opts.Dump)

	clock := opts.Clock
	if clock == nil {
		clock, err = chrono.NewStandardImpl("")
		if err != nil {
			return nil, err
		}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Client{
		Hostname:    opts.Hostname,
		BaseUrl:     baseUrl,
		Http:        httpClient,
		credentials: opts.Credentials,
		classifier:  opts.Classifier,
		pacing:      opts.Pacing,
		limits:      limits,
		clock:       clock,
		rand:        rng,
		tel:         tel,
	}, nil
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) jitter(ctx context.Context) error {
	lo, hi := c.pacing.TokenJitterMin, c.pacing.TokenJitterMax
	if hi <= 0 {
		return ctx.Err()
	}
	d := lo
	if hi > lo {
		d += time.Duration(c.rand.Int63n(int64(hi - lo)))
	}
	return sleep(ctx, d)
}

func (c *Client) origin() string {
	return c.BaseUrl.String() + "/"
}
