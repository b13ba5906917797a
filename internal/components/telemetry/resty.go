package telemetry

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_http_request  = "http.request"
	report_http_response = "http.response"
	report_http_failed   = "http.failed"
)

// redactedParams are query and form keys whose values are session bound.
var redactedParams = []string{"formhash", "loginhash", "idhash", "seccodehash", "auth"}

// RedactUrl blanks the values of session bound query parameters so urls can
// be logged.
func RedactUrl(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	query := u.Query()
	changed := false
	for _, key := range redactedParams {
		if query.Has(key) {
			query.Set(key, "redacted")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}

type exchangeKey struct{}

type exchange struct {
	seq   uint64
	start time.Time
}

type restyReporter struct {
	tel API
	seq atomic.Uint64
}

// InstrumentResty reports every exchange the client makes at debug level.
// Server errors and transport failures are reported as warnings.
func InstrumentResty(client *resty.Client, tel API) {
	r := &restyReporter{tel: tel}
	client.OnBeforeRequest(r.before)
	client.OnAfterResponse(r.after)
	client.OnError(r.failed)
}

func (r *restyReporter) before(_ *resty.Client, req *resty.Request) error {
	ex := exchange{seq: r.seq.Add(1), start: time.Now()}
	r.tel.ReportDebug(report_http_request, ex.seq, req.Method, RedactUrl(req.URL))
	req.SetContext(context.WithValue(req.Context(), exchangeKey{}, ex))
	return nil
}

func (r *restyReporter) after(_ *resty.Client, res *resty.Response) error {
	ex, ok := res.Request.Context().Value(exchangeKey{}).(exchange)
	if !ok {
		return nil
	}
	took := time.Since(ex.start).Round(time.Millisecond).String()
	if res.StatusCode() >= 500 {
		r.tel.ReportWarning(report_http_response, ex.seq, RedactUrl(res.Request.URL), res.Status(), took)
		return nil
	}
	r.tel.ReportDebug(report_http_response, ex.seq, res.Status(), took)
	return nil
}

func (r *restyReporter) failed(req *resty.Request, err error) {
	var took time.Duration
	ex, ok := req.Context().Value(exchangeKey{}).(exchange)
	if ok {
		took = time.Since(ex.start).Round(time.Millisecond)
	}
	r.tel.ReportWarning(report_http_failed, err, req.Method, RedactUrl(req.URL), took.String())
}
