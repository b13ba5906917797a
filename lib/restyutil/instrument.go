package restyutil

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentOutput receives a plain text dump of every exchange, keyed by a
// message id that sorts in request order.
type InstrumentOutput interface {
	Write(id string, contents string)
}

type instrumenter struct {
	output InstrumentOutput
	tracer trace.Tracer
	seq    *atomic.Uint64
}

// InstrumentClient wraps every request in a span.
//
// `tracer` can be nil, it will default to a library name of "resty"
// `output` can also be nil, if it is then no message dumps are written
func InstrumentClient(client *resty.Client, tracer trace.Tracer, output InstrumentOutput) {
	if tracer == nil {
		tracer = otel.Tracer("resty")
	}
	i := instrumenter{output: output, tracer: tracer, seq: &atomic.Uint64{}}
	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type messageIdKey struct{}

// MessageId is "<seq>-<method>-<last path segment>", like "0003-post-member.php".
func MessageId(seq uint64, method, rawUrl string) string {
	name := "root"
	u, err := url.Parse(rawUrl)
	if err == nil {
		segment := u.Path[strings.LastIndex(u.Path, "/")+1:]
		if segment != "" {
			name = segment
		}
	}
	return fmt.Sprintf("%04d-%s-%s", seq, strings.ToLower(method), name)
}

// spanName drops the query string, discuz routes put session tokens there.
func spanName(method, rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return "http " + method
	}
	return fmt.Sprintf("http %s %s", method, u.Path)
}

func (i instrumenter) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx, _ := i.tracer.Start(req.Context(), spanName(req.Method, req.URL))
	id := MessageId(i.seq.Add(1), req.Method, req.URL)
	req.SetContext(context.WithValue(ctx, messageIdKey{}, id))
	return nil
}

func (i instrumenter) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	// the raw request only exists once resty has built it
	if res.Request.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(res.Request.RawRequest)...)
	}
	if res.RawResponse != nil {
		span.SetAttributes(httpconv.ClientResponse(res.RawResponse)...)
	}
	if res.StatusCode() >= 500 {
		span.SetStatus(codes.Error, res.Status())
	}

	if i.output == nil {
		return nil
	}
	id, ok := ctx.Value(messageIdKey{}).(string)
	if ok {
		i.output.Write(id, formatHttpMessage(res))
	}
	return nil
}

func (i instrumenter) onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()

	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")
	if req.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(req.RawRequest)...)
	}
}
