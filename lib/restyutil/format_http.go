package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

const masked = "<masked>"

// headers that carry session secrets are masked in dumps
var maskedHeaders = map[string]bool{
	"Cookie":     true,
	"Set-Cookie": true,
}

// form fields that carry credentials are masked in dumps
var maskedFormFields = map[string]bool{
	"password": true,
	"answer":   true,
}

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			if maskedHeaders[http.CanonicalHeaderKey(k)] {
				v = masked
			}
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// maskForm rewrites an urlencoded body with credential fields masked, any
// other body is returned as is.
func maskForm(contentType, body string) string {
	if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		return body
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return "<unparseable form body>"
	}
	for key := range values {
		if maskedFormFields[strings.ToLower(key)] {
			values.Set(key, masked)
		}
	}
	return values.Encode()
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return "<no body>"
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return maskForm(req.Header.Get("Content-Type"), string(readBody))
}

func formatResponseBody(res *resty.Response) string {
	contentType := res.Header().Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "application/octet-stream") {
		return fmt.Sprintf("<%d bytes of %s>", len(res.Body()), contentType)
	}
	return res.String()
}

// formatHttpMessage renders a request and its response as plain text, in
// roughly the shape they had on the wire.
func formatHttpMessage(res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", res.Request.Method, res.Request.URL)
	if res.Request.RawRequest != nil {
		out.WriteString(formatHeaders(res.Request.RawRequest.Header))
		out.WriteString("\n\n")
	}
	out.WriteString(formatRequestBody(res.Request.RawRequest))

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = redirected.String()
		}
	}
	out.WriteString("\n\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%d %s\n\n", res.StatusCode(), responseUrl)
	out.WriteString(formatHeaders(res.Header()))
	out.WriteString("\n\n")
	out.WriteString(formatResponseBody(res))
	return out.String()
}
