package discuz

import (
	"context"
	"discuz-signin/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const report_resolve_host = "resolve-host"

// ResolveHost reads the current forum host off the announcement page at
// pubUrl. Any failure, or an empty pubUrl, yields fallback.
func ResolveHost(ctx context.Context, client *resty.Client, pubUrl, fallback string, tel telemetry.API) string {
	if pubUrl == "" {
		return fallback
	}

	res, err := client.R().
		SetContext(ctx).
		SetHeader("user-agent", userAgent).
		Get(pubUrl)
	if err != nil {
		tel.ReportWarning(report_resolve_host, err, pubUrl)
		return fallback
	}
	host, ok := ExtractHost(res.String())
	if !ok {
		tel.ReportWarning(report_resolve_host, "no forum link on announcement page", pubUrl)
		return fallback
	}
	tel.ReportInfo("resolved forum host", host)
	return host
}
