package discuz

import (
	"context"
	"discuz-signin/internal/components/telemetry"
	"discuz-signin/internal/scrapers/discuz/discuztest"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestSignin(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)

	result := env.client.Signin(context.Background(), session.ActionToken)
	require.True(t, result.Ok())
	require.Contains(t, result.Body, "handleresult")

	queries := env.forum.SigninQueries()
	require.Len(t, queries, 1)
	require.Equal(t, "qiandao", queries[0].Get("operation"))
	require.Equal(t, "button", queries[0].Get("format"))
	require.Equal(t, discuztest.ActionToken, queries[0].Get("formhash"))
	require.Equal(t, "1", queries[0].Get("inajax"))
	require.Equal(t, "midaben_sign", queries[0].Get("ajaxtarget"))
}

func TestSigninKeepsQueryOrder(t *testing.T) {
	require.Equal(
		t,
		"/k_misign-sign.html?operation=qiandao&format=button&formhash=ab12&inajax=1&ajaxtarget=midaben_sign",
		signinPath("ab12"),
	)
}

func TestSigninSwallowsErrors(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{SigninStatus: http.StatusInternalServerError})
	result := env.client.Signin(context.Background(), "whatever")
	require.NoError(t, result.Err)
	require.False(t, result.Ok())
	require.Equal(t, http.StatusInternalServerError, result.Status)

	env.forum.Server.Close()
	result = env.client.Signin(context.Background(), "whatever")
	require.Error(t, result.Err)
	require.False(t, result.Ok())
	require.NotEmpty(t, env.tel.Find(telemetry.LevelWarning, report_client_signin))
}

func TestProfileIds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := ProfileIds(rng, 1000, 611111, 670000)
	require.Len(t, ids, 1000)
	for _, id := range ids {
		require.GreaterOrEqual(t, id, 611111)
		require.LessOrEqual(t, id, 670000)
	}

	ids = ProfileIds(rng, 5, 7, 7)
	require.Equal(t, []int{7, 7, 7, 7, 7}, ids)
}

func TestVisitHomes(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{VisitStatus: http.StatusNotFound})
	visited, err := env.client.VisitHomes(context.Background())
	require.NoError(t, err)
	require.Len(t, visited, 10)
	require.Equal(t, visited, env.forum.Visits())
	for _, uid := range visited {
		require.GreaterOrEqual(t, uid, 611111)
		require.LessOrEqual(t, uid, 670000)
	}

	counts := env.tel.Find(telemetry.LevelCount, report_client_visit_homes)
	require.Len(t, counts, 1)
	require.Equal(t, int64(10), counts[0].Count)
}

func TestVisitHomesAbortsOnTransportError(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{FailVisitAfter: 3})
	visited, err := env.client.VisitHomes(context.Background())
	require.Error(t, err)
	require.Len(t, visited, 3)
	require.Equal(t, visited, env.forum.Visits())
	require.Empty(t, env.tel.Find(telemetry.LevelCount, report_client_visit_homes))
}

func TestVisitHomesWaitsBeforeEachVisit(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{}, func(opts *Options) {
		opts.Pacing.VisitDelay = time.Hour
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	visited, err := env.client.VisitHomes(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, visited)
	require.Zero(t, env.forum.Hits("visit"))
}

func TestResolveHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pub":
			w.Write([]byte(`<ul><li><a href="https://forum.example.net/" target="_blank">论坛入口</a></li></ul>`))
		default:
			w.Write([]byte(`<p>nothing here</p>`))
		}
	}))
	defer server.Close()

	client := resty.New()
	tel := &telemetry.Recorder{}

	require.Equal(t, "forum.example.net", ResolveHost(context.Background(), client, server.URL+"/pub", "fallback.net", tel))
	require.Equal(t, "fallback.net", ResolveHost(context.Background(), client, server.URL+"/empty", "fallback.net", tel))
	require.Equal(t, "fallback.net", ResolveHost(context.Background(), client, "", "fallback.net", tel))
	require.Len(t, tel.Find(telemetry.LevelWarning, report_resolve_host), 1)
}
