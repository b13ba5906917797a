package commands

import (
	"bytes"
	"context"
	"discuz-signin/internal/checkin"
	"discuz-signin/internal/scrapers/discuz/discuztest"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testRun struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, vars map[string]string, args ...string) testRun {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, Environment{
		Getenv: func(name string) string { return vars[name] },
		Stdout: &stdout,
		Stderr: &stderr,
	})
	return testRun{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeConfig points the tool at a local fake forum with every sleep disabled.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json5")
	contents := fmt.Sprintf(`{
	// local fake forum
	"forum": {
		"scheme": "http",
		"disable_challenge_bypass": true,
	},
	"pacing": {
		"token_jitter_min": "0s",
		"token_jitter_max": "0s",
		"retry_delay": "0s",
		"challenge_poll": "0s",
		"visit_delay": "0s",
	},
	"history": {
		"file": %q,
	},
}`, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func forumEnv(forum *discuztest.Forum) map[string]string {
	return map[string]string{
		"HOSTNAME": forum.Host(),
		"USERNAME": discuztest.Username,
		"PASSWORD": discuztest.Password,
	}
}

func TestRunMissingPassword(t *testing.T) {
	forum := discuztest.NewForum(t, discuztest.Behavior{})
	vars := forumEnv(forum)
	delete(vars, "PASSWORD")

	result := run(t, vars, "--config", writeConfig(t, t.TempDir()))
	require.Equal(t, 1, result.code)
	require.Contains(t, result.stderr, "PASSWORD")
	require.NotContains(t, result.stderr, "HOSTNAME")
	require.Zero(t, forum.TotalHits())
}

func TestRunMissingEverything(t *testing.T) {
	result := run(t, map[string]string{}, "run", "--config", filepath.Join(t.TempDir(), "none.json5"))
	require.Equal(t, 1, result.code)
	require.Contains(t, result.stderr, "HOSTNAME, USERNAME, PASSWORD")
}

func TestRunSucceeds(t *testing.T) {
	forum := discuztest.NewForum(t, discuztest.Behavior{})
	dir := t.TempDir()
	config := writeConfig(t, dir)

	result := run(t, forumEnv(forum), "--config", config)
	require.Equal(t, 0, result.code, result.stderr)
	require.Contains(t, result.stderr, discuztest.ActionToken)
	require.Equal(t, 10, forum.Hits("visit"))
	require.Len(t, forum.SigninQueries(), 1)
	require.NotContains(t, result.stderr, discuztest.Password)

	result = run(t, map[string]string{}, "history", "--config", config)
	require.Equal(t, 0, result.code, result.stderr)
	require.Contains(t, result.stdout, forum.Host())
	require.Contains(t, result.stdout, "200 yes")
}

func TestRunFailsWhenLoginFails(t *testing.T) {
	forum := discuztest.NewForum(t, discuztest.Behavior{CaptchaRequired: true})

	result := run(t, forumEnv(forum), "run", "--config", writeConfig(t, t.TempDir()))
	require.Equal(t, 1, result.code)
	require.Contains(t, result.stderr, "login failed")
	require.Zero(t, forum.Hits("signin"))
	require.Zero(t, forum.Hits("visit"))
}

func TestHistoryRequiresDatabase(t *testing.T) {
	result := run(t, map[string]string{}, "history", "--config", filepath.Join(t.TempDir(), "none.json5"))
	require.Equal(t, 1, result.code)
	require.Contains(t, result.stderr, "no history database configured")
}

func TestHostCommand(t *testing.T) {
	pub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="https://forum.example.net/" target="_blank">论坛入口</a>`))
	}))
	defer pub.Close()

	result := run(t, map[string]string{"PUB_URL": pub.URL}, "host", "--config", filepath.Join(t.TempDir(), "none.json5"))
	require.Equal(t, 0, result.code, result.stderr)
	require.Equal(t, "forum.example.net\n", result.stdout)

	result = run(t, map[string]string{}, "host", "--config", filepath.Join(t.TempDir(), "none.json5"))
	require.Equal(t, 1, result.code)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.json5"), func(string) string { return "" })
	require.NoError(t, err)
	require.Equal(t, "https", cfg.Forum.Scheme)
	require.Equal(t, "0", cfg.Forum.QuestionId)
	require.Equal(t, "0 8 * * *", cfg.Schedule.Cron)
	require.Equal(t, "Asia/Shanghai", cfg.Schedule.Timezone)
	require.True(t, cfg.History.Empty())

	pacing, err := cfg.Pacing.parse()
	require.NoError(t, err)
	require.Equal(t, time.Second, pacing.TokenJitterMin)
	require.Equal(t, 2*time.Second, pacing.TokenJitterMax)
	require.Equal(t, 3*time.Second, pacing.ChallengePoll)
	require.Equal(t, 5*time.Second, pacing.VisitDelay)

	limits := cfg.Limits.limits()
	require.Equal(t, 10, limits.VerifyAttempts)
	require.Equal(t, 611111, limits.VisitMinUid)
	require.Equal(t, 670000, limits.VisitMaxUid)
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"forum": {"hostname": "file.example.net", "username": "bob"},
		"pacing": {"visit_delay": "0s"},
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		"forum": {"username": "carol"},
	}`), 0600))

	env := map[string]string{
		"HOSTNAME":   "env.example.net",
		"QUESTIONID": "3",
	}
	cfg, err := LoadConfig(path, func(name string) string { return env[name] })
	require.NoError(t, err)
	require.Equal(t, "env.example.net", cfg.Forum.Hostname)
	require.Equal(t, "carol", cfg.Forum.Username)
	require.Equal(t, "3", cfg.Forum.QuestionId)
	require.ErrorIs(t, cfg.RequireCredentials(), ErrMissingEnv)

	pacing, err := cfg.Pacing.parse()
	require.NoError(t, err)
	require.Zero(t, pacing.VisitDelay)
	require.Equal(t, time.Second, pacing.RetryDelay)
}

func TestPacingRejectsBadDurations(t *testing.T) {
	_, err := PacingConfig{RetryDelay: "soon"}.parse()
	require.ErrorContains(t, err, "pacing.retry_delay")

	_, err = PacingConfig{VisitDelay: "-1s"}.parse()
	require.Error(t, err)
}

func TestRenderHistory(t *testing.T) {
	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderHistory(&out, []checkin.Report{
		{
			RunId:        "abc",
			Host:         "forum.example.net",
			Username:     "alice",
			LoggedIn:     true,
			SigninStatus: 200,
			SigninOk:     true,
			Visits:       10,
			Coins:        "42",
			StartedAt:    started,
			FinishedAt:   started.Add(65 * time.Second),
		},
		{
			RunId:      "def",
			Error:      "login failed",
			StartedAt:  started,
			FinishedAt: started,
		},
	}, time.FixedZone("CST", 8*60*60))

	lines := strings.Split(out.String(), "\n")
	require.Contains(t, out.String(), "2024-03-01 08:00:00")
	require.Contains(t, out.String(), "1m5s")
	require.Contains(t, out.String(), "200 yes")
	require.Contains(t, out.String(), "login failed")
	require.True(t, strings.HasPrefix(lines[0], "╭"))
}
