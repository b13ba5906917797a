package discuz

import (
	"context"
	"discuz-signin/internal/components/chrono"
	"discuz-signin/internal/components/telemetry"
	"discuz-signin/internal/ocr"
	"discuz-signin/internal/scrapers/discuz/discuztest"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	forum      *discuztest.Forum
	client     *Client
	tel        *telemetry.Recorder
	classified *atomic.Int32
	lastImage  *atomic.Value
}

func newTestEnv(t *testing.T, behavior discuztest.Behavior, modify ...func(opts *Options)) testEnv {
	t.Helper()

	forum := discuztest.NewForum(t, behavior)
	tel := &telemetry.Recorder{}
	classified := &atomic.Int32{}
	lastImage := &atomic.Value{}
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	opts := Options{
		Hostname: forum.Host(),
		Scheme:   "http",
		Credentials: Credentials{
			Username:   discuztest.Username,
			Password:   discuztest.Password,
			QuestionID: "0",
		},
		Classifier: ocr.ClassifierFunc(func(ctx context.Context, image []byte) (string, error) {
			classified.Add(1)
			lastImage.Store(image)
			return discuztest.Code, nil
		}),
		DisableChallengeBypass: true,
		Clock:                  chrono.FixedImpl{Time: now},
		Rand:                   rand.New(rand.NewSource(1)),
	}
	for _, fn := range modify {
		fn(&opts)
	}

	client, err := NewClient(opts, tel)
	require.NoError(t, err)

	return testEnv{
		forum:      forum,
		client:     client,
		tel:        tel,
		classified: classified,
		lastImage:  lastImage,
	}
}

func TestWaitForChallenge(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{ChallengePolls: 2})
	require.True(t, env.client.WaitForChallenge(context.Background()))
	require.Equal(t, 3, env.forum.Hits("home"))

	env = newTestEnv(t, discuztest.Behavior{ChallengePolls: 100})
	require.False(t, env.client.WaitForChallenge(context.Background()))
	require.Equal(t, 5, env.forum.Hits("home"))
	require.NotEmpty(t, env.tel.Find(telemetry.LevelWarning, report_client_wait_for_challenge))
}

func TestFormHash(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{})
	tokens, err := env.client.FormHash(context.Background())
	require.NoError(t, err)
	require.Equal(t, LoginTokens{
		LoginHash: discuztest.LoginHash,
		FormHash:  discuztest.FormHash,
	}, tokens)

	env = newTestEnv(t, discuztest.Behavior{NoFormhash: true})
	tokens, err = env.client.FormHash(context.Background())
	require.ErrorIs(t, err, ErrTokenNotFound)
	require.Equal(t, LoginTokens{}, tokens)
}

func TestLoginWithoutVerify(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{})
	require.NoError(t, env.client.LoginWithoutVerify(context.Background()))

	forms := env.forum.LoginForms()
	require.Len(t, forms, 1)
	require.Equal(t, discuztest.FormHash, forms[0].Get("formhash"))
	require.Equal(t, "ls", forms[0].Get("handlekey"))
	require.Equal(t, env.client.origin(), forms[0].Get("referer"))
	require.False(t, forms[0].Has("seccodeverify"))

	env = newTestEnv(t, discuztest.Behavior{CaptchaRequired: true})
	require.ErrorIs(t, env.client.LoginWithoutVerify(context.Background()), ErrCaptchaRequired)

	env = newTestEnv(t, discuztest.Behavior{UnexpectedLogin: true})
	require.ErrorIs(t, env.client.LoginWithoutVerify(context.Background()), ErrUnexpectedAnswer)
}

func TestVerifyCodeOnce(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CaptchaRequired: true})
	code, err := env.client.VerifyCodeOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, discuztest.Code, code)
	require.Equal(t, 1, env.forum.Hits("seccode-update"))
	require.Equal(t, 1, env.forum.Hits("seccode-image"))
	require.Equal(t, discuztest.Png, env.lastImage.Load())
}

func TestVerifyCodeOnceRejectsBadImages(t *testing.T) {
	testCases := []struct {
		name     string
		behavior discuztest.Behavior
		err      error
	}{
		{
			name:     "no captcha id",
			behavior: discuztest.Behavior{NoSeccode: true},
			err:      ErrSeccodeNotFound,
		},
		{
			name:     "not an image",
			behavior: discuztest.Behavior{ImageContentType: "text/html"},
			err:      ErrNotImage,
		},
		{
			name:     "bad status",
			behavior: discuztest.Behavior{ImageStatus: 502},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t, test.behavior)
			_, err := env.client.VerifyCodeOnce(context.Background())
			require.Error(t, err)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
			}
			require.Zero(t, env.classified.Load())
		})
	}
}

func TestVerifyCodeOnceEmptyClassification(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{}, func(opts *Options) {
		opts.Classifier = ocr.ClassifierFunc(func(context.Context, []byte) (string, error) {
			return "", nil
		})
	})
	_, err := env.client.VerifyCodeOnce(context.Background())
	require.ErrorIs(t, err, ocr.ErrEmptyResult)
}

func TestVerifyCode(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CodeRejections: 2})
	seccode, err := env.client.VerifyCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, Seccode{Code: discuztest.Code, IdHash: discuztest.SeccodeId}, seccode)
	require.Equal(t, 3, env.forum.Hits("seccode-check"))
	require.Equal(t, int32(3), env.classified.Load())
}

func TestVerifyCodeUsesIdOfCheckedPage(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{RotateSeccode: true})
	seccode, err := env.client.VerifyCode(context.Background())
	require.NoError(t, err)

	imageIds := env.forum.ImageIds()
	checkIds := env.forum.CheckIds()
	require.Len(t, imageIds, 1)
	require.Len(t, checkIds, 1)
	require.Equal(t, discuztest.SeccodeId+"1", imageIds[0])
	require.Equal(t, discuztest.SeccodeId+"2", checkIds[0])
	require.Equal(t, Seccode{Code: discuztest.Code, IdHash: checkIds[0]}, seccode)
}

func TestVerifyCodeExhausted(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CodeRejections: 100})
	_, err := env.client.VerifyCode(context.Background())
	require.ErrorIs(t, err, ErrCaptchaExhausted)
	require.Equal(t, 10, env.forum.Hits("seccode-check"))
	require.Len(t, env.tel.Find(telemetry.LevelWarning, report_client_verify_code_once), 10)
	require.Len(t, env.tel.Find(telemetry.LevelBroken, report_client_verify_code), 1)
}

func TestVerifyCodeEmptyClassificationsExhaust(t *testing.T) {
	calls := 0
	env := newTestEnv(t, discuztest.Behavior{}, func(opts *Options) {
		opts.Classifier = ocr.ClassifierFunc(func(context.Context, []byte) (string, error) {
			calls++
			return "", nil
		})
	})
	seccode, err := env.client.VerifyCode(context.Background())
	require.ErrorIs(t, err, ErrCaptchaExhausted)
	require.Equal(t, Seccode{}, seccode)
	require.Equal(t, 10, calls)
	require.Zero(t, env.forum.Hits("seccode-check"))
}

func TestVerifyCodeRetriesClassifierErrors(t *testing.T) {
	calls := 0
	env := newTestEnv(t, discuztest.Behavior{}, func(opts *Options) {
		opts.Limits.VerifyAttempts = 4
		opts.Classifier = ocr.ClassifierFunc(func(context.Context, []byte) (string, error) {
			calls++
			return "", errors.New("model unavailable")
		})
	})
	_, err := env.client.VerifyCode(context.Background())
	require.ErrorIs(t, err, ErrCaptchaExhausted)
	require.Equal(t, 4, calls)
	require.Zero(t, env.forum.Hits("seccode-check"))
}

func TestVerifyCodeWithoutClassifier(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{}, func(opts *Options) {
		opts.Classifier = nil
	})
	_, err := env.client.VerifyCode(context.Background())
	require.ErrorIs(t, err, ErrNoClassifier)
	require.Zero(t, env.forum.TotalHits())
}

func TestLoginWithCode(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{LoginRejections: 2})
	err := env.client.LoginWithCode(context.Background(), Seccode{
		Code:   discuztest.Code,
		IdHash: discuztest.SeccodeId,
	})
	require.NoError(t, err)
	require.Equal(t, 3, env.forum.Hits("login-submit"))

	form := env.forum.LoginForms()[0]
	require.Equal(t, "username", form.Get("loginfield"))
	require.Equal(t, "0", form.Get("questionid"))
	require.Equal(t, "2592000", form.Get("cookietime"))
	require.Equal(t, discuztest.SeccodeId, form.Get("seccodehash"))
	require.Equal(t, "member::logging", form.Get("seccodemodid"))
	require.Equal(t, discuztest.Code, form.Get("seccodeverify"))
}

func TestLoginWithCodeRejected(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{LoginRejections: 3})
	err := env.client.LoginWithCode(context.Background(), Seccode{
		Code:   discuztest.Code,
		IdHash: discuztest.SeccodeId,
	})
	require.ErrorIs(t, err, ErrLoginRejected)
	require.Equal(t, 3, env.forum.Hits("login-submit"))
}

func TestLoginWithCodeRetriesMissingToken(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CaptchaRequired: true, DropFormhashAfterCheck: 1})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, discuztest.ActionToken, session.ActionToken)

	// the plain form and one captcha form, the dropped token cost no submission
	require.Equal(t, 2, env.forum.Hits("login-submit"))
	warnings := env.tel.Find(telemetry.LevelWarning, report_client_login_with_code)
	require.Len(t, warnings, 1)
	require.ErrorIs(t, warnings[0].Params[0].(error), ErrTokenNotFound)
}

func TestLoginWithCodeMissingTokenExhausts(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{NoFormhash: true})
	err := env.client.LoginWithCode(context.Background(), Seccode{
		Code:   discuztest.Code,
		IdHash: discuztest.SeccodeId,
	})
	require.ErrorIs(t, err, ErrLoginRejected)
	require.Equal(t, 3, env.forum.Hits("login-page"))
	require.Zero(t, env.forum.Hits("login-submit"))
}

func TestLoginWithoutCaptcha(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session{
		ActionToken: discuztest.ActionToken,
		Credit:      discuztest.Credit,
		Coins:       discuztest.Coins,
	}, session)
	require.Zero(t, env.classified.Load())
	require.Zero(t, env.forum.Hits("seccode-image"))
}

func TestLoginWithCaptcha(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CaptchaRequired: true, CodeRejections: 1})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, discuztest.ActionToken, session.ActionToken)
	require.Equal(t, int32(2), env.classified.Load())
	require.Equal(t, 2, env.forum.Hits("login-submit"))
}

func TestLoginFallsBackToCaptchaOnUnexpectedAnswer(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{UnexpectedLogin: true})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, discuztest.ActionToken, session.ActionToken)
	require.Equal(t, int32(1), env.classified.Load())
}

func TestLoginFailsWhenCaptchaExhausted(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CaptchaRequired: true, CodeRejections: 100}, func(opts *Options) {
		opts.Limits.VerifyAttempts = 3
	})
	_, err := env.client.Login(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)
	require.ErrorIs(t, err, ErrCaptchaExhausted)
	require.Equal(t, 1, env.forum.Hits("login-submit"))
	require.Len(t, env.tel.Find(telemetry.LevelBroken, report_client_login), 1)
}

func TestLoginInfoIsBestEffort(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{NoInfo: true})
	session, err := env.client.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session{ActionToken: discuztest.ActionToken}, session)
	require.NotEmpty(t, env.tel.Find(telemetry.LevelWarning, report_client_session_info))
}

func TestLoginCancelled(t *testing.T) {
	env := newTestEnv(t, discuztest.Behavior{CaptchaRequired: true, CodeRejections: 100}, func(opts *Options) {
		opts.Pacing.RetryDelay = time.Hour
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := env.client.Login(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestNewClientRejectsInvalidJitter(t *testing.T) {
	_, err := NewClient(Options{
		Hostname: "forum.example.net",
		Pacing: Pacing{
			TokenJitterMin: 2 * time.Second,
			TokenJitterMax: time.Second,
		},
	}, &telemetry.Recorder{})
	require.Error(t, err)
}

func TestNewClientRejectsInvertedUidRange(t *testing.T) {
	_, err := NewClient(Options{
		Hostname: "forum.example.net",
		Limits: Limits{
			VisitMinUid: 700000,
			VisitMaxUid: 600000,
		},
	}, &telemetry.Recorder{})
	require.ErrorContains(t, err, "invalid visit uid range")

	client, err := NewClient(Options{
		Hostname: "forum.example.net",
		Limits: Limits{
			VisitMinUid: 600000,
			VisitMaxUid: 600000,
		},
	}, &telemetry.Recorder{})
	require.NoError(t, err)
	require.Equal(t, []int{600000, 600000}, ProfileIds(client.rand, 2, client.limits.VisitMinUid, client.limits.VisitMaxUid))
}
