// Package discuztest serves a minimal forum that speaks just enough of the
// login, captcha and check-in endpoints to drive a discuz.Client end to end.
package discuztest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	LoginHash   = "LhX9k"
	FormHash    = "f0rmh4sh"
	SeccodeId   = "cSA7qZ"
	ActionToken = "a7c10n"
	Credit      = "积分: 120"
	Coins       = "42"
	Username    = "alice"
	Password    = "hunter2"
	Code        = "K7P2"
)

// Png is the body served for captcha images.
var Png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")

// Behavior tunes how the forum answers, its zero value is a forum that lets
// Username/Password log in without a captcha.
type Behavior struct {
	// ChallengePolls is how many home page loads still show the challenge page.
	ChallengePolls int
	// CaptchaRequired makes the plain login form ask for a captcha.
	CaptchaRequired bool
	// UnexpectedLogin makes the plain login form answer with something unrecognized.
	UnexpectedLogin bool
	NoFormhash      bool
	NoSeccode       bool
	// DropFormhashAfterCheck is how many login page loads following an
	// accepted captcha check leave out the formhash.
	DropFormhashAfterCheck int
	// RotateSeccode issues a new captcha id on every login page load.
	RotateSeccode bool
	// CodeRejections is how many correct captcha checks are refused first.
	CodeRejections int
	// LoginRejections is how many captcha login submissions are refused first.
	LoginRejections int
	// ImageStatus and ImageContentType default to 200 and image/png.
	ImageStatus      int
	ImageContentType string
	VisitStatus      int
	SigninStatus     int
	SigninBody       string
	// FailVisitAfter drops the connection on every visit after the first n, 0 never does.
	FailVisitAfter int
	// NoInfo serves pages without credit and coin info.
	NoInfo bool
}

type Forum struct {
	Server *httptest.Server

	behavior Behavior

	mutex         sync.Mutex
	hits          map[string]int
	checks        int
	codeLogins    int
	checkPassed   bool
	dropped       int
	seccodeId     string
	verifiedId    string
	imageIds      []string
	checkIds      []string
	visits        []int
	signinQueries []url.Values
	loginForms    []url.Values
}

func NewForum(t testing.TB, behavior Behavior) *Forum {
	f := &Forum{behavior: behavior, hits: map[string]int{}, seccodeId: SeccodeId}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// Host is the forum's host:port, suitable for a client's hostname.
func (f *Forum) Host() string {
	u, _ := url.Parse(f.Server.URL)
	return u.Host
}

// Hits is how many requests reached a route.
func (f *Forum) Hits(route string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.hits[route]
}

func (f *Forum) TotalHits() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	total := 0
	for _, n := range f.hits {
		total += n
	}
	return total
}

// Visits are the profile ids that were successfully visited, in order.
func (f *Forum) Visits() []int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]int(nil), f.visits...)
}

func (f *Forum) SigninQueries() []url.Values {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]url.Values(nil), f.signinQueries...)
}

func (f *Forum) LoginForms() []url.Values {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]url.Values(nil), f.loginForms...)
}

// ImageIds are the captcha ids images were requested for, in order.
func (f *Forum) ImageIds() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.imageIds...)
}

// CheckIds are the captcha ids answers were checked against, in order.
func (f *Forum) CheckIds() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.checkIds...)
}

func (f *Forum) hit(route string) {
	f.hits[route]++
}

func (f *Forum) serve(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	query := r.URL.Query()
	switch {
	case r.URL.Path == "/":
		f.hit("home")
		if f.hits["home"] <= f.behavior.ChallengePolls {
			writeHtml(w, http.StatusServiceUnavailable, challengePage)
			return
		}
		writeHtml(w, http.StatusOK, f.forumPage())
	case r.URL.Path == "/member.php" && query.Get("loginsubmit") == "yes":
		f.hit("login-submit")
		f.loginSubmit(w, r)
	case r.URL.Path == "/member.php":
		f.hit("login-page")
		writeHtml(w, http.StatusOK, f.loginPage())
	case r.URL.Path == "/misc.php" && query.Get("action") == "update":
		f.hit("seccode-update")
		writeHtml(w, http.StatusOK, "updateseccode")
	case r.URL.Path == "/misc.php" && query.Get("action") == "check":
		f.hit("seccode-check")
		f.seccodeCheck(w, query)
	case r.URL.Path == "/misc.php":
		f.hit("seccode-image")
		f.seccodeImage(w, query)
	case r.URL.Path == "/forum.php":
		f.hit("forum")
		writeHtml(w, http.StatusOK, f.forumPage())
	case r.URL.Path == "/home.php":
		f.hit("credit")
		if f.behavior.NoInfo {
			writeHtml(w, http.StatusOK, ajax(""))
			return
		}
		writeHtml(w, http.StatusOK, ajax(fmt.Sprintf(`<span id="hcredit_2">%s</span>`, Coins)))
	case r.URL.Path == "/k_misign-sign.html":
		f.hit("signin")
		f.signin(w, r)
	case strings.HasPrefix(r.URL.Path, "/space-uid-"):
		f.hit("visit")
		f.visit(w, r)
	default:
		f.hit("unknown")
		http.NotFound(w, r)
	}
}

func (f *Forum) loginPage() string {
	if f.behavior.RotateSeccode {
		f.seccodeId = SeccodeId + strconv.Itoa(f.hits["login-page"])
	}
	withFormhash := !f.behavior.NoFormhash
	if withFormhash && f.checkPassed && f.dropped < f.behavior.DropFormhashAfterCheck {
		f.dropped++
		withFormhash = false
	}

	var b strings.Builder
	b.WriteString(`<html><body>`)
	fmt.Fprintf(&b, `<div id="main_messaqge_%s">`, LoginHash)
	b.WriteString(`<form method="post" name="login">`)
	if withFormhash {
		fmt.Fprintf(&b, `<input type="hidden" name="formhash" value="%s" />`, FormHash)
	}
	if !f.behavior.NoSeccode {
		fmt.Fprintf(&b, `<span id="seccode_%s"></span><script type="text/javascript" reload="1">updateseccode('%s', '<sec> <sec>', 'member::logging');</script>`, f.seccodeId, f.seccodeId)
	}
	b.WriteString(`</form></div></body></html>`)
	return b.String()
}

func (f *Forum) forumPage() string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="um">`)
	if !f.behavior.NoInfo {
		fmt.Fprintf(&b, `<a id="extcreditmenu" href="home.php?mod=spacecp&amp;ac=credit&amp;showcredit=1" class="showmenu">%s</a>`, Credit)
	}
	fmt.Fprintf(&b, `<form><input type="hidden" name="formhash" value="%s" /></form>`, ActionToken)
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func (f *Forum) loginSubmit(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		writeHtml(w, http.StatusBadRequest, err.Error())
		return
	}
	form := r.PostForm
	f.loginForms = append(f.loginForms, form)

	validCredentials := form.Get("username") == Username &&
		form.Get("password") == Password &&
		form.Get("formhash") == FormHash

	if form.Has("seccodeverify") {
		f.codeLogins++
		accepted := validCredentials &&
			form.Get("seccodeverify") == Code &&
			f.seccodeAccepted(form.Get("seccodehash")) &&
			f.codeLogins > f.behavior.LoginRejections
		if !accepted {
			writeHtml(w, http.StatusOK, ajax("errorhandle_ login_invalid"))
			return
		}
		f.loggedIn(w)
		return
	}

	switch {
	case f.behavior.UnexpectedLogin:
		writeHtml(w, http.StatusOK, ajax("something went sideways"))
	case f.behavior.CaptchaRequired:
		writeHtml(w, http.StatusOK, ajax(`<input name="seccodeverify" type="text" />`))
	case !validCredentials:
		writeHtml(w, http.StatusOK, ajax("errorhandle_ls login_invalid"))
	default:
		f.loggedIn(w)
	}
}

func (f *Forum) loggedIn(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "auth", Value: "session-" + Username, Path: "/"})
	writeHtml(w, http.StatusOK, ajax("window.location.href='forum.php';succeedhandle_ls"))
}

// seccodeAccepted reports whether a login form may use idhash. A rotating
// forum only takes the id its last accepted check was made against.
func (f *Forum) seccodeAccepted(idhash string) bool {
	if f.behavior.RotateSeccode {
		return idhash != "" && idhash == f.verifiedId
	}
	return idhash == SeccodeId
}

func (f *Forum) seccodeCheck(w http.ResponseWriter, query url.Values) {
	idhash := query.Get("idhash")
	f.checkIds = append(f.checkIds, idhash)
	correct := idhash == f.seccodeId && query.Get("secverify") == Code
	if correct {
		f.checks++
	}
	if !correct || f.checks <= f.behavior.CodeRejections {
		writeHtml(w, http.StatusOK, ajax("invalid"))
		return
	}
	f.checkPassed = true
	f.verifiedId = idhash
	writeHtml(w, http.StatusOK, ajax("succeed"))
}

func (f *Forum) seccodeImage(w http.ResponseWriter, query url.Values) {
	f.imageIds = append(f.imageIds, query.Get("idhash"))
	if query.Get("idhash") != f.seccodeId {
		http.NotFound(w, nil)
		return
	}
	status := f.behavior.ImageStatus
	if status == 0 {
		status = http.StatusOK
	}
	contentType := f.behavior.ImageContentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(Png)
}

func (f *Forum) signin(w http.ResponseWriter, r *http.Request) {
	f.signinQueries = append(f.signinQueries, r.URL.Query())

	status := f.behavior.SigninStatus
	if status == 0 {
		status = http.StatusOK
	}
	cookie, err := r.Cookie("auth")
	if err != nil || cookie.Value != "session-"+Username {
		writeHtml(w, status, ajax("not logged in"))
		return
	}
	body := f.behavior.SigninBody
	if body == "" {
		body = ajax("handleresult")
	}
	writeHtml(w, status, body)
}

func (f *Forum) visit(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/space-uid-"), ".html")
	uid, err := strconv.Atoi(raw)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if f.behavior.FailVisitAfter > 0 && len(f.visits) >= f.behavior.FailVisitAfter {
		hijacker, ok := w.(http.Hijacker)
		if ok {
			conn, _, err := hijacker.Hijack()
			if err == nil {
				conn.Close()
				return
			}
		}
		writeHtml(w, http.StatusInternalServerError, "")
		return
	}

	f.visits = append(f.visits, uid)
	status := f.behavior.VisitStatus
	if status == 0 {
		status = http.StatusOK
	}
	writeHtml(w, status, fmt.Sprintf("<html><body>space %d</body></html>", uid))
}

func ajax(contents string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?><root><![CDATA[%s]]></root>`, contents)
}

func writeHtml(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

const challengePage = `<html><body><div id="cf-browser-verification" class="cf-browser-verification">Checking your browser</div></body></html>`
