package discuz

import (
	"discuz-signin/lib/htmlutil"
	"regexp"
	"strings"
)

var (
	loginhashPattern = regexp.MustCompile(`<div id="main_messaqge_(.+?)">`)

	loginFormhashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<input type="hidden" name="formhash" value="(.+?)"`),
		regexp.MustCompile(`formhash=([^&"]+)`),
	}
	seccodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`updateseccode\('([^']+)'`),
		regexp.MustCompile(`seccodehash=([^&"]+)`),
		regexp.MustCompile(`idhash=([^&"]+)`),
	}
	postFormhashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`formhash=(.+?)&`),
		regexp.MustCompile(`<input type="hidden" name="formhash" value="(.+?)" />`),
		regexp.MustCompile(`formhash" value="(.+?)"`),
	}
	homeFormhashPattern = regexp.MustCompile(`<input type="hidden" name="formhash" value="(.+?)" />`)
	coinsPattern        = regexp.MustCompile(`<span id="hcredit_2">(.+?)</span>`)
	hostPattern         = regexp.MustCompile(`a href="https://(.+?)/".+?>.+?入口</a>`)
)

// LoginTokens are the per page-load tokens the login form must echo back.
type LoginTokens struct {
	LoginHash string
	FormHash  string
}

// ExtractLoginTokens reads the loginhash and formhash off the login page.
// Both are empty when the formhash cannot be found.
func ExtractLoginTokens(page string) (LoginTokens, bool) {
	formhash, _, ok := htmlutil.FirstSubmatch(page, loginFormhashPatterns...)
	if !ok {
		return LoginTokens{}, false
	}
	loginhash, _, _ := htmlutil.FirstSubmatch(page, loginhashPattern)
	return LoginTokens{LoginHash: loginhash, FormHash: formhash}, true
}

// ExtractSeccodeId finds the captcha id on the login page, trying the
// updateseccode call first then any seccodehash or idhash parameter.
func ExtractSeccodeId(page string) (string, bool) {
	id, _, ok := htmlutil.FirstSubmatch(page, seccodePatterns...)
	return id, ok
}

// ExtractVerifySeccodeId only recognizes the updateseccode call, which is what
// the forum renders for a captcha that is ready to be checked.
func ExtractVerifySeccodeId(page string) (string, bool) {
	id, _, ok := htmlutil.FirstSubmatch(page, seccodePatterns[0])
	return id, ok
}

// ExtractPostFormhash finds the action token on an authenticated page.
func ExtractPostFormhash(page string) (string, bool) {
	formhash, _, ok := htmlutil.FirstSubmatch(page, postFormhashPatterns...)
	return formhash, ok
}

func ExtractHomeFormhash(page string) (string, bool) {
	formhash, _, ok := htmlutil.FirstSubmatch(page, homeFormhashPattern)
	return formhash, ok
}

// ExtractCredit reads the credit summary shown in the header menu.
func ExtractCredit(page string) (string, bool) {
	doc, err := htmlutil.Parse(page)
	if err != nil {
		return "", false
	}
	anchor := doc.Find("a.showmenu").First()
	if anchor.Length() == 0 {
		return "", false
	}
	credit := htmlutil.CleanText(anchor)
	return credit, credit != ""
}

// ExtractCoins reads the coin balance out of the credit ajax fragment, the
// fragment is wrapped in CDATA so it is matched as text.
func ExtractCoins(body string) (string, bool) {
	coins, _, ok := htmlutil.FirstSubmatch(body, coinsPattern)
	return strings.TrimSpace(coins), ok
}

// ExtractHost finds the forum host linked from the announcement page.
func ExtractHost(page string) (string, bool) {
	host, _, ok := htmlutil.FirstSubmatch(page, hostPattern)
	return host, ok
}
