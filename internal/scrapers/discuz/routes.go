package discuz

import (
	"fmt"
	"net/url"
)

const (
	challengeMarker = "cf-browser-verification"
	seccodeModId    = "member::logging"
	cookieTime      = "2592000"

	homePath      = "/"
	loginPagePath = "/member.php?mod=logging&action=login"
	forumPath     = "/forum.php"
	creditPath    = "/home.php?mod=spacecp&ac=credit&showcredit=1&inajax=1&ajaxtarget=extcreditmenu_menu"
)

func loginSubmitPath(loginhash string) string {
	return fmt.Sprintf(
		"/member.php?mod=logging&action=login&loginsubmit=yes&loginhash=%s&inajax=1",
		url.QueryEscape(loginhash),
	)
}

func seccodeUpdatePath(idhash string) string {
	return fmt.Sprintf(
		"/misc.php?mod=seccode&action=update&idhash=%s&makeseed=1&modid=%s",
		url.QueryEscape(idhash), seccodeModId,
	)
}

func seccodeImagePath(idhash string, unix int64) string {
	return fmt.Sprintf("/misc.php?mod=seccode&idhash=%s&%d", url.QueryEscape(idhash), unix)
}

func seccodeCheckPath(idhash, code string) string {
	return fmt.Sprintf(
		"/misc.php?mod=seccode&action=check&inajax=1&modid=%s&idhash=%s&secverify=%s",
		seccodeModId, url.QueryEscape(idhash), url.QueryEscape(code),
	)
}

// signinPath keeps the query parameters in the order the plugin's own button sends them.
func signinPath(formhash string) string {
	return fmt.Sprintf(
		"/k_misign-sign.html?operation=qiandao&format=button&formhash=%s&inajax=1&ajaxtarget=midaben_sign",
		url.QueryEscape(formhash),
	)
}

func profilePath(uid int) string {
	return fmt.Sprintf("/space-uid-%d.html", uid)
}

// the header sets below mirror what a browser sends for each kind of request

func (c *Client) pageHeaders() map[string]string {
	return map[string]string{
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"accept-language": "zh-CN,zh;q=0.9,en;q=0.8",
		"referer":         c.origin(),
	}
}

func (c *Client) loginHeaders() map[string]string {
	return map[string]string{
		"accept":       "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"content-type": "application/x-www-form-urlencoded",
		"origin":       c.BaseUrl.String(),
		"referer":      c.BaseUrl.String() + loginPagePath,
	}
}

func (c *Client) captchaHeaders() map[string]string {
	return map[string]string{
		"accept":         "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
		"referer":        c.BaseUrl.String() + loginPagePath,
		"sec-fetch-dest": "image",
		"sec-fetch-mode": "no-cors",
		"sec-fetch-site": "same-origin",
	}
}

func (c *Client) ajaxHeaders() map[string]string {
	return map[string]string{
		"accept":           "*/*",
		"referer":          c.origin(),
		"x-requested-with": "XMLHttpRequest",
	}
}
