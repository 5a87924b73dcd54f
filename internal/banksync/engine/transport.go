package engine

import (
	"net/http/cookiejar"
	"net/url"

	"banksync/internal/banksync/classify"
	"banksync/internal/components/telemetry"
	"banksync/lib/htmlutil"
	"banksync/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

func (e *Engine) newHTTPClient(tel telemetry.API) (*resty.Client, error) {
	client := resty.New()
	client.SetBaseURL(e.baseUrl.String())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", e.opts.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(e.baseUrl.Hostname()))
	client.SetTimeout(e.opts.Timeout)

	if e.opts.RequestsPerSecond > 0 {
		// burst 1, the throttle gate already spaces requests out
		rateLimiter := rate.NewLimiter(rate.Limit(e.opts.RequestsPerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel)
	restyutil.InstrumentClient(client, tracer, e.opts.Dump)

	return client, nil
}

// page is a fetched html document together with the url it was finally served from.
type page struct {
	url    *url.URL
	status int
	body   []byte
	doc    *goquery.Document
}

func finalURL(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	u, err := url.Parse(res.Request.URL)
	if err != nil {
		return nil
	}
	return u
}

func newPage(res *resty.Response) page {
	p := page{
		url:    finalURL(res),
		status: res.StatusCode(),
		body:   res.Body(),
	}
	doc, err := htmlutil.ParseDocument(p.body)
	if err == nil {
		p.doc = doc
	}
	return p
}

func (p page) loaded() bool {
	return p.url != nil
}

func (p page) response() classify.Response {
	return classify.Response{
		StatusCode: p.status,
		URL:        p.url,
		Body:       p.body,
		Doc:        p.doc,
	}
}

func (p page) anchors(selector string) []htmlutil.Anchor {
	if p.doc == nil {
		return nil
	}
	return htmlutil.GetAnchors(p.url, p.doc.Find(selector))
}
