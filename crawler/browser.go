package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// AuthProfile is a named, file-backed authenticated browser session.
// Profiles are produced out-of-band by interactive capture; the crawler
// only consumes the storage-state artifact.
type AuthProfile struct {
	Name             string
	StorageStatePath string
	TestURL          string
}

// AuthCheckResult reports whether a profile's stored session is still
// valid against its test URL.
type AuthCheckResult struct {
	ProfileName string    `json:"profile_name"`
	OK          bool      `json:"ok"`
	FinalURL    string    `json:"final_url"`
	Title       string    `json:"title"`
	Status      int       `json:"status"`
	ErrorReason string    `json:"error_reason"`
	CheckedAt   time.Time `json:"checked_at"`
}

// storageState mirrors the persisted browser session format.
type storageState struct {
	Cookies []storageCookie `json:"cookies"`
}

type storageCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Browser fetches pages through headless Chrome using a stored
// authenticated session. Every fetched page passes the auth-bounce
// detector before it is treated as success.
type Browser struct {
	headless   bool
	navTimeout time.Duration
	userAgent  string
	signatures AuthSignatures
	logger     *zap.Logger
}

// NewBrowser builds a browser-session fetcher.
func NewBrowser(headless bool, navTimeout time.Duration, userAgent string, signatures AuthSignatures, logger *zap.Logger) *Browser {
	return &Browser{
		headless:   headless,
		navTimeout: navTimeout,
		userAgent:  userAgent,
		signatures: signatures,
		logger:     logger,
	}
}

func loadStorageState(path string) (*storageState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}
	var state storageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse storage state: %w", err)
	}
	return &state, nil
}

// cookieExpiry converts a storage-state epoch to the CDP wire type.
// Session cookies (no expiry) return nil.
func cookieExpiry(epoch float64) *cdp.TimeSinceEpoch {
	if epoch <= 0 {
		return nil
	}
	expires := cdp.TimeSinceEpoch(time.Unix(int64(epoch), 0))
	return &expires
}

func setCookiesAction(state *storageState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, cookie := range state.Cookies {
			params := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithSecure(cookie.Secure).
				WithHTTPOnly(cookie.HTTPOnly)
			if expires := cookieExpiry(cookie.Expires); expires != nil {
				params = params.WithExpires(expires)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", cookie.Name, err)
			}
		}
		return nil
	})
}

type renderedPage struct {
	HTML     string
	FinalURL string
	Title    string
	Status   int
}

// navigate opens url in a fresh browser context seeded with the
// profile's cookies and returns the rendered page.
func (b *Browser) navigate(ctx context.Context, profile AuthProfile, rawURL string) (*renderedPage, error) {
	state, err := loadStorageState(profile.StorageStatePath)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(b.userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	taskCtx, cancelTask := context.WithTimeout(browserCtx, b.navTimeout)
	defer cancelTask()

	status := 0
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && status == 0 {
				status = int(resp.Response.Status)
			}
		}
	})

	page := &renderedPage{}
	err = chromedp.Run(taskCtx,
		network.Enable(),
		setCookiesAction(state),
		chromedp.Navigate(rawURL),
		chromedp.Title(&page.Title),
		chromedp.Location(&page.FinalURL),
		chromedp.OuterHTML("html", &page.HTML),
	)
	if err != nil {
		return nil, fmt.Errorf("browser navigate %s: %w", rawURL, err)
	}
	page.Status = status
	return page, nil
}

// Fetch retrieves rawURL with the profile's session and classifies the
// result through the same auth-bounce detector as plain fetches.
func (b *Browser) Fetch(ctx context.Context, profile AuthProfile, rawURL string) FetchResult {
	page, err := b.navigate(ctx, profile, rawURL)
	if err != nil {
		b.logger.Warn("browser fetch failed",
			zap.String("url", rawURL),
			zap.String("profile", profile.Name),
			zap.Error(err))
		return FetchResult{Status: StatusHTTPError, FinalURL: rawURL}
	}

	if reason := b.signatures.DetectPageBounce(page.FinalURL, page.Title, page.HTML); reason != "" {
		return FetchResult{
			Status:     StatusAuthRequired,
			StatusCode: page.Status,
			FinalURL:   page.FinalURL,
			Auth: &AuthBounce{
				OriginalURL:    rawURL,
				RedirectTarget: page.FinalURL,
				RedirectHost:   hostname(page.FinalURL),
				MatchedPattern: reason,
			},
		}
	}

	status := page.Status
	if status == 0 {
		status = 200
	}
	return FetchResult{
		OK:          true,
		Status:      StatusOK,
		StatusCode:  status,
		FinalURL:    page.FinalURL,
		Body:        []byte(page.HTML),
		ContentType: "text/html",
	}
}

// ValidateProfile checks that a profile's stored session still yields
// authenticated content for its test URL.
func (b *Browser) ValidateProfile(ctx context.Context, profile AuthProfile) AuthCheckResult {
	result := AuthCheckResult{ProfileName: profile.Name, CheckedAt: time.Now().UTC()}

	if profile.StorageStatePath == "" {
		result.ErrorReason = "storage_state_path is not configured"
		return result
	}
	if profile.TestURL == "" {
		result.ErrorReason = "test_url is not configured"
		return result
	}
	if _, err := os.Stat(profile.StorageStatePath); err != nil {
		result.FinalURL = profile.TestURL
		result.ErrorReason = fmt.Sprintf("storage state not found: %s", profile.StorageStatePath)
		return result
	}

	page, err := b.navigate(ctx, profile, profile.TestURL)
	if err != nil {
		result.FinalURL = profile.TestURL
		result.ErrorReason = err.Error()
		return result
	}
	result.FinalURL = page.FinalURL
	result.Title = page.Title
	result.Status = page.Status

	if reason := b.signatures.DetectPageBounce(page.FinalURL, page.Title, page.HTML); reason != "" {
		result.ErrorReason = reason
		return result
	}
	result.OK = true
	return result
}

func hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
