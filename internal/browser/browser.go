// Package browser hands out chromedp-backed browser handles that agent
// libraries drive. Creating a handle does not start or dial a browser; that
// happens on the first chromedp action.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/chromedp/chromedp"
)

var ErrInvalidEndpoint = errors.New("browser: remote debugging endpoint must be a ws(s) or http(s) URL")

type Handle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	Remote   bool
	Headless bool
	Endpoint string
}

// Connect attaches to an already running browser through its remote debugging endpoint.
func Connect(parent context.Context, endpoint string) (*Handle, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidEndpoint
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, ErrInvalidEndpoint
	}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(parent, endpoint)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	return &Handle{
		ctx:      ctx,
		cancel:   chain(cancelCtx, cancelAlloc),
		Remote:   true,
		Endpoint: endpoint,
	}, nil
}

// Launch prepares a locally started browser.
func Launch(parent context.Context, headless bool) *Handle {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", headless))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	return &Handle{ctx: ctx, cancel: chain(cancelCtx, cancelAlloc), Headless: headless}
}

// Context is the chromedp context to run actions against.
func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
}

func (h *Handle) String() string {
	if h.Remote {
		return fmt.Sprintf("remote(%s)", h.Endpoint)
	}
	return fmt.Sprintf("local(headless=%t)", h.Headless)
}

func chain(fns ...context.CancelFunc) context.CancelFunc {
	return func() {
		for _, f := range fns {
			f()
		}
	}
}
