package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"
	"xray-inference/internal/infra/logging"
	"xray-inference/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var _ adapter.Notifier = (*HTTPNotifier)(nil)

// HTTPNotifier calls the front end's /message and /result endpoints.
// Every failure stops here: it is logged and counted, never returned.
type HTTPNotifier struct {
	base    string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	log     *zerolog.Logger
}

func NewHTTPNotifier(baseURL string, timeout time.Duration, ratePerSec float64, client *http.Client, logger *zerolog.Logger) *HTTPNotifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &HTTPNotifier{
		base:    baseURL,
		client:  client,
		timeout: timeout,
		limiter: limiter,
		log:     logging.Component(logger, "Notifier"),
	}
}

func (n *HTTPNotifier) Message(ctx context.Context, uid, text string) {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("message", text)
	n.send(ctx, "message", "/message", q)
}

func (n *HTTPNotifier) Result(ctx context.Context, uid, imageKey string, c model.Classification) {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("image_name", imageKey)
	q.Set("prediction", string(c.Label))
	q.Set("confidence", c.Confidence())
	n.send(ctx, "result", "/result", q)
}

func (n *HTTPNotifier) send(ctx context.Context, kind, path string, q url.Values) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	l := logging.With(ctx, n.log)

	if err := n.limiter.Wait(ctx); err != nil {
		metrics.IncNotification(kind, "throttled")
		l.Warn().Err(err).Str("kind", kind).Msg("notification dropped by rate limit")
		return
	}

	endpoint := n.base + path + "?" + q.Encode()
	err := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode >= 300 {
			return fmt.Errorf("notification http %d", resp.StatusCode)
		}
		return nil
	}()
	if err != nil {
		metrics.IncNotification(kind, "failed")
		l.Warn().Err(err).Str("kind", kind).Str("path", path).Msg("notification not delivered")
		return
	}
	metrics.IncNotification(kind, "sent")
	l.Debug().Str("kind", kind).Msg("notification sent")
}
