package handlers

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/audit"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/httputil"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Auth authenticates inbound webhooks with a shared secret, sent either as
// a bearer token or as a body signature.
type Auth struct {
	secret  []byte
	signer  *audit.Signer
	debug   bool
	maxBody int64
	logger  *slog.Logger
}

// NewAuth returns an authenticator. An empty secret disables checks. With
// debug set, failures are logged and the request continues.
func NewAuth(secret string, debug bool, maxBody int64, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		secret:  []byte(secret),
		signer:  audit.NewSigner(secret),
		debug:   debug,
		maxBody: maxBody,
		logger:  logger,
	}
}

func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := a.authenticate(w, r)
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		if a.debug {
			metrics.AuthFailures.WithLabelValues("allowed").Inc()
			a.logger.WarnContext(r.Context(), "webhook authentication failed, continuing in debug mode",
				logging.Path(r.URL.Path), logging.IP(httputil.GetClientIP(r)))
			next.ServeHTTP(w, r)
			return
		}
		metrics.AuthFailures.WithLabelValues("rejected").Inc()
		a.logger.WarnContext(r.Context(), "webhook authentication failed",
			logging.Method(r.Method), logging.Path(r.URL.Path), logging.IP(httputil.GetClientIP(r)),
			logging.Status(http.StatusUnauthorized))
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

// authenticate checks the bearer token first, then the body signature. The
// body is restored so the next handler can read it.
func (a *Auth) authenticate(w http.ResponseWriter, r *http.Request) (bool, error) {
	if token := httputil.BearerToken(r); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), a.secret) == 1 {
			return true, nil
		}
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return false, nil
	}
	body, err := httputil.ReadBody(w, r, a.maxBody)
	if err != nil {
		return false, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return a.signer.VerifyBody(body, sig), nil
}
