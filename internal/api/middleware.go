package api

import (
    "net/http"
    "os"
    "strconv"
    "strings"
    "time"

    "golang.org/x/time/rate"

    "shuttleplan/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (sr *statusRecorder) WriteHeader(code int) {
    sr.status = code
    sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
    if f, ok := sr.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// MetricsMiddleware records request counts and durations on the
// dedicated registry. Paths are bucketed to their route prefix to keep
// label cardinality bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
    metrics.RegisterDefault()
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sr := &statusRecorder{ResponseWriter: w, status: 200}
        next.ServeHTTP(sr, r)
        path := routeBucket(r.URL.Path)
        status := strconv.Itoa(sr.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
    })
}

func routeBucket(p string) string {
    parts := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 3)
    if len(parts) >= 2 && parts[0] == "v1" { return "/v1/" + parts[1] }
    if len(parts) >= 1 && parts[0] != "" { return "/" + parts[0] }
    return "/"
}

// RateLimitMiddleware applies a global token-bucket limit from
// RATE_RPS / RATE_BURST. Zero or unset RATE_RPS disables limiting.
func RateLimitMiddleware(next http.Handler) http.Handler {
    rps := 0.0
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil { rps = f }
    }
    if rps <= 0 { return next }
    burst := int(rps)
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    if burst < 1 { burst = 1 }
    lim := rate.NewLimiter(rate.Limit(rps), burst)
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !lim.Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
