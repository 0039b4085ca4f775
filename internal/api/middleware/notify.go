package middleware

import (
	"net/http"
	"strconv"

	"github.com/3T-LVTN/model/internal/notify"
)

// NotifyServerErrors reports every 5xx response to n.
func NotifyServerErrors(n notify.Notifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			if rec.statusCode < http.StatusInternalServerError {
				return
			}
			n.Notify(r.Context(), notify.Message{
				Title: r.Method + " " + routePattern(r) + " failed",
				Text:  http.StatusText(rec.statusCode),
				Fields: map[string]string{
					"status":     strconv.Itoa(rec.statusCode),
					"path":       r.URL.Path,
					"request_id": GetRequestID(r.Context()),
				},
			})
		})
	}
}
