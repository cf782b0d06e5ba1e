package api

import (
	"fmt"
	"net/http"
)

// errorHandler recovers panics from downstream handlers so one bad request
// never takes the process down.
func (a *RelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				a.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
