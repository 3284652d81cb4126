package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
	"github.com/MrSnakeDoc/swarmdns/internal/metrics"
	"github.com/MrSnakeDoc/swarmdns/internal/utils"
)

// RestrictToCIDRs answers 403 to clients outside allowed. An empty list
// disables the check. Set trustProxy when the server is only reachable
// through Traefik.
func RestrictToCIDRs(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	set, invalid := utils.NewPrefixSet(allowed)
	if len(invalid) > 0 {
		log.Warn("ignoring invalid allowed_cidrs entries", logger.Strings("entries", invalid))
	}
	if set.Len() == 0 {
		log.Debug("admin endpoints are not address restricted")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debug("admin endpoints restricted",
		logger.Int("rules", set.Len()),
		logger.Bool("trust_proxy", trustProxy))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := utils.ClientAddr(r, trustProxy)
			if !ok || !set.Contains(addr) {
				metrics.Rejections.WithValues("forbidden").Inc(1)
				log.Warn("request from disallowed address",
					logger.String("remote_ip", utils.ClientIP(r, trustProxy)),
					logger.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
