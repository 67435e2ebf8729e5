package dispatch

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"moddispatch/internal/distance"
	"moddispatch/internal/opt"
)

// requestDump is the full solver input of one run, enough to replay it offline.
type requestDump struct {
	RouteType distance.Backend        `json:"routeType"`
	Problem   opt.Problem             `json:"problem"`
	Params    opt.AlgorithmParameters `json:"algorithmParameters"`
	Config    opt.RouteConfiguration  `json:"routeConfiguration"`
	Matrix    *opt.Matrix             `json:"matrix"`
}

func (e *Engine) dumpRequest(l log.FieldLogger, req Request, ap opt.AlgorithmParameters, conf opt.RouteConfiguration, m *opt.Matrix) {
	b, err := json.Marshal(requestDump{RouteType: req.RouteType, Problem: req.Problem, Params: ap, Config: conf, Matrix: m})
	if err != nil {
		l.WithError(err).Warn("request dump encode failed")
		return
	}
	l.WithFields(log.Fields{"locations": m.N, "request": string(b)}).Info("optimize request")
}
