package status

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/forge"
	"github.com/sofmeright/freightline/src/version"
)

// FromConfig builds the configured sinks. The returned close function
// drains and closes the NATS connection, if any.
func FromConfig(cfg config.StatusConfig, remoteURL string, log zerolog.Logger) (Multi, func(), error) {
	var sinks Multi
	closeFn := func() {}

	if cfg.Log {
		sinks = append(sinks, LogSink{Log: log.With().Str("component", "status").Logger()})
	}

	if cfg.Forge.Enabled() {
		f, err := forge.New(cfg.Forge, remoteURL, &http.Client{Timeout: cfg.Timeout.Std()})
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, ForgeSink{
			Forge:     f,
			Context:   cfg.Forge.Context,
			TargetURL: cfg.Forge.TargetURL,
			Log:       log,
		})
	}

	if cfg.NATS.Enabled() {
		nc, err := ConnectNATS(cfg.NATS.URL, version.UserAgent())
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = func() { _ = nc.Drain() }
		sinks = append(sinks, NATSSink{Conn: nc, Subject: cfg.NATS.Subject})
	}

	return sinks, closeFn, nil
}
