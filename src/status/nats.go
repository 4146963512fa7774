package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/registry"
)

// Env vars read when connecting, in addition to the configured URL.
const (
	NATSJwtEnvVar  = "NATS_JWT"
	NATSSeedEnvVar = "NATS_SEED"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event on <subject>.status.<run> and, for
// succeeded runs, the artifact record on <subject>.artifact.
type NATSSink struct {
	Conn    Publisher
	Subject string
}

// ConnectNATS dials url. Credentials come from NATS_JWT and NATS_SEED when
// both are set.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name(name)}
	if jwt, seed := os.Getenv(NATSJwtEnvVar), os.Getenv(NATSSeedEnvVar); jwt != "" && seed != "" {
		opts = append(opts, nats.UserJWTAndSeed(jwt, seed))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

func (s NATSSink) Emit(_ context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.Conn.Publish(s.subject("status", ev.RunID), data); err != nil {
		return fmt.Errorf("nats publish status: %w", err)
	}

	if ev.State != pipeline.Succeeded || len(ev.Receipts) == 0 {
		return nil
	}
	rec, err := json.Marshal(registry.NewRecord(ev.RunID, ev.Receipts))
	if err != nil {
		return err
	}
	if err := s.Conn.Publish(s.subject("artifact"), rec); err != nil {
		return fmt.Errorf("nats publish artifact: %w", err)
	}
	return nil
}

func (s NATSSink) subject(parts ...string) string {
	base := strings.TrimSuffix(s.Subject, ".")
	if base == "" {
		base = "freightline"
	}
	return base + "." + strings.Join(parts, ".")
}
