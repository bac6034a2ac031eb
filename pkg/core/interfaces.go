// Package core pkg/core/interfaces.go

//go:generate mockgen -destination=mock_core.go -package=core github.com/partyhouse/telemetry/pkg/core Publisher

package core

import "context"

// Publisher delivers consolidated state snapshots to downstream
// consumers. The MQTT client implements it with a retained publish.
type Publisher interface {
	PublishState(ctx context.Context, payload []byte) error
}
