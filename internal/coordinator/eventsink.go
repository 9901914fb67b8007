package coordinator

import "github.com/atscadalab/blemap-transfer/pkg/models"

// EventSink is the coordinator's one-way notification surface. It is
// called synchronously from the coordinator's single owning goroutine,
// so implementations must not block significantly and must never call
// back into the Coordinator — doing so would create the cyclic
// reference spec.md §9's single-owner model explicitly forbids.
type EventSink interface {
	OnStateChange(state models.SessionState)
	OnProgress(chunksReceived, totalChunks int, bytesReceived int64, rateBps float64)
	OnError(kind models.ErrKind, message string)
	OnComplete(newVersion int64)
}

// NopSink discards every event, for callers that don't need progress
// reporting (primarily tests).
type NopSink struct{}

func (NopSink) OnStateChange(models.SessionState)                     {}
func (NopSink) OnProgress(int, int, int64, float64)                   {}
func (NopSink) OnError(models.ErrKind, string)                        {}
func (NopSink) OnComplete(int64)                                      {}
