package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

// WatchStore persists users and watches.
type WatchStore interface {
	EnsureUser(ctx context.Context, userID int64) error
	CreateWatch(ctx context.Context, w types.Watch) (int64, error)
}

// Registrar owns scheduler job registration for new watches and dispatches
// one-off evaluations onto the worker pool.
type Registrar interface {
	Register(w types.Watch)
	RunOnce(w types.Watch)
}

// Inbound handles watch-creation events from the chat transport.
type Inbound struct {
	logger    zerolog.Logger
	store     WatchStore
	registrar Registrar
	transport Transport
}

func NewInbound(logger zerolog.Logger, store WatchStore, registrar Registrar, transport Transport) *Inbound {
	return &Inbound{
		logger:    logger.With().Str("module", "inbound").Logger(),
		store:     store,
		registrar: registrar,
		transport: transport,
	}
}

// HandleWatchText parses the user's free text into a watch, persists it,
// registers its scheduler job and dispatches the first evaluation onto the
// worker pool. The callback path itself never touches remote surfaces.
// Parse failures produce a clarify message and no watch.
func (i *Inbound) HandleWatchText(ctx context.Context, userID int64, text string) error {
	w, err := ParseWatch(userID, text)
	if err != nil {
		if errors.Is(err, ErrUnparseable) {
			metrics.IncrCounter(1, "inbound", "unparseable")
			return i.transport.SendNotice(ctx, userID, ClarifyMessage())
		}
		return err
	}

	if err := i.store.EnsureUser(ctx, userID); err != nil {
		return err
	}
	w.CreatedAt = time.Now()
	id, err := i.store.CreateWatch(ctx, w)
	if err != nil {
		return err
	}
	w.ID = id

	i.registrar.Register(w)
	metrics.IncrCounter(1, "inbound", "watch_created")
	i.logger.Info().Int64("watch", id).Int64("user", userID).Str("mode", string(w.Mode)).Msg("watch created")

	i.registrar.RunOnce(w)
	return nil
}
