package chat

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mandi-monitor/monitor/types"
)

type memWatchStore struct {
	users   []int64
	watches []types.Watch
}

func (m *memWatchStore) EnsureUser(_ context.Context, userID int64) error {
	m.users = append(m.users, userID)
	return nil
}

func (m *memWatchStore) CreateWatch(_ context.Context, w types.Watch) (int64, error) {
	m.watches = append(m.watches, w)
	return int64(len(m.watches)), nil
}

type stubRegistrar struct {
	registered []types.Watch
	dispatched []types.Watch
}

func (r *stubRegistrar) Register(w types.Watch) { r.registered = append(r.registered, w) }
func (r *stubRegistrar) RunOnce(w types.Watch)  { r.dispatched = append(r.dispatched, w) }

type noticeRecorder struct {
	notices []string
}

func (n *noticeRecorder) SendCarousel(context.Context, int64, []types.Card) error { return nil }
func (n *noticeRecorder) SendNotice(_ context.Context, _ int64, text string) error {
	n.notices = append(n.notices, text)
	return nil
}

func TestHandleWatchTextCreatesAndDispatches(t *testing.T) {
	store := &memWatchStore{}
	registrar := &stubRegistrar{}
	transport := &noticeRecorder{}
	in := NewInbound(zerolog.Nop(), store, registrar, transport)

	err := in.HandleWatchText(context.Background(), 42, "samsung gaming monitor under ₹30,000")
	require.NoError(t, err)

	require.Equal(t, []int64{42}, store.users)
	require.Len(t, store.watches, 1)
	require.Equal(t, "samsung", store.watches[0].Brand)

	// The new watch's job is registered and its first evaluation goes to
	// the worker pool; the callback path returns without evaluating.
	require.Len(t, registrar.registered, 1)
	require.Len(t, registrar.dispatched, 1)
	require.EqualValues(t, 1, registrar.dispatched[0].ID)
	require.Empty(t, transport.notices)
}

func TestHandleWatchTextUnparseableClarifies(t *testing.T) {
	store := &memWatchStore{}
	registrar := &stubRegistrar{}
	transport := &noticeRecorder{}
	in := NewInbound(zerolog.Nop(), store, registrar, transport)

	err := in.HandleWatchText(context.Background(), 42, "   ")
	require.NoError(t, err)

	require.Len(t, transport.notices, 1)
	require.Equal(t, ClarifyMessage(), transport.notices[0])
	require.Empty(t, store.watches)
	require.Empty(t, registrar.registered)
	require.Empty(t, registrar.dispatched)
}
