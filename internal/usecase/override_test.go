package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

func TestOverrideMailbox_LatestWins(t *testing.T) {
	m := usecase.NewOverrideMailbox(nil)

	_, ok := m.Take()
	assert.False(t, ok)

	m.Post(domain.CommandSellHalf)
	m.Post(domain.CommandSellAll)

	cmd, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, domain.CommandSellAll, cmd)

	_, ok = m.Take()
	assert.False(t, ok, "take clears the slot")
}

func TestOverrideMailbox_NotifyFiresOnPost(t *testing.T) {
	m := usecase.NewOverrideMailbox(nil)
	m.Post(domain.CommandSellHalf)
	m.Post(domain.CommandSellHalf)

	select {
	case <-m.Notify():
	default:
		t.Fatal("expected notification")
	}
}

func TestOverrideMailbox_ConcurrentPost(t *testing.T) {
	m := usecase.NewOverrideMailbox(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Post(domain.CommandSellHalf)
		}()
	}
	wg.Wait()

	cmd, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, domain.CommandSellHalf, cmd)
	_, ok = m.Take()
	assert.False(t, ok)
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []domain.Command
}

func (s *recordingSink) Post(cmd domain.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
}

func TestKeyInput_MapsKeys(t *testing.T) {
	in := usecase.NewKeyInput(strings.NewReader("xhHqA"), nil, nil)
	sink := &recordingSink{}

	err := in.Run(context.Background(), sink)
	require.NoError(t, err)
	assert.Equal(t, []domain.Command{
		domain.CommandSellHalf,
		domain.CommandSellHalf,
		domain.CommandSellAll,
	}, sink.cmds)
}
