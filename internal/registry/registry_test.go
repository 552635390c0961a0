package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
)

type transition struct {
	serviceID string
	from, to  domain.LiveState
}

type recorder struct {
	mu  sync.Mutex
	all []transition
	raw []domain.Transition
}

func (rec *recorder) observe(t domain.Transition) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.all = append(rec.all, transition{t.ServiceID, t.From, t.To})
	rec.raw = append(rec.raw, t)
}

func (rec *recorder) transitions() []domain.Transition {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]domain.Transition(nil), rec.raw...)
}

func (rec *recorder) snapshot() []transition {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]transition(nil), rec.all...)
}

func TestUnknownServiceIsOffline(t *testing.T) {
	r := New()
	assert.False(t, r.IsLive("nope"))
	assert.False(t, r.IsStreaming("nope"))
	assert.False(t, r.Known("nope"))
	assert.Empty(t, r.ActiveLanguages("nope"))
	assert.Equal(t, domain.Offline, r.Status("nope").LiveState)
}

func TestSetAvailableIsIdempotent(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.OnTransition(rec.observe)

	r.SetAvailable("123")
	r.SetAvailable("123")

	assert.True(t, r.IsLive("123"))
	assert.False(t, r.IsStreaming("123"))
	assert.Equal(t, []transition{{"123", domain.Offline, domain.Available}}, rec.snapshot())
}

func TestSetAvailableDoesNotDowngradeStreaming(t *testing.T) {
	r := New()
	r.SetStreaming("123", time.Minute)
	r.SetAvailable("123")
	assert.True(t, r.IsStreaming("123"))
}

func TestStreamingExpires(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.OnTransition(rec.observe)

	r.SetStreaming("123", 50*time.Millisecond)
	assert.True(t, r.IsStreaming("123"))
	assert.True(t, r.IsLive("123"))

	require.Eventually(t, func() bool { return !r.IsLive("123") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), r.Epoch("123"))
	assert.Equal(t, []transition{
		{"123", domain.Offline, domain.Streaming},
		{"123", domain.Streaming, domain.Offline},
	}, rec.snapshot())
}

func TestSetStreamingDebouncesExpiry(t *testing.T) {
	r := New()

	r.SetStreaming("123", 120*time.Millisecond)
	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		r.SetStreaming("123", 120*time.Millisecond)
	}
	// 200ms have passed, longer than a single timeout.
	assert.True(t, r.IsStreaming("123"))

	require.Eventually(t, func() bool { return !r.IsLive("123") }, time.Second, 5*time.Millisecond)
}

func TestRenewKeepsAvailableAlive(t *testing.T) {
	r := New()
	r.SetAvailable("123")
	r.Renew("123", 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	r.Renew("123", 100*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, domain.Available, r.State("123"))
	require.Eventually(t, func() bool { return !r.IsLive("123") }, time.Second, 5*time.Millisecond)
}

func TestRenewIgnoresOfflineService(t *testing.T) {
	r := New()
	r.Renew("123", time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, domain.Offline, r.State("123"))
	assert.Equal(t, uint64(0), r.Epoch("123"))
}

func TestSetOfflineCancelsExpiry(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.OnTransition(rec.observe)

	r.SetStreaming("123", 30*time.Millisecond)
	r.SetOffline("123")
	r.SetAvailable("123")
	time.Sleep(80 * time.Millisecond)

	// The stale timer must not have expired the reactivated service.
	assert.Equal(t, domain.Available, r.State("123"))
	assert.Equal(t, uint64(1), r.Epoch("123"))
	assert.Len(t, rec.snapshot(), 3)
}

func TestSetOfflineOnOfflineServiceIsSilent(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.OnTransition(rec.observe)

	r.SetOffline("123")
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, uint64(0), r.Epoch("123"))
	assert.True(t, r.Known("123"))
}

func TestTransitionsCarryEpochAndSeq(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.OnTransition(rec.observe)

	r.SetAvailable("123")
	r.SetStreaming("123", time.Minute)
	r.SetStreaming("123", time.Minute)
	r.SetOffline("123")
	r.SetAvailable("123")
	r.Stop()

	got := rec.transitions()
	require.Len(t, got, 4)
	for i, tr := range got {
		assert.Equal(t, uint64(i+1), tr.Seq)
	}
	assert.Equal(t, []uint64{0, 0, 1, 1}, []uint64{got[0].Epoch, got[1].Epoch, got[2].Epoch, got[3].Epoch})
	assert.Equal(t, domain.Offline, got[2].To)
}

func TestStatusExpiresAt(t *testing.T) {
	r := New()
	r.SetAvailable("123")
	assert.Nil(t, r.Status("123").ExpiresAt)

	r.SetStreaming("123", time.Minute)
	require.NotNil(t, r.Status("123").ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *r.Status("123").ExpiresAt, time.Second)

	r.SetOffline("123")
	assert.Nil(t, r.Status("123").ExpiresAt)
}

func TestLanguages(t *testing.T) {
	r := New()
	r.ActivateLanguage("123", "fr")
	r.ActivateLanguage("123", "es")
	r.ActivateLanguage("123", "es")
	assert.Equal(t, []string{"es", "fr"}, r.ActiveLanguages("123"))

	r.DeactivateLanguage("123", "fr")
	r.DeactivateLanguage("123", "de")
	assert.Equal(t, []string{"es"}, r.ActiveLanguages("123"))
	assert.Equal(t, []string{"es"}, r.Status("123").ActiveLanguages)
}

func TestLiveServices(t *testing.T) {
	r := New()
	r.SetAvailable("b")
	r.SetStreaming("a", time.Minute)
	r.SetAvailable("c")
	r.SetOffline("c")
	r.ActivateLanguage("d", "es")

	assert.Equal(t, []string{"a", "b"}, r.LiveServices())
	r.Stop()
}

func TestConcurrentServicesAreIndependent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("svc-%d", i)
			for j := 0; j < 100; j++ {
				r.SetStreaming(id, time.Minute)
				r.ActivateLanguage(id, "es")
				r.SetAvailable(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.LiveServices(), 50)
	r.Stop()
}
