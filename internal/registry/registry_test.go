package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/reconcile"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/syncer"
)

var importTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type memPersister struct {
	mu    sync.Mutex
	saved []byte
	saves int
	fail  bool
}

func (m *memPersister) Save(s models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.saved = data
	m.saves++
	return nil
}

func (m *memPersister) Load() (models.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return models.Snapshot{}, false, nil
	}
	var s models.Snapshot
	err := json.Unmarshal(m.saved, &s)
	return s, true, err
}

type recPublisher struct {
	mu       sync.Mutex
	guests   []models.Guest
	deletes  []string
	settings []map[string]any
}

func (p *recPublisher) PublishGuests(gs []models.Guest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guests = append(p.guests, gs...)
}

func (p *recPublisher) PublishDelete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, id)
}

func (p *recPublisher) PublishSettings(f map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = append(p.settings, f)
}

type recListener struct {
	events []Event
}

func (l *recListener) HandleEvent(e Event) { l.events = append(l.events, e) }

type fixture struct {
	reg       *Registry
	persister *memPersister
	publisher *recPublisher
	listener  *recListener
}

func newFixture() fixture {
	f := fixture{
		persister: &memPersister{},
		publisher: &recPublisher{},
		listener:  &recListener{},
	}
	n := 0
	f.reg = New(Options{
		Persister: f.persister,
		Publisher: f.publisher,
		Listeners: []Listener{f.listener},
		Now:       func() time.Time { return importTime.Add(time.Hour) },
		Rand:      rand.New(rand.NewPCG(7, 11)),
		NewID: func() string {
			n++
			return fmt.Sprintf("g%d", n)
		},
		Logger: zerolog.Nop(),
	})
	return f
}

func assertInvariants(t *testing.T, r *Registry) {
	t.Helper()
	for _, g := range r.Guests() {
		assert.Equal(t, len(g.AttendedRounds) > 0, g.IsCheckedIn, "isCheckedIn for %s", g.Name)
		assert.Equal(t, len(g.WonRounds) > 0, g.IsWinner, "isWinner for %s", g.Name)
	}
}

func TestImport_NewGuest(t *testing.T) {
	f := newFixture()

	res, err := f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Accepted: 1, Created: 1, CheckedIn: 1}, res)

	guests := f.reg.Guests()
	require.Len(t, guests, 1)
	assert.Equal(t, []int{1}, guests[0].AttendedRounds)
	assert.True(t, guests[0].CheckInTime.Equal(importTime))

	assert.Equal(t, 1, f.persister.saves)
	assert.Len(t, f.publisher.guests, 1)
	require.Len(t, f.listener.events, 1)
	assert.Equal(t, EventCheckedIn, f.listener.events[0].Kind)
	assert.Equal(t, 1, f.listener.events[0].Round)
	assertInvariants(t, f.reg)
}

func TestImport_BlacklistedNameNeverCreatesGuest(t *testing.T) {
	f := newFixture()

	res, err := f.reg.Import([]models.ParsedGuestDraft{
		{Name: "姓名", Code: "1", Title: "職稱", HasSignature: true},
	}, importTime)

	assert.ErrorIs(t, err, reconcile.ErrNothingToImport)
	assert.Equal(t, 1, res.Rejected)
	assert.Empty(t, f.reg.Guests())
	assert.Zero(t, f.persister.saves)
	assert.Empty(t, f.publisher.guests)
}

func TestImport_SkipsMalformedDraftsIndividually(t *testing.T) {
	f := newFixture()

	res, err := f.reg.Import([]models.ParsedGuestDraft{
		{Name: "Name"},
		{Name: "王小明"},
		{Name: ""},
	}, importTime)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Len(t, f.reg.Guests(), 1)
}

func TestImport_FirstCheckInPrevails(t *testing.T) {
	f := newFixture()
	_, err := f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	require.NoError(t, err)

	two := 2
	_, err = f.reg.SetCheckInRound(2)
	require.NoError(t, err)
	res, err := f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true, ForcedRound: &two}}, importTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.CheckedIn)

	g := f.reg.Guests()[0]
	assert.Equal(t, []int{1}, g.AttendedRounds)
	assert.True(t, g.CheckInTime.Equal(importTime))
	assert.Len(t, f.listener.events, 1)
}

func TestImport_UsesCurrentCheckInRound(t *testing.T) {
	f := newFixture()
	_, err := f.reg.SetCheckInRound(2)
	require.NoError(t, err)

	_, err = f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, f.reg.Guests()[0].AttendedRounds)
}

func TestImport_LocalCommitSurvivesPersistFailure(t *testing.T) {
	f := newFixture()
	f.persister.fail = true

	_, err := f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	require.NoError(t, err)
	assert.Len(t, f.reg.Guests(), 1)
	assert.Len(t, f.publisher.guests, 1)
}

func TestImportChunks_PartialFailure(t *testing.T) {
	f := newFixture()

	res, err := f.reg.ImportChunks([]reconcile.ChunkResult{
		{Source: "page1.jpg", Drafts: []models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}},
		{Source: "page2.jpg", Err: errors.New("ocr timeout")},
		{Source: "page3.jpg", Drafts: []models.ParsedGuestDraft{{Name: "王小明"}, {Name: "李大華", HasSignature: true}}},
	}, importTime)

	require.Error(t, err)
	assert.True(t, reconcile.IsPartialFailure(err))
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.CheckedIn)
	assert.Len(t, f.reg.Guests(), 2)
}

func TestImportChunks_AllFailedReportsNothingToImport(t *testing.T) {
	f := newFixture()

	_, err := f.reg.ImportChunks([]reconcile.ChunkResult{
		{Source: "page1.jpg", Err: errors.New("blurry")},
	}, importTime)

	assert.ErrorIs(t, err, reconcile.ErrNothingToImport)
	assert.True(t, reconcile.IsPartialFailure(err))
}

func TestAddGuest_AllowsDuplicateNames(t *testing.T) {
	f := newFixture()

	a, err := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})
	require.NoError(t, err)
	b, err := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明", HasSignature: true})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.IsCheckedIn)
	assert.True(t, b.IsCheckedIn)
	assert.Len(t, f.reg.Guests(), 2)

	_, err = f.reg.AddGuest(models.ParsedGuestDraft{Name: "備註"})
	assert.ErrorIs(t, err, ErrInvalidDraft)
}

func TestUpdateGuest(t *testing.T) {
	f := newFixture()
	g, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})

	title := " 會長 "
	vip := models.CategoryVIP
	updated, err := f.reg.UpdateGuest(g.ID, GuestPatch{Title: &title, Category: &vip})
	require.NoError(t, err)
	assert.Equal(t, "會長", updated.Title)
	assert.Equal(t, models.CategoryVIP, updated.Category)

	blank := " "
	_, err = f.reg.UpdateGuest(g.ID, GuestPatch{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidDraft)

	_, err = f.reg.UpdateGuest("missing", GuestPatch{Title: &title})
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestDeleteGuest_IssuesRemoteDelete(t *testing.T) {
	f := newFixture()
	a, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})
	b, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "李大華"})

	require.NoError(t, f.reg.DeleteGuest(a.ID))
	guests := f.reg.Guests()
	require.Len(t, guests, 1)
	assert.Equal(t, b.ID, guests[0].ID)
	assert.Equal(t, []string{a.ID}, f.publisher.deletes)

	assert.ErrorIs(t, f.reg.DeleteGuest(a.ID), ErrGuestNotFound)
}

func TestToggleRound(t *testing.T) {
	f := newFixture()
	g, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})

	g, err := f.reg.ToggleRound(g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, g.AttendedRounds)

	g, err = f.reg.ToggleRound(g.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, g.AttendedRounds)

	g, err = f.reg.ToggleRound(g.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, g.AttendedRounds)
	assert.False(t, g.IsCheckedIn)

	require.Len(t, f.listener.events, 1, "only the first transition into checked-in is an event")

	_, err = f.reg.ToggleRound(g.ID, 0)
	assert.ErrorIs(t, err, models.ErrInvalidRound)
	_, err = f.reg.ToggleRound("missing", 1)
	assert.ErrorIs(t, err, ErrGuestNotFound)
	assertInvariants(t, f.reg)
}

func TestCheckIn(t *testing.T) {
	f := newFixture()
	g, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})

	g, ok, err := f.reg.CheckIn(g.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1}, g.AttendedRounds)

	_, _ = f.reg.SetCheckInRound(2)
	g, ok, err = f.reg.CheckIn(g.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []int{1}, g.AttendedRounds)
}

func TestSetIntroducedAndQueue(t *testing.T) {
	f := newFixture()
	_, err := f.reg.Import([]models.ParsedGuestDraft{
		{Name: "會友甲", Title: "會友", HasSignature: true},
		{Name: "市長乙", Title: "台中市長", HasSignature: true},
		{Name: "貴賓丙", Category: "VIP", HasSignature: true},
		{Name: "未到丁", Category: "VIP"},
	}, importTime)
	require.NoError(t, err)

	queue := f.reg.IntroductionQueue()
	require.Len(t, queue, 3)
	assert.Equal(t, "貴賓丙", queue[0].Name)
	assert.Equal(t, "市長乙", queue[1].Name)
	assert.Equal(t, "會友甲", queue[2].Name)

	_, err = f.reg.SetIntroduced(queue[0].ID, true)
	require.NoError(t, err)
	assert.Len(t, f.reg.IntroductionQueue(), 2)
	assert.Equal(t, 1, f.reg.Stats().Introduced)
}

func TestDraw_AndRevokeRoundTrip(t *testing.T) {
	f := newFixture()
	_, err := f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	require.NoError(t, err)

	w, ok := f.reg.Draw(models.DrawDefault)
	require.True(t, ok)
	assert.Equal(t, []int{1}, w.WonRounds)
	require.NotNil(t, w.WinRound)
	assert.Equal(t, 1, *w.WinRound)

	_, ok = f.reg.Draw(models.DrawDefault)
	assert.False(t, ok, "a guest can win a round only once")

	_, err = f.reg.RevokeWinner(w.ID)
	require.NoError(t, err)
	assert.Len(t, f.reg.Eligible(models.DrawDefault), 1)

	again, ok := f.reg.Draw(models.DrawDefault)
	require.True(t, ok)
	assert.Equal(t, w.ID, again.ID)
	assertInvariants(t, f.reg)
}

func TestDraw_WinnersOnlyBonusRound(t *testing.T) {
	f := newFixture()
	_, err := f.reg.Import([]models.ParsedGuestDraft{
		{Name: "A", HasSignature: true},
		{Name: "B", HasSignature: true},
	}, importTime)
	require.NoError(t, err)

	first, ok := f.reg.Draw(models.DrawDefault)
	require.True(t, ok)

	_, err = f.reg.SetLotteryRound(2)
	require.NoError(t, err)

	w, ok := f.reg.Draw(models.DrawWinnersOnly)
	require.True(t, ok)
	assert.Equal(t, first.ID, w.ID)

	_, ok = f.reg.Draw(models.DrawWinnersOnly)
	assert.False(t, ok)

	winners := 0
	for _, e := range f.listener.events {
		if e.Kind == EventWon {
			winners++
		}
	}
	assert.Equal(t, 2, winners)
}

func TestSetLotteryRound_DoesNotTouchGuests(t *testing.T) {
	f := newFixture()
	_, _ = f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	before := f.reg.Guests()
	published := len(f.publisher.guests)

	s, err := f.reg.SetLotteryRound(3)
	require.NoError(t, err)
	assert.Equal(t, 3, s.LotteryRoundCounter)
	assert.Equal(t, before, f.reg.Guests())
	assert.Equal(t, published, len(f.publisher.guests))
	require.Len(t, f.publisher.settings, 1)
	assert.Equal(t, map[string]any{"lotteryRoundCounter": 3}, f.publisher.settings[0])

	_, err = f.reg.SetLotteryRound(0)
	assert.ErrorIs(t, err, models.ErrInvalidRound)
	assert.Equal(t, 3, f.reg.Settings().LotteryRoundCounter)
}

func TestApplySnapshot_MergeBackAsymmetry(t *testing.T) {
	f := newFixture()
	g1, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "王小明"})
	g2, _ := f.reg.AddGuest(models.ParsedGuestDraft{Name: "李大華"})
	published := len(f.publisher.guests)

	remote := g1.Clone()
	remote.AttendedRounds = []int{1}
	remote.IsCheckedIn = true
	snap := models.Snapshot{Guests: []models.Guest{remote}}

	f.reg.ApplySnapshot(snap)
	first := f.reg.Guests()
	require.Len(t, first, 2)
	assert.True(t, first[0].IsCheckedIn)
	assert.Equal(t, g2.ID, first[1].ID)

	f.reg.ApplySnapshot(snap)
	assert.Equal(t, first, f.reg.Guests())

	assert.Equal(t, published, len(f.publisher.guests), "snapshots are never echoed back")
}

func TestApplySnapshot_RemoteSettingsWin(t *testing.T) {
	f := newFixture()
	settings := models.SystemSettings{EventName: "年會", CurrentCheckInRound: 2, LotteryRoundCounter: 4, TotalRounds: 2}

	f.reg.ApplySnapshot(models.Snapshot{Settings: &settings})
	assert.Equal(t, settings, f.reg.Settings())
}

func TestApplySnapshot_PartialRemoteSettings(t *testing.T) {
	f := newFixture()
	_, err := f.reg.SetCheckInRound(2)
	require.NoError(t, err)
	_, err = f.reg.SetLotteryRound(3)
	require.NoError(t, err)

	name := "年會"
	f.reg.ApplySnapshot(models.Snapshot{SettingsPatch: &models.SettingsPatch{EventName: &name}})
	assert.Equal(t, models.SystemSettings{
		EventName:           "年會",
		CurrentCheckInRound: 2,
		LotteryRoundCounter: 3,
		TotalRounds:         2,
	}, f.reg.Settings())

	zero := 0
	f.reg.ApplySnapshot(models.Snapshot{SettingsPatch: &models.SettingsPatch{LotteryRoundCounter: &zero}})
	assert.Equal(t, 3, f.reg.Settings().LotteryRoundCounter, "invalid remote rounds are ignored")
}

// docRemote keeps the last document written per guest. Writes of guests that
// are not checked in are slow.
type docRemote struct {
	mu   sync.Mutex
	docs map[string]models.Guest
	ids  []string
}

func (d *docRemote) PutGuest(_ context.Context, g models.Guest) error {
	if !g.IsCheckedIn {
		time.Sleep(50 * time.Millisecond)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.docs[g.ID]; !ok {
		d.ids = append(d.ids, g.ID)
	}
	d.docs[g.ID] = g
	return nil
}

func (d *docRemote) DeleteGuest(context.Context, string) error { return nil }
func (d *docRemote) PatchSettings(context.Context, map[string]any) error { return nil }
func (d *docRemote) Subscribe(ctx context.Context, _ func(models.Snapshot)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *docRemote) snapshot() models.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	var snap models.Snapshot
	for _, id := range d.ids {
		snap.Guests = append(snap.Guests, d.docs[id].Clone())
	}
	return snap
}

func TestOutboundWrites_KeepCallOrder(t *testing.T) {
	remote := &docRemote{docs: map[string]models.Guest{}}
	adapter := syncer.NewAdapter(remote, syncer.Config{}, zerolog.Nop())
	r := New(Options{Publisher: adapter, Logger: zerolog.Nop()})

	g, err := r.AddGuest(models.ParsedGuestDraft{Name: "王小明"})
	require.NoError(t, err)
	_, err = r.ToggleRound(g.ID, 1)
	require.NoError(t, err)
	_, ok := r.Draw(models.DrawDefault)
	require.True(t, ok)
	adapter.Flush()

	snap := remote.snapshot()
	require.Len(t, snap.Guests, 1)
	assert.Equal(t, []int{1}, snap.Guests[0].AttendedRounds)
	assert.Equal(t, []int{1}, snap.Guests[0].WonRounds)

	r.ApplySnapshot(snap)
	local, err := r.Guest(g.ID)
	require.NoError(t, err)
	assert.True(t, local.IsCheckedIn)
	assert.True(t, local.IsWinner)
}

func TestLoad_RestoresMirror(t *testing.T) {
	f := newFixture()
	_, _ = f.reg.Import([]models.ParsedGuestDraft{{Name: "王小明", HasSignature: true}}, importTime)
	_, _ = f.reg.SetLotteryRound(2)

	restored := New(Options{Persister: f.persister, Logger: zerolog.Nop()})
	require.NoError(t, restored.Load(context.Background()))

	assert.Equal(t, f.reg.Guests()[0].ID, restored.Guests()[0].ID)
	assert.True(t, restored.Guests()[0].IsCheckedIn)
	assert.Equal(t, 2, restored.Settings().LotteryRoundCounter)
}

func TestLoad_EmptyMirror(t *testing.T) {
	r := New(Options{Persister: &memPersister{}, Logger: zerolog.Nop()})
	require.NoError(t, r.Load(context.Background()))
	assert.Empty(t, r.Guests())
	assert.Equal(t, models.DefaultSettings(), r.Settings())
}

func TestStats(t *testing.T) {
	f := newFixture()
	two := 2
	_, _ = f.reg.Import([]models.ParsedGuestDraft{
		{Name: "A", HasSignature: true, Category: "VIP"},
		{Name: "B", HasSignature: true, ForcedRound: &two},
		{Name: "C"},
	}, importTime)
	_, _ = f.reg.Draw(models.DrawDefault)

	s := f.reg.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.CheckedIn)
	assert.Equal(t, map[int]int{1: 1, 2: 1}, s.ByRound)
	assert.Equal(t, 1, s.Winners)
	assert.Equal(t, 1, s.ByCategory[models.CategoryVIP])
	assert.Equal(t, 2, s.ByCategory[models.CategoryOther])
	assert.Equal(t, 1, s.CheckedInByCategory[models.CategoryOther])
}

func TestGuest_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.reg.Guest("nope")
	assert.ErrorIs(t, err, ErrGuestNotFound)
}
