package runs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sjkd23/console-sub003/internal/access"
	"github.com/sjkd23/console-sub003/internal/catalog"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/repo"
)

type fakeRunRepo struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]domain.Run

	getErr        error
	transitionErr error
	// beforeCommit runs inside TransitionStatus before the CAS check.
	beforeCommit func(run *domain.Run)
	// beforeDelete runs once at the start of DeleteRun, outside the mutex,
	// so it may call back into the service.
	beforeDelete func()
	commits      int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{nextID: 1, runs: map[int64]domain.Run{}}
}

func (f *fakeRunRepo) put(run domain.Run) domain.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID == 0 {
		run.ID = f.nextID
		f.nextID++
	}
	f.runs[run.ID] = run
	return run
}

func (f *fakeRunRepo) stored(id int64) domain.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func (f *fakeRunRepo) CreateRun(ctx context.Context, run domain.Run) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.runs {
		if existing.GuildID == run.GuildID && existing.OrganizerID == run.OrganizerID && existing.Status.Active() {
			return domain.Run{}, repo.ErrOrganizerBusy
		}
	}
	run.ID = f.nextID
	f.nextID++
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRunRepo) GetRun(ctx context.Context, guildID string, runID int64) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Run{}, f.getErr
	}
	run, ok := f.runs[runID]
	if !ok || run.GuildID != guildID {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (f *fakeRunRepo) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, run := range f.runs {
		if run.GuildID == filter.GuildID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRunRepo) UpdateRun(ctx context.Context, guildID string, runID int64, patch repo.RunPatch) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.GuildID != guildID {
		return domain.Run{}, repo.ErrNotFound
	}
	if run.Status.Terminal() {
		return domain.Run{}, repo.ErrRunTerminal
	}
	if patch.Party != nil {
		run.Party = *patch.Party
	}
	if patch.Location != nil {
		run.Location = *patch.Location
	}
	if patch.JoinLocked != nil {
		run.JoinLocked = *patch.JoinLocked
	}
	f.runs[runID] = run
	return run, nil
}

func (f *fakeRunRepo) TransitionStatus(ctx context.Context, guildID string, runID int64, from, to domain.RunStatus, at time.Time) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return domain.Run{}, f.transitionErr
	}
	if !domain.CanTransition(from, to) {
		return domain.Run{}, repo.ErrInvalidTransition
	}
	run, ok := f.runs[runID]
	if !ok || run.GuildID != guildID {
		return domain.Run{}, repo.ErrNotFound
	}
	if f.beforeCommit != nil {
		f.beforeCommit(&run)
		f.runs[runID] = run
		f.beforeCommit = nil
	}
	if run.Status != from {
		return domain.Run{}, repo.ErrStatusConflict
	}
	run.Status = to
	if to == domain.RunStatusLive {
		run.StartedAt = &at
	}
	if to.Terminal() {
		run.EndedAt = &at
	}
	run.UpdatedAt = at
	f.runs[runID] = run
	f.commits++
	return run, nil
}

func (f *fakeRunRepo) DeleteRun(ctx context.Context, guildID string, runID int64) error {
	f.mu.Lock()
	hook := f.beforeDelete
	f.beforeDelete = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.GuildID != guildID {
		return repo.ErrNotFound
	}
	if !run.Status.Terminal() {
		return repo.ErrRunActive
	}
	delete(f.runs, runID)
	return nil
}

func (f *fakeRunRepo) IncrementKeyPops(ctx context.Context, guildID string, runID int64, delta int) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	if run.Status != domain.RunStatusLive {
		return domain.Run{}, repo.ErrRunNotLive
	}
	run.KeyPops += delta
	f.runs[runID] = run
	return run, nil
}

func (f *fakeRunRepo) SetPingMessage(ctx context.Context, guildID string, runID int64, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[runID]
	run.PingChannelID = channelID
	run.PingMessageID = messageID
	f.runs[runID] = run
	return nil
}

func (f *fakeRunRepo) SetScreenshotURL(ctx context.Context, guildID string, runID int64, url string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	if run.Status.Terminal() {
		return domain.Run{}, repo.ErrRunTerminal
	}
	run.ScreenshotURL = url
	f.runs[runID] = run
	return run, nil
}

type fakeResolver struct {
	roleID string
	err    error
}

func (f fakeResolver) ResolveOrganizerRole(ctx context.Context, guildID string) (string, bool, error) {
	return f.roleID, f.roleID != "", f.err
}

// recordingEffects counts committed changes and can block to widen races.
type recordingEffects struct {
	mu      sync.Mutex
	changes []domain.RunChange
	delay   time.Duration
}

func (r *recordingEffects) RunChanged(ctx context.Context, change domain.RunChange) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingEffects) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (r *recordingNotifier) NotifyRunChanged(run domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

type fakeScreenshots struct {
	err      error
	afterPut func()
	removed  []string
}

func (f *fakeScreenshots) Put(ctx context.Context, guildID string, runID int64, contentType string, body io.Reader, size int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.afterPut != nil {
		f.afterPut()
	}
	return "https://cdn.example/shot.png", nil
}

func (f *fakeScreenshots) Remove(ctx context.Context, url string) error {
	f.removed = append(f.removed, url)
	return nil
}

const (
	testGuild     = "g1"
	organizerID   = "u-org"
	staffRoleID   = "r-staff"
	outsiderID    = "u-out"
	staffMemberID = "u-staff"
)

var errBoom = errors.New("boom")

type harness struct {
	svc      *Service
	repo     *fakeRunRepo
	effects  *recordingEffects
	notifier *recordingNotifier
	locks    *lock.Memory

	mu  sync.Mutex
	now time.Time
}

func newHarness() *harness {
	h := &harness{
		repo:     newFakeRunRepo(),
		effects:  &recordingEffects{},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
	h.locks = lock.NewMemory(slog.New(slog.NewTextHandler(io.Discard, nil)), lock.WithClock(h.clock))
	svc, err := New(Deps{
		Runs:        h.repo,
		Gate:        access.NewGate(fakeResolver{roleID: staffRoleID}),
		Locks:       h.locks,
		Catalog:     catalog.Default(),
		Effects:     h.effects,
		Notifier:    h.notifier,
		Screenshots: &fakeScreenshots{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         h.clock,
	})
	if err != nil {
		panic(err)
	}
	h.svc = svc
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) seed(status domain.RunStatus, mutate ...func(*domain.Run)) domain.Run {
	run := domain.Run{
		GuildID:     testGuild,
		DungeonKey:  "shatters",
		OrganizerID: organizerID,
		Status:      status,
		CreatedAt:   h.now.Add(-time.Hour),
		Party:       "Alpha",
		Location:    "USWest",
		RoleID:      "r-run",
	}
	if status != domain.RunStatusOpen {
		started := h.now.Add(-30 * time.Minute)
		run.StartedAt = &started
	}
	if status.Terminal() {
		ended := h.now.Add(-10 * time.Minute)
		run.EndedAt = &ended
	}
	for _, fn := range mutate {
		fn(&run)
	}
	return h.repo.put(run)
}

func organizer() Actor {
	return Actor{ID: organizerID, Label: "Org"}
}

func outsider() Actor {
	return Actor{ID: outsiderID, Label: "Out"}
}

func staff() Actor {
	return Actor{ID: staffMemberID, Label: "Staff", Roles: []string{staffRoleID}}
}

func (h *harness) transition(runID int64, to domain.RunStatus, actor Actor) (RunView, error) {
	return h.svc.Transition(context.Background(), TransitionRequest{GuildID: testGuild, RunID: runID, To: to, Actor: actor, RequestID: "req-1"})
}
