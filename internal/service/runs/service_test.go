package runs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/sjkd23/console-sub003/internal/access"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/metrics"
	"github.com/sjkd23/console-sub003/internal/repo"
)

func assertCode(t *testing.T, err error, want ErrorCode) *TransitionError {
	t.Helper()
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError %s, got %v", want, err)
	}
	if te.Code != want {
		t.Fatalf("code=%s, want %s (err=%v)", te.Code, want, err)
	}
	return te
}

func TestTransition_OpenToEndedIsInvalid(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusOpen)

	_, err := h.transition(run.ID, domain.RunStatusEnded, organizer())
	assertCode(t, err, CodeInvalidTransition)
	if got := h.repo.stored(run.ID); got.Status != domain.RunStatusOpen || got.EndedAt != nil {
		t.Fatalf("run mutated: %+v", got)
	}
	if h.effects.count() != 0 {
		t.Fatalf("no side effects expected")
	}
}

func TestTransition_TableCompleteness(t *testing.T) {
	for _, from := range domain.RunStatuses {
		for _, to := range domain.RunStatuses {
			h := newHarness()
			run := h.seed(from)
			before := h.repo.stored(run.ID)

			_, err := h.transition(run.ID, to, organizer())
			if domain.CanTransition(from, to) {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected err=%v", from, to, err)
				}
				continue
			}
			if err == nil {
				t.Fatalf("%s -> %s: expected rejection", from, to)
			}
			after := h.repo.stored(run.ID)
			if after.Status != before.Status || after.EndedAt != before.EndedAt || after.StartedAt != before.StartedAt {
				t.Fatalf("%s -> %s: run mutated", from, to)
			}
			want := CodeInvalidTransition
			if from.Terminal() {
				want = CodeAlreadyTerminal
			}
			assertCode(t, err, want)
		}
	}
}

func TestTransition_TerminalIsImmutable(t *testing.T) {
	for _, status := range []domain.RunStatus{domain.RunStatusEnded, domain.RunStatusCancelled} {
		h := newHarness()
		run := h.seed(status)
		before := h.repo.stored(run.ID)
		for _, to := range domain.RunStatuses {
			_, err := h.transition(run.ID, to, organizer())
			assertCode(t, err, CodeAlreadyTerminal)
		}
		after := h.repo.stored(run.ID)
		if after.Status != before.Status || !after.EndedAt.Equal(*before.EndedAt) || after.UpdatedAt != before.UpdatedAt {
			t.Fatalf("terminal run changed: before=%+v after=%+v", before, after)
		}
	}
}

func TestTransition_MissingPartyLocation(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusOpen, func(r *domain.Run) { r.Party = "" })

	_, err := h.transition(run.ID, domain.RunStatusLive, organizer())
	te := assertCode(t, err, CodeMissingPartyLocation)
	if te.Detail.Missing == nil || !te.Detail.Missing.Party || te.Detail.Missing.Location {
		t.Fatalf("unexpected missing detail: %+v", te.Detail.Missing)
	}
	if h.repo.stored(run.ID).Status != domain.RunStatusOpen {
		t.Fatalf("status changed")
	}

	run = h.seed(domain.RunStatusOpen, func(r *domain.Run) {
		r.OrganizerID = "someone-else"
		r.Party = "  "
		r.Location = ""
	})
	_, err = h.transition(run.ID, domain.RunStatusLive, Actor{ID: "someone-else"})
	te = assertCode(t, err, CodeMissingPartyLocation)
	if !te.Detail.Missing.Party || !te.Detail.Missing.Location {
		t.Fatalf("expected both fields missing: %+v", te.Detail.Missing)
	}
}

func TestTransition_ScreenshotGating(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusOpen, func(r *domain.Run) { r.DungeonKey = "o3" })

	_, err := h.transition(run.ID, domain.RunStatusLive, organizer())
	assertCode(t, err, CodeMissingScreenshot)

	if _, err := h.svc.AttachScreenshot(context.Background(), testGuild, run.ID, organizer(), "image/png", nil, 10); err != nil {
		t.Fatalf("AttachScreenshot() err=%v", err)
	}
	view, err := h.transition(run.ID, domain.RunStatusLive, organizer())
	if err != nil {
		t.Fatalf("transition after screenshot err=%v", err)
	}
	if view.Status != "live" || view.StartedAt == nil || !view.RequiresScreenshot {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestTransition_MutualExclusion(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness()
		h.effects.delay = 20 * time.Millisecond
		run := h.seed(domain.RunStatusLive)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for n := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[n] = h.transition(run.ID, domain.RunStatusEnded, organizer())
			}()
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			var inProgress *InProgressError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &inProgress):
			default:
				assertCode(t, err, CodeAlreadyTerminal)
			}
		}
		if successes != 1 {
			t.Fatalf("successes=%d, want 1 (errs=%v)", successes, errs)
		}
		if h.effects.count() != 1 || h.repo.commits != 1 {
			t.Fatalf("side effects=%d commits=%d, want 1/1", h.effects.count(), h.repo.commits)
		}
	}
}

func TestTransition_LostCompareAndSetRevalidates(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusLive)
	h.repo.beforeCommit = func(r *domain.Run) { r.Status = domain.RunStatusEnded }

	_, err := h.transition(run.ID, domain.RunStatusCancelled, organizer())
	assertCode(t, err, CodeAlreadyTerminal)
	if h.effects.count() != 0 {
		t.Fatalf("no side effects expected")
	}

	run = h.seed(domain.RunStatusOpen, func(r *domain.Run) { r.OrganizerID = "u-2" })
	h.repo.beforeCommit = func(r *domain.Run) { r.Status = domain.RunStatusLive }
	if _, err := h.transition(run.ID, domain.RunStatusCancelled, Actor{ID: "u-2"}); err != nil {
		t.Fatalf("retry against live run err=%v", err)
	}
	if h.effects.count() != 1 || h.effects.changes[0].From != domain.RunStatusLive {
		t.Fatalf("unexpected changes: %+v", h.effects.changes)
	}
}

func TestTransition_AuthorizationEnforced(t *testing.T) {
	h := newHarness()
	for _, status := range domain.RunStatuses {
		run := h.seed(status)
		before := h.repo.stored(run.ID)
		for _, to := range domain.RunStatuses {
			_, err := h.transition(run.ID, to, outsider())
			te := assertCode(t, err, CodeNotOrganizer)
			if te.Detail.Message == "" {
				t.Fatalf("expected denial message")
			}
		}
		if after := h.repo.stored(run.ID); after.Status != before.Status {
			t.Fatalf("run mutated by outsider")
		}
	}
	if h.effects.count() != 0 {
		t.Fatalf("no side effects expected")
	}

	run := h.seed(domain.RunStatusLive, func(r *domain.Run) { r.OrganizerID = "u-3" })
	if _, err := h.transition(run.ID, domain.RunStatusEnded, staff()); err != nil {
		t.Fatalf("staff transition err=%v", err)
	}
}

func TestTransition_LockExpirySelfHeals(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusLive)
	key := TransitionLockKey(run.ID, domain.RunStatusEnded)
	if res, _ := h.locks.Acquire(context.Background(), key, "crashed", "Crashed", lock.DefaultTTL); !res.Acquired {
		t.Fatalf("setup acquire failed")
	}

	_, err := h.transition(run.ID, domain.RunStatusEnded, organizer())
	var inProgress *InProgressError
	if !errors.As(err, &inProgress) || inProgress.HolderLabel != "Crashed" {
		t.Fatalf("err=%v, want in-progress by Crashed", err)
	}
	if _, ok := CodeOf(err); ok {
		t.Fatalf("lock contention must not carry a code")
	}

	h.advance(lock.DefaultTTL + time.Second)
	if _, err := h.transition(run.ID, domain.RunStatusEnded, organizer()); err != nil {
		t.Fatalf("transition after expiry err=%v", err)
	}
	if locked, _ := h.locks.IsLocked(context.Background(), key); locked {
		t.Fatalf("lock should be released after transition")
	}
}

func TestTransition_NotFoundAndInternal(t *testing.T) {
	h := newHarness()
	_, err := h.transition(404, domain.RunStatusLive, organizer())
	assertCode(t, err, CodeRunNotFound)

	run := h.seed(domain.RunStatusLive)
	h.repo.transitionErr = errBoom
	_, err = h.transition(run.ID, domain.RunStatusEnded, organizer())
	te := assertCode(t, err, CodeInternal)
	if !errors.Is(te, errBoom) {
		t.Fatalf("expected wrapped cause, got %v", te)
	}
	if h.effects.count() != 0 {
		t.Fatalf("failed commit must not fan out")
	}

	h.repo.transitionErr = nil
	h.repo.getErr = errBoom
	_, err = h.transition(run.ID, domain.RunStatusEnded, organizer())
	assertCode(t, err, CodeInternal)

	h.repo.getErr = nil
	_, err = h.transition(run.ID, "paused", organizer())
	assertCode(t, err, CodeInvalidTransition)
}

func TestTransition_ResolverFailureIsInternal(t *testing.T) {
	h := newHarness()
	h.svc.gate = access.NewGate(fakeResolver{err: errBoom})
	run := h.seed(domain.RunStatusLive)
	_, err := h.transition(run.ID, domain.RunStatusEnded, outsider())
	assertCode(t, err, CodeInternal)
}

func TestEndToEndScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	created, err := h.svc.Create(ctx, CreateRequest{GuildID: testGuild, DungeonKey: "shatters", Organizer: organizer(), RoleID: "r-run"})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if created.Status != "open" {
		t.Fatalf("status=%s", created.Status)
	}

	_, err = h.transition(created.ID, domain.RunStatusLive, organizer())
	te := assertCode(t, err, CodeMissingPartyLocation)
	if !te.Detail.Missing.Party || !te.Detail.Missing.Location {
		t.Fatalf("expected both missing")
	}

	party, location := "Alpha", "Server12"
	if _, err := h.svc.Update(ctx, testGuild, created.ID, organizer(), repo.RunPatch{Party: &party, Location: &location}); err != nil {
		t.Fatalf("Update() err=%v", err)
	}

	live, err := h.transition(created.ID, domain.RunStatusLive, organizer())
	if err != nil {
		t.Fatalf("go live err=%v", err)
	}
	if live.Status != "live" || live.StartedAt == nil {
		t.Fatalf("unexpected live view: %+v", live)
	}

	_, err = h.transition(created.ID, domain.RunStatusEnded, outsider())
	assertCode(t, err, CodeNotOrganizer)
	if h.repo.stored(created.ID).Status != domain.RunStatusLive {
		t.Fatalf("outsider changed status")
	}

	h.advance(45 * time.Minute)
	ended, err := h.transition(created.ID, domain.RunStatusEnded, organizer())
	if err != nil {
		t.Fatalf("end err=%v", err)
	}
	if ended.Status != "ended" || ended.EndedAt == nil || ended.DurationSeconds == nil || *ended.DurationSeconds != int64(45*60) {
		t.Fatalf("unexpected ended view: %+v", ended)
	}

	_, err = h.transition(created.ID, domain.RunStatusEnded, organizer())
	assertCode(t, err, CodeAlreadyTerminal)

	if h.effects.count() != 2 {
		t.Fatalf("side effects=%d, want 2", h.effects.count())
	}
	last := h.effects.changes[1]
	if last.From != domain.RunStatusLive || last.To != domain.RunStatusEnded || last.Run.RoleID != "r-run" || last.RequestID != "req-1" {
		t.Fatalf("unexpected change: %+v", last)
	}
}

func TestCheckAccess(t *testing.T) {
	h := newHarness()
	run := h.seed(domain.RunStatusLive)
	ctx := context.Background()

	got, err := h.svc.CheckAccess(ctx, testGuild, run.ID, organizer())
	if err != nil || !got.Allowed || !got.IsOriginalOrganizer || got.NeedsConfirmation {
		t.Fatalf("organizer access=%+v err=%v", got, err)
	}
	got, err = h.svc.CheckAccess(ctx, testGuild, run.ID, staff())
	if err != nil || !got.Allowed || got.IsOriginalOrganizer || !got.NeedsConfirmation {
		t.Fatalf("staff access=%+v err=%v", got, err)
	}
	got, err = h.svc.CheckAccess(ctx, testGuild, run.ID, outsider())
	if err != nil || got.Allowed || got.Message == "" {
		t.Fatalf("outsider access=%+v err=%v", got, err)
	}
	_, err = h.svc.CheckAccess(ctx, testGuild, 999, organizer())
	assertCode(t, err, CodeRunNotFound)
}

func TestTransition_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness()
		from := rapid.SampledFrom(domain.RunStatuses).Draw(rt, "from")
		to := rapid.SampledFrom(domain.RunStatuses).Draw(rt, "to")
		dungeon := rapid.SampledFrom([]string{"o3", "shatters"}).Draw(rt, "dungeon")
		hasParty := rapid.Bool().Draw(rt, "party")
		hasLocation := rapid.Bool().Draw(rt, "location")
		hasScreenshot := rapid.Bool().Draw(rt, "screenshot")
		actorKind := rapid.SampledFrom([]string{"organizer", "staff", "outsider"}).Draw(rt, "actor")

		run := h.seed(from, func(r *domain.Run) {
			r.DungeonKey = dungeon
			r.Party, r.Location, r.ScreenshotURL = "", "", ""
			if hasParty {
				r.Party = "Alpha"
			}
			if hasLocation {
				r.Location = "USWest"
			}
			if hasScreenshot {
				r.ScreenshotURL = "https://cdn.example/x.png"
			}
		})
		actor := map[string]Actor{"organizer": organizer(), "staff": staff(), "outsider": outsider()}[actorKind]

		_, err := h.transition(run.ID, to, actor)

		var want ErrorCode
		switch {
		case actorKind == "outsider":
			want = CodeNotOrganizer
		case from.Terminal():
			want = CodeAlreadyTerminal
		case !domain.CanTransition(from, to):
			want = CodeInvalidTransition
		case to == domain.RunStatusLive && (!hasParty || !hasLocation):
			want = CodeMissingPartyLocation
		case to == domain.RunStatusLive && dungeon == "o3" && !hasScreenshot:
			want = CodeMissingScreenshot
		}

		stored := h.repo.stored(run.ID)
		if want == "" {
			if err != nil {
				rt.Fatalf("expected success, got %v", err)
			}
			if stored.Status != to || h.effects.count() != 1 {
				rt.Fatalf("expected committed %s with one fan-out, got %s/%d", to, stored.Status, h.effects.count())
			}
			return
		}
		code, ok := CodeOf(err)
		if !ok || code != want {
			rt.Fatalf("code=%v, want %s (err=%v)", code, want, err)
		}
		if stored.Status != from || h.effects.count() != 0 {
			rt.Fatalf("rejection mutated run or fanned out")
		}
	})
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := New(Deps{Runs: newFakeRunRepo(), Gate: access.NewGate(nil)}); err == nil {
		t.Fatalf("expected error without lock manager")
	}
}

func TestTransition_UnknownStatusMetricLabel(t *testing.T) {
	h := newHarness()
	m := metrics.New()
	h.svc.metrics = m
	run := h.seed(domain.RunStatusOpen)

	for _, raw := range []string{"bogus-1", "bogus-2"} {
		_, err := h.transition(run.ID, domain.RunStatus(raw), organizer())
		assertCode(t, err, CodeInvalidTransition)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	if !strings.Contains(out, `raids_run_transitions_total{outcome="invalid_status_transition",to="unknown"} 2`) {
		t.Fatalf("expected unknown targets under one label:\n%s", out)
	}
	if strings.Contains(out, "bogus") {
		t.Fatalf("raw status leaked into metric labels")
	}
}
