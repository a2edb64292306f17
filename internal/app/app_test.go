package app

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/sjkd23/console-sub003/internal/discord"
	"github.com/sjkd23/console-sub003/internal/domain"
	"github.com/sjkd23/console-sub003/internal/effects"
	"github.com/sjkd23/console-sub003/internal/executor"
	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/platform/auth"
)

func TestOpenLocks_Memory(t *testing.T) {
	locks, err := OpenLocks(context.Background(), lock.Config{Backend: lock.BackendMemory}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenLocks() err=%v", err)
	}
	if locks.Memory == nil || locks.Manager == nil || locks.Ping != nil {
		t.Fatalf("unexpected locks: %+v", locks)
	}
	if err := locks.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
}

func TestNewAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), auth.Config{Mode: auth.ModeDev, DevSubject: "dev"})
	if err != nil {
		t.Fatalf("dev err=%v", err)
	}
	if _, ok := a.(*auth.DevAuthenticator); !ok {
		t.Fatalf("expected dev authenticator, got %T", a)
	}

	a, err = NewAuthenticator(context.Background(), auth.Config{Mode: auth.ModeInternal, InternalSecret: "s"})
	if err != nil {
		t.Fatalf("internal err=%v", err)
	}
	if _, ok := a.(*auth.GatewayHeadersAuthenticator); !ok {
		t.Fatalf("expected headers authenticator, got %T", a)
	}

	if _, err := NewAuthenticator(context.Background(), auth.Config{Mode: auth.ModeInternal}); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

type noopAwarder struct{}

func (noopAwarder) AwardForEndedRun(context.Context, domain.Run) (bool, error) { return false, nil }

type noopSubmitter struct{}

func (noopSubmitter) Submit(executor.Task) error { return nil }

type noopPings struct{}

func (noopPings) SetPingMessage(context.Context, string, int64, string, string) error { return nil }

func coordinatorNames(cs []effects.Coordinator) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name())
	}
	return names
}

func TestCoordinators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := EffectDeps{
		Logger:   logger,
		Pings:    noopPings{},
		Quota:    noopAwarder{},
		Executor: noopSubmitter{},
		Audit:    effects.LogAuditSink{Logger: logger},
		Registry: effects.NewRegistry(nil),
	}

	cs, err := Coordinators(deps)
	if err != nil {
		t.Fatalf("Coordinators() err=%v", err)
	}
	if got, want := coordinatorNames(cs), []string{"quota", "audit", "notify"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("without discord: got %v want %v", got, want)
	}

	deps.Discord = discord.Config{Token: "token", RequestTimeout: time.Second}
	cs, err = Coordinators(deps)
	if err != nil {
		t.Fatalf("Coordinators() err=%v", err)
	}
	if got, want := coordinatorNames(cs), []string{"role_cleanup", "ping", "quota", "audit", "notify"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("with discord: got %v want %v", got, want)
	}

	cs, err = Coordinators(EffectDeps{})
	if err != nil || len(cs) != 0 {
		t.Fatalf("empty deps: %v %v", coordinatorNames(cs), err)
	}
}
