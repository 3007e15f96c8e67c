package spawnserv

import (
	"context"
	"testing"

	"aos/defs"
	"aos/lmp"
	"aos/ump"
)

type fakeLocal struct {
	nextPid int
	calls   []string
}

func (f *fakeLocal) Spawn(name string) (defs.Err_t, int) {
	f.calls = append(f.calls, name)
	f.nextPid++
	return 0, f.nextPid
}

func TestLocalSpawnDispatch(t *testing.T) {
	local := &fakeLocal{}
	h := &Handler{LocalCore: 0, Local: local}

	ch := lmp.NewChannel(1)
	srv := lmp.NewServer(ch)
	srv.Register(defs.Spawn, h.Spawn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := lmp.NewClient(ch)
	status, pid := cli.Spawn(defs.CoreID(0), "shell")
	if status != 0 {
		t.Fatalf("spawn: %v", status)
	}
	if pid != 1 {
		t.Fatalf("unexpected pid: %d", pid)
	}
	if len(local.calls) != 1 || local.calls[0] != "shell" {
		t.Fatalf("local spawner not invoked correctly: %+v", local.calls)
	}
}

func TestCrossCoreForwarding(t *testing.T) {
	umpCh := ump.NewChannel(4)
	coreAEnd := ump.Bind(umpCh, true)
	coreBEnd := ump.Bind(umpCh, false)

	remoteLocal := &fakeLocal{}
	forwarder := &Forwarder{Endpoint: coreBEnd, Local: remoteLocal}
	fwdCtx, fwdCancel := context.WithCancel(context.Background())
	defer fwdCancel()
	go forwarder.Serve(fwdCtx)

	h := &Handler{LocalCore: 0, Local: &fakeLocal{}, Remote: coreAEnd}
	ch := lmp.NewChannel(1)
	srv := lmp.NewServer(ch)
	srv.Register(defs.Spawn, h.Spawn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := lmp.NewClient(ch)
	status, pid := cli.Spawn(defs.CoreID(1), "networkd")
	if status != 0 {
		t.Fatalf("spawn: %v", status)
	}
	if pid != 1 {
		t.Fatalf("unexpected pid from remote core: %d", pid)
	}
	if len(remoteLocal.calls) != 1 || remoteLocal.calls[0] != "networkd" {
		t.Fatalf("remote spawner not invoked: %+v", remoteLocal.calls)
	}
}
