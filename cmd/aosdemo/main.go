// Command aosdemo wires one address space, one LMP memory server, one
// LMP spawn server with cross-core UMP forwarding, and the page-fault
// handler together end to end, against the in-memory mock kernel. It
// exists to exercise the whole module the way a real userland would,
// not as a production entry point.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"aos/addrspace"
	"aos/capability"
	"aos/defs"
	"aos/diag"
	"aos/lmp"
	"aos/memserv"
	"aos/pagefault"
	"aos/spawnserv"
	"aos/ump"
)

type stdoutTerminal struct{}

func (stdoutTerminal) PutChar(ch byte) error {
	fmt.Printf("%c", ch)
	return nil
}

func (stdoutTerminal) GetChar() (byte, error) {
	return '\n', nil
}

type demoSpawner struct {
	core defs.CoreID
	next int
}

func (d *demoSpawner) Spawn(name string) (defs.Err_t, int) {
	d.next++
	log.Printf("core %d: spawned %q as pid %d", d.core, name, d.next)
	return 0, d.next
}

func main() {
	k := capability.NewMock()
	l1, err := k.NewL2Table()
	if err != 0 {
		log.Fatalf("bootstrap L1 table: %v", err)
	}
	space := addrspace.NewBootstrap(k, l1)

	mem := memserv.NewHandler(k, defs.MaxAllocBytes)
	memCh := lmp.NewChannel(4)
	memSrv := lmp.NewServer(memCh)
	memSrv.Register(defs.MemoryAlloc, mem.MemoryAlloc)
	memSrv.Register(defs.MemoryFree, mem.MemoryFree)

	umpCh := ump.NewChannel(8)
	coreAEnd := ump.Bind(umpCh, true)
	coreBEnd := ump.Bind(umpCh, false)

	localA := &demoSpawner{core: 0}
	localB := &demoSpawner{core: 1}
	spawnHandler := &spawnserv.Handler{LocalCore: 0, Local: localA, Remote: coreAEnd}
	forwarder := &spawnserv.Forwarder{Endpoint: coreBEnd, Local: localB}

	spawnCh := lmp.NewChannel(4)
	spawnSrv := lmp.NewServer(spawnCh)
	spawnSrv.Register(defs.Spawn, spawnHandler.Spawn)

	termCh := lmp.NewChannel(4)
	termSrv := lmp.NewServer(termCh)
	lmp.RegisterTerminal(termSrv, stdoutTerminal{})

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { memSrv.Serve(gctx); return nil })
	g.Go(func() error { spawnSrv.Serve(gctx); return nil })
	g.Go(func() error { termSrv.Serve(gctx); return nil })
	g.Go(func() error { forwarder.Serve(gctx); return nil })

	memCli := lmp.NewClient(memCh)
	status, ramCap := memCli.MemoryAlloc(4096, 4096)
	fmt.Printf("memory alloc: status=%v cap=%v\n", status, ramCap)

	spawnCli := lmp.NewClient(spawnCh)
	localStatus, localPid := spawnCli.Spawn(0, "shell")
	fmt.Printf("local spawn: status=%v pid=%d\n", localStatus, localPid)

	remoteStatus, remotePid := spawnCli.Spawn(1, "networkd")
	fmt.Printf("remote spawn: status=%v pid=%d\n", remoteStatus, remotePid)

	termCli := lmp.NewClient(termCh)
	for _, ch := range []byte("serial ok\n") {
		termCli.TerminalPutChar(ch)
	}

	pf := &pagefault.Handler{Space: space, Frames: mem}
	v, aerr := space.Alloc(8192)
	if aerr != 0 {
		log.Fatalf("reserve demo region: %v", aerr)
	}
	demonstrateLazyFault(pf, v)
	demonstrateLazyFault(pf, v+4096)

	var buf bytes.Buffer
	if err := diag.WriteVSpaceProfile(&buf, vspaceSnapshot(space)); err != nil {
		log.Fatalf("write vspace profile: %v", err)
	}
	fmt.Printf("vspace pprof snapshot: %d bytes\n", buf.Len())

	cancel()
	if err := g.Wait(); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
}

func demonstrateLazyFault(pf *pagefault.Handler, addr uintptr) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(pagefault.Fatal); ok {
				log.Fatalf("fatal fault: %v", f)
			}
			panic(r)
		}
	}()
	if err := pf.Handle(addr); err != nil {
		fmt.Printf("fault at %#x: %v\n", addr, err)
		return
	}
	fmt.Printf("fault at %#x materialised\n", addr)
}

func vspaceSnapshot(space *addrspace.AddressSpace) []diag.Region {
	var regions []diag.Region
	for _, r := range space.VSpace.AllocatedList() {
		regions = append(regions, diag.Region{Base: r.Base, Size: r.Size, Label: "allocated"})
	}
	for _, r := range space.VSpace.FreeList() {
		regions = append(regions, diag.Region{Base: r.Base, Size: r.Size, Label: "free"})
	}
	return regions
}
