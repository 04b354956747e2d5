package proc

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/vm"
)

// ErrNoSuchChild is returned by Wait for an id that is not a child of the caller
var ErrNoSuchChild = errno.New(errno.ECHILD, "no such child process")

// Process is one user program: an id, a place in the process tree, an address space and,
// once it has exited, a status for its parent to collect.
//
// A process with a parent is not destroyed when it exits. It stays in its parent's child
// list as a completed record until the parent either collects it with Wait or exits itself,
// and whichever of those happens first destroys it. A process with no parent destroys
// itself on exit. Locks are always taken parent first, then child.
type Process struct {
	table *Table
	pid   PID
	name  string

	mutex    sync.Mutex
	exitCond *sync.Cond

	parent   *Process
	children []*Process

	exited bool
	status WaitStatus

	as        *vm.AddressSpace
	destroyed bool
}

func newProcess(table *Table, pid PID, name string) *Process {
	p := &Process{
		table: table,
		pid:   pid,
		name:  name,
	}
	p.exitCond = sync.NewCond(&p.mutex)

	return p
}

func (p *Process) PID() PID     { return p.pid }
func (p *Process) Name() string { return p.name }

// Parent returns the parent process, or nil once the process has been orphaned
func (p *Process) Parent() *Process {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.parent
}

// Children returns the live and completed children that have not been reaped
func (p *Process) Children() []*Process {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	children := make([]*Process, len(p.children))
	copy(children, p.children)
	return children
}

// Exited reports whether Exit has been called, and with what status
func (p *Process) Exited() (bool, WaitStatus) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.exited, p.status
}

// AddressSpace returns the process's current address space, which may be nil
func (p *Process) AddressSpace() *vm.AddressSpace {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.as
}

// SetAddressSpace installs as and returns the address space it replaces. The caller becomes
// responsible for the old one.
func (p *Process) SetAddressSpace(as *vm.AddressSpace) *vm.AddressSpace {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	old := p.as
	p.as = as
	return old
}

// AddChild links child under p. The child must not already have a parent.
func (p *Process) AddChild(child *Process) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	child.mutex.Lock()
	utils.Assert(child.parent == nil, "process %d already has parent", child.pid)
	child.parent = p
	child.mutex.Unlock()

	p.children = append(p.children, child)
}

// RemoveChild unlinks child from p without destroying it. It is used to back out a fork
// whose child never ran.
func (p *Process) RemoveChild(child *Process) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if index := p.childIndex(child.pid); index >= 0 {
		p.children = append(p.children[:index], p.children[index+1:]...)
	}

	child.mutex.Lock()
	child.parent = nil
	child.mutex.Unlock()
}

func (p *Process) childIndex(pid PID) int {
	for i, child := range p.children {
		if child.pid == pid {
			return i
		}
	}

	return -1
}

// Exit publishes status and wakes anyone waiting on p. Children that have already exited
// are destroyed and children that are still running are orphaned, so each of them destroys
// itself when it exits.
//
// The return value is true if p has no parent, in which case nobody will reap it and the
// caller must Destroy it.
func (p *Process) Exit(status WaitStatus) bool {
	var completed []*Process

	p.mutex.Lock()
	utils.Assert(!p.exited, "process %d exited twice", p.pid)

	for _, child := range p.children {
		child.mutex.Lock()
		if child.exited {
			completed = append(completed, child)
		}
		child.parent = nil
		child.mutex.Unlock()
	}
	p.children = nil

	p.exited = true
	p.status = status
	orphan := p.parent == nil
	p.exitCond.Broadcast()
	p.mutex.Unlock()

	for _, child := range completed {
		child.Destroy()
	}

	return orphan
}

// Wait blocks until the child with the given id has exited, then destroys it and returns
// its status. Each child can be waited for exactly once: a second Wait fails with
// ErrNoSuchChild.
func (p *Process) Wait(pid PID) (WaitStatus, error) {
	p.mutex.Lock()
	index := p.childIndex(pid)
	if index < 0 {
		p.mutex.Unlock()
		return 0, errors.Wrapf(ErrNoSuchChild, "pid %d is not a child of %d", pid, p.pid)
	}
	child := p.children[index]
	p.mutex.Unlock()

	child.mutex.Lock()
	for !child.exited {
		child.exitCond.Wait()
	}
	status := child.status
	child.mutex.Unlock()

	p.mutex.Lock()
	if index = p.childIndex(pid); index >= 0 {
		p.children = append(p.children[:index], p.children[index+1:]...)
	}
	p.mutex.Unlock()

	child.Destroy()

	return status, nil
}

// Destroy releases the process's address space, if it still has one, and its id. A process
// is destroyed exactly once.
func (p *Process) Destroy() {
	p.mutex.Lock()
	utils.Assert(!p.destroyed, "process %d destroyed twice", p.pid)
	p.destroyed = true
	as := p.as
	p.as = nil
	p.mutex.Unlock()

	if as != nil {
		as.Destroy()
	}
	p.table.release(p)
}
