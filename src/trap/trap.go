// Package trap decodes a trapped user system call from a process's
// trap frame, dispatches it to a handler, and encodes the handler's
// result back into the frame (spec.md §4.6). Arguments are never read
// by dereferencing a raw user pointer: every string or buffer argument
// goes through vm.CopyIn/CopyOut/CopyInStr, the same user-copy
// primitives the rest of the kernel uses.
package trap

import (
	"defs"
	"dir"
	"file"
	"fs"
	"proc"
	"stat"
	"ustr"
	"vm"
)

// maxPath bounds a single path argument's length (spec.md §4.10).
const maxPath = 128

// handler decodes its own arguments from tf and returns either a
// one-register result or an error.
type handler func(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t)

// SYS_FORK is added in init: sysFork reaches Dispatch (and so table)
// through Loop, which a package-level initializer cannot refer back to.
func init() {
	table[defs.SYS_FORK] = sysFork
}

var table = map[uint64]handler{
	defs.SYS_EXIT:    sysExit,
	defs.SYS_WAIT:    sysWait,
	defs.SYS_GETPID:  sysGetpid,
	defs.SYS_KILL:    sysKill,
	defs.SYS_READ:    sysRead,
	defs.SYS_WRITE:   sysWrite,
	defs.SYS_CLOSE:   sysClose,
	defs.SYS_DUP:     sysDup,
	defs.SYS_OPEN:    sysOpen,
	defs.SYS_MKDIR:   sysMkdir,
	defs.SYS_UNLINK:  sysUnlink,
	defs.SYS_LINK:    sysLink,
	defs.SYS_CHDIR:   sysChdir,
	defs.SYS_FSTAT:   sysFstat,
	defs.SYS_SLEEP:   sysSleep,
	defs.SYS_EXEC:    sysExec,
	defs.SYS_SBRK:    sysSbrk,
	defs.SYS_PIPE:    sysPipe,
	defs.SYS_MKNOD:   sysMknod,
	defs.SYS_REBOOT:  sysNoop,
	defs.SYS_HALT:    sysNoop,
	defs.SYS_ABORT:   sysNoop,
}

// Dispatch decodes the syscall number out of p's trap frame, runs the
// matching handler, and stores its result (or the negative error code)
// back into a0 (spec.md §4.6's "a0 carries the return value, or the
// negated error code on failure"). It is called once per SYS_ECALL
// trap with interrupts re-enabled (spec.md §4.3).
func Dispatch(p *proc.Proc_t, pt *proc.Ptable_t) {
	_, _, _, _, _, _, sysno := p.Tf.Args()
	h, ok := table[sysno]
	if !ok {
		p.Tf.SetReturn(^uint64(0))
		return
	}
	ret, err := h(p, pt)
	// After SYS_EXIT the parent may already have reaped p's slot, so its
	// trap frame is no longer p's to write.
	if sysno == uint64(defs.SYS_EXIT) {
		return
	}
	if err != defs.EOK {
		p.Tf.SetReturn(uint64(err))
		return
	}
	p.Tf.SetReturn(ret)
}

func sysFork(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	cpid, err := p.Fork(pt, func(child *proc.Proc_t) {
		Loop(child, pt)
	})
	return uint64(cpid), err
}

func sysExit(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	p.Exit(int(int32(a0)))
	return 0, defs.EOK
}

func sysWait(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	pid, _, err := pt.Wait(p)
	return uint64(pid), err
}

func sysGetpid(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	return uint64(p.Pid), defs.EOK
}

func sysKill(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	return 0, pt.Kill(defs.Pid_t(a0))
}

func sysRead(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, a2, _, _, _, _ := p.Tf.Args()
	f, ok := p.Fds.Get(int(a0))
	if !ok {
		return 0, defs.EFileDescriptorNotFound
	}
	buf := make([]byte, a2)
	n, err := f.Read(buf)
	if err != defs.EOK {
		return 0, err
	}
	if e := vm.CopyOut(p.As.Root, uintptr(a1), buf[:n]); e != defs.EOK {
		return 0, e
	}
	return uint64(n), defs.EOK
}

func sysWrite(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, a2, _, _, _, _ := p.Tf.Args()
	f, ok := p.Fds.Get(int(a0))
	if !ok {
		return 0, defs.EFileDescriptorNotFound
	}
	buf := make([]byte, a2)
	if e := vm.CopyIn(p.As.Root, uintptr(a1), buf); e != defs.EOK {
		return 0, e
	}
	n, err := f.Write(buf)
	return uint64(n), err
}

func sysClose(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	return 0, p.Fds.Close(int(a0))
}

func sysDup(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	nfd, err := p.Fds.Dup(int(a0))
	return uint64(nfd), err
}

func readPath(p *proc.Proc_t, va uint64) (ustr.Ustr, defs.Err_t) {
	s, err := vm.CopyInStr(p.As.Root, uintptr(va), maxPath)
	if err != defs.EOK {
		return ustr.Ustr{}, err
	}
	return ustr.MkUstrSlice([]byte(s)), defs.EOK
}

func sysOpen(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, _, _, _, _, _ := p.Tf.Args()
	flags := defs.OpenFlags(a1)
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}

	var ip *fs.Inode_t
	if flags&defs.O_CREATE != 0 {
		dp, last, err := dir.ResolveParent(pt.Ic(), pt.Root(), p.Cwd, path)
		if err != defs.EOK {
			return 0, err
		}
		pt.Log().Begin_tx()
		pt.Ic().Ilock(dp)
		existing, _, lerr := dir.Lookup(pt.Ic(), dp, last)
		if lerr == defs.EOK {
			ip = existing
		} else {
			ip, err = pt.Ic().Ialloc(defs.T_FILE)
			if err != defs.EOK {
				pt.Ic().Iunlock(dp)
				pt.Ic().Iput(dp)
				pt.Log().End_tx()
				return 0, err
			}
			ip.Nlink = 1
			pt.Ic().Iupdate(ip)
			pt.Ic().Iunlock(ip)
			if err := dir.Link(pt.Ic(), dp, last, ip.Inum); err != defs.EOK {
				pt.Ic().Iput(ip)
				pt.Ic().Iunlock(dp)
				pt.Ic().Iput(dp)
				pt.Log().End_tx()
				return 0, err
			}
		}
		pt.Ic().Iunlock(dp)
		pt.Ic().Iput(dp)
		pt.Log().End_tx()
	} else {
		var err defs.Err_t
		ip, err = dir.Resolve(pt.Ic(), pt.Root(), p.Cwd, path)
		if err != defs.EOK {
			return 0, err
		}
	}

	readable := flags&3 != defs.O_WRONLY
	writable := flags&3 == defs.O_WRONLY || flags&3 == defs.O_RDWR
	pt.Ic().Ilock(ip)
	isDir := ip.Type == defs.T_DIR
	pt.Ic().Iunlock(ip)
	if isDir && writable {
		pt.Ic().Iput(ip)
		return 0, defs.EOpenDirAsWritable
	}
	if flags&defs.O_TRUNC != 0 {
		pt.Log().Begin_tx()
		pt.Ic().Ilock(ip)
		ip.Size = 0
		pt.Ic().Iupdate(ip)
		pt.Ic().Iunlock(ip)
		pt.Log().End_tx()
	}
	f := file.MkInodeFile(pt.Ic(), pt.Log(), ip, readable, writable)
	fd, err := p.Fds.Fdalloc(f)
	if err != defs.EOK {
		f.Close()
		return 0, err
	}
	return uint64(fd), defs.EOK
}

func sysMkdir(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	dp, last, err := dir.ResolveParent(pt.Ic(), pt.Root(), p.Cwd, path)
	if err != defs.EOK {
		return 0, err
	}
	pt.Log().Begin_tx()
	defer pt.Log().End_tx()
	defer pt.Ic().Iput(dp)

	ip, err := pt.Ic().Ialloc(defs.T_DIR)
	if err != defs.EOK {
		return 0, err
	}
	ip.Nlink = 1
	pt.Ic().Iupdate(ip)
	if err := dir.Link(pt.Ic(), ip, ustr.MkUstrDot(), ip.Inum); err != defs.EOK {
		pt.Ic().Iunlock(ip)
		pt.Ic().Iput(ip)
		return 0, err
	}
	if err := dir.Link(pt.Ic(), ip, ustr.DotDot, dp.Inum); err != defs.EOK {
		pt.Ic().Iunlock(ip)
		pt.Ic().Iput(ip)
		return 0, err
	}
	pt.Ic().Iunlock(ip)
	pt.Ic().Ilock(dp)
	if err := dir.Link(pt.Ic(), dp, last, ip.Inum); err != defs.EOK {
		pt.Ic().Iunlock(dp)
		pt.Ic().Iput(ip)
		return 0, err
	}
	dp.Nlink++
	pt.Ic().Iupdate(dp)
	pt.Ic().Iunlock(dp)
	pt.Ic().Iput(ip)
	return 0, defs.EOK
}

func sysUnlink(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	dp, last, err := dir.ResolveParent(pt.Ic(), pt.Root(), p.Cwd, path)
	if err == defs.ECreateRootDir {
		return 0, defs.EUnlinkRootDir
	}
	if err != defs.EOK {
		return 0, err
	}
	defer pt.Ic().Iput(dp)
	if last.Isdot() || last.Isdotdot() {
		return 0, defs.EUnlinkDots
	}
	pt.Log().Begin_tx()
	defer pt.Log().End_tx()
	pt.Ic().Ilock(dp)
	ip, off, lerr := dir.Lookup(pt.Ic(), dp, last)
	if lerr != defs.EOK {
		pt.Ic().Iunlock(dp)
		return 0, lerr
	}
	pt.Ic().Iunlock(dp)
	defer pt.Ic().Iput(ip)

	pt.Ic().Ilock(ip)
	if ip.Inum == fs.RootInum {
		pt.Ic().Iunlock(ip)
		return 0, defs.EUnlinkRootDir
	}
	isDir := ip.Type == defs.T_DIR
	if isDir && !dir.IsEmpty(pt.Ic(), ip) {
		pt.Ic().Iunlock(ip)
		return 0, defs.EDirectoryNotEmpty
	}
	pt.Ic().Iunlock(ip)

	pt.Ic().Ilock(dp)
	if err := dir.Unlinkentry(pt.Ic(), dp, off); err != defs.EOK {
		pt.Ic().Iunlock(dp)
		return 0, err
	}
	if isDir {
		dp.Nlink--
		pt.Ic().Iupdate(dp)
	}
	pt.Ic().Iunlock(dp)

	pt.Ic().Ilock(ip)
	ip.Nlink--
	pt.Ic().Iupdate(ip)
	pt.Ic().Iunlock(ip)
	return 0, defs.EOK
}

func sysLink(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, _, _, _, _, _ := p.Tf.Args()
	oldPath, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	newPath, perr2 := readPath(p, a1)
	if perr2 != defs.EOK {
		return 0, perr2
	}
	ip, err := dir.Resolve(pt.Ic(), pt.Root(), p.Cwd, oldPath)
	if err != defs.EOK {
		return 0, err
	}
	defer pt.Ic().Iput(ip)
	dp, last, perr3 := dir.ResolveParent(pt.Ic(), pt.Root(), p.Cwd, newPath)
	if perr3 != defs.EOK {
		return 0, perr3
	}
	defer pt.Ic().Iput(dp)

	pt.Log().Begin_tx()
	defer pt.Log().End_tx()
	pt.Ic().Ilock(ip)
	if ip.Type == defs.T_DIR {
		pt.Ic().Iunlock(ip)
		return 0, defs.ELinkToNonDirectory
	}
	ip.Nlink++
	pt.Ic().Iupdate(ip)
	pt.Ic().Iunlock(ip)
	pt.Ic().Ilock(dp)
	linkErr := dir.Link(pt.Ic(), dp, last, ip.Inum)
	pt.Ic().Iunlock(dp)
	if linkErr != defs.EOK {
		pt.Ic().Ilock(ip)
		ip.Nlink--
		pt.Ic().Iupdate(ip)
		pt.Ic().Iunlock(ip)
		return 0, linkErr
	}
	return 0, defs.EOK
}

func sysChdir(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	ip, err := dir.Resolve(pt.Ic(), pt.Root(), p.Cwd, path)
	if err != defs.EOK {
		return 0, err
	}
	pt.Ic().Ilock(ip)
	isDir := ip.Type == defs.T_DIR
	pt.Ic().Iunlock(ip)
	if !isDir {
		pt.Ic().Iput(ip)
		return 0, defs.EChdirNotDir
	}
	pt.Ic().Iput(p.Cwd)
	p.Cwd = ip
	return 0, defs.EOK
}

func sysFstat(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, _, _, _, _, _ := p.Tf.Args()
	f, ok := p.Fds.Get(int(a0))
	if !ok {
		return 0, defs.EFileDescriptorNotFound
	}
	var st stat.Stat_t
	if err := f.Stat(&st); err != defs.EOK {
		return 0, err
	}
	if err := vm.CopyOut(p.As.Root, uintptr(a1), st.Bytes()); err != defs.EOK {
		return 0, err
	}
	return 0, defs.EOK
}

func sysSleep(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	for i := uint64(0); i < a0; i++ {
		if p.IsKilled() {
			return 0, defs.ECallerProcessAlreadyKilled
		}
		p.Yield()
	}
	return 0, defs.EOK
}

func sysExec(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, _, _, _, _, _ := p.Tf.Args()
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	ip, err := dir.Resolve(pt.Ic(), pt.Root(), p.Cwd, path)
	if err != defs.EOK {
		return 0, err
	}
	image, lerr := proc.LoadFromFile(pt.Ic(), ip)
	pt.Ic().Iput(ip)
	if lerr != defs.EOK {
		return 0, lerr
	}
	argv, aerr := readArgv(p, a1)
	if aerr != defs.EOK {
		return 0, aerr
	}
	if eerr := p.Exec(pt, image, argv); eerr != defs.EOK {
		return 0, eerr
	}
	return 0, defs.EOK
}

func readArgv(p *proc.Proc_t, va uint64) ([]string, defs.Err_t) {
	var ptrs [defs.MAXARG]uint64
	if err := vm.CopyIn(p.As.Root, uintptr(va), u64SliceBytes(ptrs[:])); err != defs.EOK {
		return nil, err
	}
	var argv []string
	for _, pv := range ptrs {
		if pv == 0 {
			break
		}
		if len(argv) >= defs.MAXARG {
			return nil, defs.EArgumentListTooLarge
		}
		s, err := vm.CopyInStr(p.As.Root, uintptr(pv), maxPath)
		if err != defs.EOK {
			return nil, err
		}
		argv = append(argv, s)
	}
	return argv, defs.EOK
}

func sysSbrk(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	old := p.As.Sz
	n := int64(int32(a0))
	if n >= 0 {
		if err := p.As.GrowTo(old+uintptr(n), vm.PTE_R|vm.PTE_W); err != defs.EOK {
			return 0, err
		}
	} else if uintptr(-n) <= old {
		if err := p.As.ShrinkTo(old - uintptr(-n)); err != defs.EOK {
			return 0, err
		}
	} else {
		return 0, defs.EBadAddress
	}
	return uint64(old), defs.EOK
}

func sysPipe(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, _, _, _, _, _, _ := p.Tf.Args()
	rf, wf := file.MkPipe()
	rfd, err := p.Fds.Fdalloc(rf)
	if err != defs.EOK {
		rf.Close()
		wf.Close()
		return 0, err
	}
	wfd, err := p.Fds.Fdalloc(wf)
	if err != defs.EOK {
		p.Fds.Close(rfd)
		wf.Close()
		return 0, err
	}
	var fds [2]uint32
	fds[0] = uint32(rfd)
	fds[1] = uint32(wfd)
	buf := make([]byte, 8)
	buf[0] = byte(fds[0])
	buf[1] = byte(fds[0] >> 8)
	buf[2] = byte(fds[0] >> 16)
	buf[3] = byte(fds[0] >> 24)
	buf[4] = byte(fds[1])
	buf[5] = byte(fds[1] >> 8)
	buf[6] = byte(fds[1] >> 16)
	buf[7] = byte(fds[1] >> 24)
	if err := vm.CopyOut(p.As.Root, uintptr(a0), buf); err != defs.EOK {
		p.Fds.Close(rfd)
		p.Fds.Close(wfd)
		return 0, err
	}
	return 0, defs.EOK
}

func sysMknod(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	a0, a1, a2, _, _, _, _ := p.Tf.Args()
	path, perr := readPath(p, a0)
	if perr != defs.EOK {
		return 0, perr
	}
	dp, last, err := dir.ResolveParent(pt.Ic(), pt.Root(), p.Cwd, path)
	if err != defs.EOK {
		return 0, err
	}
	defer pt.Ic().Iput(dp)
	pt.Log().Begin_tx()
	defer pt.Log().End_tx()
	ip, err := pt.Ic().Ialloc(defs.T_DEVICE)
	if err != defs.EOK {
		return 0, err
	}
	ip.Major = int16(a1)
	ip.Minor = int16(a2)
	ip.Nlink = 1
	pt.Ic().Iupdate(ip)
	pt.Ic().Iunlock(ip)
	defer pt.Ic().Iput(ip)
	pt.Ic().Ilock(dp)
	defer pt.Ic().Iunlock(dp)
	return 0, dir.Link(pt.Ic(), dp, last, ip.Inum)
}

func sysNoop(p *proc.Proc_t, pt *proc.Ptable_t) (uint64, defs.Err_t) {
	return 0, defs.EOK
}

// Loop is a process's generic kernel thread body: repeatedly wait to
// be resumed (i.e. "trapped into the kernel"), dispatch the pending
// syscall, and -- if an alarm fired during this slice -- redirect
// before returning to user mode (spec.md §4.3's trap/return cycle;
// SPEC_FULL.md §16's alarm supplement). There is no real user-mode
// instruction stream to return to in this rendition, so "return to
// user" is modeled as the loop simply yielding the hart and waiting
// for its next dispatch.
func Loop(p *proc.Proc_t, pt *proc.Ptable_t) {
	for {
		_, _, _, _, _, _, sysno := p.Tf.Args()
		Dispatch(p, pt)
		// SYS_EXIT already tore down p's hart binding; touching p
		// again (even just to check its state) would reach for a
		// hart that is no longer there.
		if sysno == uint64(defs.SYS_EXIT) {
			return
		}
		p.DeliverAlarm()
		if p.IsKilled() {
			p.Exit(-1)
			return
		}
		p.Yield()
	}
}

func u64SliceBytes(s []uint64) []byte {
	buf := make([]byte, len(s)*8)
	for i := range s {
		buf[i*8] = byte(s[i])
		buf[i*8+1] = byte(s[i] >> 8)
		buf[i*8+2] = byte(s[i] >> 16)
		buf[i*8+3] = byte(s[i] >> 24)
		buf[i*8+4] = byte(s[i] >> 32)
		buf[i*8+5] = byte(s[i] >> 40)
		buf[i*8+6] = byte(s[i] >> 48)
		buf[i*8+7] = byte(s[i] >> 56)
	}
	return buf
}
