// Package defs holds the types and constants shared across every kernel
// package: the closed error enum, process/thread identifiers, device major
// numbers, and the open-flags bitset. Nothing here may import another
// kernel package, so that every other package can depend on defs without
// cycles.
package defs

// Err_t is a small negative errno-style error code, xv6/POSIX flavored.
// Zero means success. Handlers return (value, Err_t) or just Err_t the way
// the teacher's vm/fd packages do throughout.
type Err_t int

// Pid_t identifies a process slot; Tid_t identifies the kernel thread
// (goroutine) currently running that slot's private state.
type Pid_t int
type Tid_t int

// Closed error enum (spec.md §7). Values are arbitrary negative integers;
// only uniqueness and the zero-means-ok convention matter.
const (
	EOK Err_t = 0

	ENoFreeProc Err_t = -(iota + 1)
	ENoFreePage
	ENoChildProcess
	EProcessNotFound
	EBadAddress
	EFileDescriptorNotFound
	EFileDescriptorNotReadable
	EFileDescriptorNotWritable
	EPathTooLong
	EInvalidFilename
	ENonDirectoryPathComponent
	EFsEntryNotFound
	EDirectoryNotEmpty
	EWriteOffsetTooLarge
	EUnlinkRootDir
	EUnlinkDots
	ECreateRootDir
	ECreateAlreadyExists
	ELinkRootDir
	ELinkCrossDevices
	ELinkToNonDirectory
	ELinkAlreadyExists
	EStatOnNonFsEntry
	EBrokenPipe
	EFileTooLarge
	ENoFreeFileTableEntry
	ENoFreeFileDescriptorTableEntry
	ENoFreeInodeTableEntry
	ECorruptedInodeType
	EStorageOutOfBlocks
	EStorageOutOfInodes
	EOpenDirAsWritable
	EChdirNotDir
	EArgumentListTooLarge
	EInvalidExecutable
	ESyscallDecode
	ECallerProcessAlreadyKilled
)

// Device major numbers and Mkdev/Unmkdev live in device.go (carried from
// the teacher's defs/device.go, D_LAST extended to cover D_PROF).

// OpenFlags is the bitset accepted by the open(2) syscall (spec.md §6).
type OpenFlags int

const (
	O_RDONLY OpenFlags = 0
	O_WRONLY OpenFlags = 1
	O_RDWR   OpenFlags = 2
	O_CREATE OpenFlags = 0x200
	O_TRUNC  OpenFlags = 0x400
)

// Syscall numbers (spec.md §6).
const (
	SYS_FORK = iota + 1
	SYS_EXIT
	SYS_WAIT
	SYS_PIPE
	SYS_READ
	SYS_KILL
	SYS_EXEC
	SYS_FSTAT
	SYS_CHDIR
	SYS_DUP
	SYS_GETPID
	SYS_SBRK
	SYS_SLEEP
	SYS_OPEN
	SYS_WRITE
	SYS_MKNOD
	SYS_UNLINK
	SYS_LINK
	SYS_MKDIR
	SYS_CLOSE
	SYS_REBOOT
	SYS_HALT
	SYS_ABORT
)

// FileType enumerates on-disk inode / Stat_t kinds.
type FileType int16

const (
	T_UNUSED FileType = 0
	T_DIR    FileType = 1
	T_FILE   FileType = 2
	T_DEVICE FileType = 3
)

// Compile-time process-table and exec parameters (spec.md §3, §4.4-§4.5),
// kept alongside the other fixed kernel parameters rather than in a
// separate param package -- there are only a handful and every consumer
// already depends on defs.
const (
	// NPROC bounds the number of simultaneously live process slots.
	NPROC = 64
	// MAXARG bounds the number of argv entries exec() accepts.
	MAXARG = 32
)
